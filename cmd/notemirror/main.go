package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentworkforce/notemirror/internal/config"
	"github.com/agentworkforce/notemirror/internal/daemon"
	"github.com/agentworkforce/notemirror/internal/httpapi"
	"github.com/agentworkforce/notemirror/internal/mirror"
	"github.com/agentworkforce/notemirror/internal/notion"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "notemirror",
		Short:         "Mirror a Notion workspace into a local Markdown tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "notemirror.json", "path to the settings file")
	root.AddCommand(newSyncCommand(&configPath))
	root.AddCommand(newDaemonCommand(&configPath))
	root.AddCommand(newStatusCommand(&configPath))
	return root
}

func newSyncCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single reconciliation pass and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			logger := newLogger(os.Stderr)
			engine, _, err := buildEngine(settings, logger, nil)
			if err != nil {
				return err
			}
			report, err := engine.RunPass(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func newDaemonCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Sync on an interval, watch the settings file, and serve the status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			logger := newLogger(logWriter(settings))

			hub := httpapi.NewProgressHub()
			engine, _, err := buildEngine(settings, logger, hub.Publish)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			api := httpapi.NewServer(engine, hub, logger)
			httpServer := &http.Server{Addr: settings.ListenAddr, Handler: api}
			go func() {
				logger.Printf("notemirror: status API listening on %s", settings.ListenAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Printf("notemirror: status API failed: %v", err)
				}
			}()

			loop, err := daemon.New(daemon.Options{
				Engine:       engine,
				SettingsPath: *configPath,
				Interval:     time.Duration(settings.SyncIntervalMinutes) * time.Minute,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			runErr := loop.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Printf("notemirror: status API shutdown: %v", err)
			}
			return runErr
		},
	}
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print what the local mirror currently tracks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			backend, err := mirror.BuildStateBackendFromDSN(settings.StateDSN)
			if err != nil {
				return fmt.Errorf("open state backend: %w", err)
			}
			snapshot, err := mirror.InspectState(backend)
			if err != nil {
				return fmt.Errorf("read state: %w", err)
			}
			out := cmd.OutOrStdout()
			if snapshot.LastSyncTimestamp == "" {
				fmt.Fprintln(out, "last sync:    never")
			} else {
				fmt.Fprintf(out, "last sync:    %s\n", snapshot.LastSyncTimestamp)
			}
			fmt.Fprintf(out, "synced pages: %d\n", snapshot.SyncedPages)
			fmt.Fprintf(out, "synced assets: %d\n", snapshot.SyncedAssets)
			return nil
		},
	}
}

func buildEngine(settings *config.Settings, logger mirror.Logger, progress mirror.ProgressFunc) (*mirror.Engine, mirror.StateBackend, error) {
	client := notion.NewClient(notion.ClientOptions{Token: settings.Secret})
	files, err := mirror.NewOSFileStore(settings.VaultPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open vault %s: %w", settings.VaultPath, err)
	}
	backend, err := mirror.BuildStateBackendFromDSN(settings.StateDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open state backend: %w", err)
	}
	engine, err := mirror.NewEngine(mirror.EngineOptions{
		Client:  client,
		Files:   files,
		Backend: backend,
		Settings: mirror.SyncSettings{
			Secret:            settings.Secret,
			RootFolder:        settings.RootFolderPath,
			AssetFolder:       settings.AssetFolderPath,
			FilteredIDs:       settings.FilteredIDs,
			AutoDeleteMissing: settings.AutoDeleteMissingPages,
		},
		Logger:   logger,
		Progress: progress,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, backend, nil
}

func printReport(out io.Writer, report *mirror.PassReport) {
	fmt.Fprintf(out, "created:  %d\n", report.Created)
	fmt.Fprintf(out, "updated:  %d\n", report.Updated)
	fmt.Fprintf(out, "moved:    %d\n", report.Moved)
	fmt.Fprintf(out, "deleted:  %d\n", report.Deleted)
	fmt.Fprintf(out, "skipped:  %d\n", report.Skipped)
	fmt.Fprintf(out, "failed:   %d\n", report.Failed)
	fmt.Fprintf(out, "assets removed: %d\n", report.AssetsRemoved)
	for _, conflict := range report.Conflicts {
		fmt.Fprintf(out, "conflict: %s\n", conflict)
	}
	for _, anomaly := range report.Anomalies {
		fmt.Fprintf(out, "anomaly:  %s\n", anomaly)
	}
	fmt.Fprintf(out, "took %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
}

func newLogger(w io.Writer) *log.Logger {
	return log.New(w, "", log.LstdFlags)
}

// logWriter rotates the daemon log when a log file is configured and
// falls back to stderr otherwise.
func logWriter(settings *config.Settings) io.Writer {
	if settings.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   settings.LogFile,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     28,
	}
}
