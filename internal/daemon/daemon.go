package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/notemirror/internal/config"
	"github.com/agentworkforce/notemirror/internal/mirror"
)

// Logger matches the mirror package's logging surface.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type Options struct {
	Engine       *mirror.Engine
	SettingsPath string
	Interval     time.Duration
	Logger       Logger
	// OnReload is invoked with freshly validated settings whenever the
	// settings file changes on disk.
	OnReload func(settings *config.Settings)
}

// Daemon runs periodic sync passes and hot-reloads the settings file
// so filter-list edits apply without a restart. Passes overlapping the
// timer are skipped: the engine's single-flight guard makes the second
// invocation a no-op and the daemon just logs it.
type Daemon struct {
	engine       *mirror.Engine
	settingsPath string
	logger       Logger
	onReload     func(settings *config.Settings)

	mu       sync.Mutex
	interval time.Duration
}

func New(opts Options) (*Daemon, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.SettingsPath == "" {
		return nil, fmt.Errorf("settings path is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Daemon{
		engine:       opts.Engine,
		settingsPath: filepath.Clean(opts.SettingsPath),
		logger:       logger,
		onReload:     opts.OnReload,
		interval:     interval,
	}, nil
}

// Run blocks until ctx is cancelled, firing a pass immediately and
// then on every interval tick or settings change.
func (d *Daemon) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory, not the file: editors replace files by
	// rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(d.settingsPath)); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}

	d.runPass(ctx)
	timer := time.NewTimer(d.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			d.runPass(ctx)
			timer.Reset(d.currentInterval())
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !d.isSettingsEvent(event) {
				continue
			}
			if d.reloadSettings() {
				d.runPass(ctx)
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d.currentInterval())
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Printf("daemon: settings watcher error: %v", watchErr)
		}
	}
}

func (d *Daemon) isSettingsEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != d.settingsPath {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}

func (d *Daemon) reloadSettings() bool {
	settings, err := config.Load(d.settingsPath)
	if err != nil {
		d.logger.Printf("daemon: settings reload failed, keeping previous settings: %v", err)
		return false
	}
	d.engine.UpdateSettings(mirror.SyncSettings{
		Secret:            settings.Secret,
		RootFolder:        settings.RootFolderPath,
		AssetFolder:       settings.AssetFolderPath,
		FilteredIDs:       settings.FilteredIDs,
		AutoDeleteMissing: settings.AutoDeleteMissingPages,
	})
	d.setInterval(time.Duration(settings.SyncIntervalMinutes) * time.Minute)
	if d.onReload != nil {
		d.onReload(settings)
	}
	d.logger.Printf("daemon: settings reloaded from %s", d.settingsPath)
	return true
}

func (d *Daemon) runPass(ctx context.Context) {
	report, err := d.engine.RunPass(ctx)
	if err != nil {
		if errors.Is(err, mirror.ErrSyncInProgress) {
			d.logger.Printf("daemon: sync already running; skipping this trigger")
			return
		}
		d.logger.Printf("daemon: sync pass failed: %v", err)
		return
	}
	d.logger.Printf("daemon: sync pass finished: created=%d updated=%d moved=%d deleted=%d skipped=%d failed=%d assetsRemoved=%d",
		report.Created, report.Updated, report.Moved, report.Deleted, report.Skipped, report.Failed, report.AssetsRemoved)
}

func (d *Daemon) currentInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interval
}

func (d *Daemon) setInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	d.mu.Lock()
	d.interval = interval
	d.mu.Unlock()
}
