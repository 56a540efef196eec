package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/notemirror/internal/config"
	"github.com/agentworkforce/notemirror/internal/mirror"
	"github.com/agentworkforce/notemirror/internal/notion"
)

type stubRemote struct{}

func (stubRemote) ListNodes(context.Context) ([]notion.Node, error)          { return nil, nil }
func (stubRemote) BlockTree(context.Context, string) ([]notion.Block, error) { return nil, nil }
func (stubRemote) ListProperties(context.Context, string) ([]notion.Property, error) {
	return nil, nil
}
func (stubRemote) Download(context.Context, string) ([]byte, error) { return nil, nil }

func newTestEngine(t *testing.T) *mirror.Engine {
	t.Helper()
	fs, err := mirror.NewOSFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	engine, err := mirror.NewEngine(mirror.EngineOptions{
		Client:   stubRemote{},
		Files:    fs,
		Backend:  mirror.NewInMemoryStateBackend(),
		Settings: mirror.SyncSettings{Secret: "tok"},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return engine
}

func writeSettings(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{SettingsPath: "x.json"}); err == nil {
		t.Fatalf("missing engine should fail")
	}
	if _, err := New(Options{Engine: newTestEngine(t)}); err == nil {
		t.Fatalf("missing settings path should fail")
	}
	d, err := New(Options{Engine: newTestEngine(t), SettingsPath: "x.json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d.currentInterval() != time.Hour {
		t.Fatalf("default interval = %s", d.currentInterval())
	}
}

func TestIsSettingsEvent(t *testing.T) {
	d, err := New(Options{Engine: newTestEngine(t), SettingsPath: "/etc/notemirror/settings.json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !d.isSettingsEvent(fsnotify.Event{Name: "/etc/notemirror/settings.json", Op: fsnotify.Write}) {
		t.Fatalf("write to settings file should match")
	}
	if d.isSettingsEvent(fsnotify.Event{Name: "/etc/notemirror/other.json", Op: fsnotify.Write}) {
		t.Fatalf("sibling file should not match")
	}
	if d.isSettingsEvent(fsnotify.Event{Name: "/etc/notemirror/settings.json", Op: fsnotify.Chmod}) {
		t.Fatalf("chmod alone should not trigger a reload")
	}
}

func TestReloadSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	writeSettings(t, path, `{"secret": "tok", "syncIntervalMinutes": 5}`)

	var reloaded *config.Settings
	d, err := New(Options{
		Engine:       newTestEngine(t),
		SettingsPath: path,
		Interval:     time.Hour,
		OnReload:     func(s *config.Settings) { reloaded = s },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !d.reloadSettings() {
		t.Fatalf("valid settings should reload")
	}
	if reloaded == nil || reloaded.SyncIntervalMinutes != 5 {
		t.Fatalf("reload callback not invoked with parsed settings: %+v", reloaded)
	}
	if d.currentInterval() != 5*time.Minute {
		t.Fatalf("interval not updated: %s", d.currentInterval())
	}

	// A broken edit keeps the previous settings and interval.
	writeSettings(t, path, `{"secret": `)
	if d.reloadSettings() {
		t.Fatalf("invalid settings should not reload")
	}
	if d.currentInterval() != 5*time.Minute {
		t.Fatalf("interval changed after failed reload: %s", d.currentInterval())
	}
}

func TestRunSyncsAndHotReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	writeSettings(t, path, `{"secret": "tok", "syncIntervalMinutes": 60}`)

	engine := newTestEngine(t)
	reloads := make(chan *config.Settings, 4)
	d, err := New(Options{
		Engine:       engine,
		SettingsPath: path,
		Interval:     time.Hour,
		OnReload:     func(s *config.Settings) { reloads <- s },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// The startup pass runs immediately.
	deadline := time.Now().Add(3 * time.Second)
	for engine.Status().LastSyncTimestamp == "" {
		if time.Now().After(deadline) {
			t.Fatalf("startup pass never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Editing the settings file triggers a reload.
	writeSettings(t, path, `{"secret": "tok", "syncIntervalMinutes": 7}`)
	select {
	case settings := <-reloads:
		if settings.SyncIntervalMinutes != 7 {
			t.Fatalf("reloaded interval = %d", settings.SyncIntervalMinutes)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("settings edit never reloaded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}
