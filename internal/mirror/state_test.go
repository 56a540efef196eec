package mirror

import (
	"path/filepath"
	"testing"
)

func sampleState() *persistedState {
	state := newPersistedState()
	state.LastSyncTimestamp = "2026-01-02T03:04:05Z"
	state.SyncedPages["n1"] = SyncRecord{NodeID: "n1", LocalPath: "Root/Page.md", LastSyncedRevision: "rev-1"}
	state.SyncedAssets["https://cdn.example.com/a.png"] = AssetRecord{
		SourceID:    "https://cdn.example.com/a.png",
		LocalPath:   "assets/a-1.png",
		ContentHash: "5:6162636465",
	}
	return state
}

func TestJSONFileStateBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	backend := NewJSONFileStateBackend(path)

	empty, err := backend.Load()
	if err != nil {
		t.Fatalf("load before save: %v", err)
	}
	if empty != nil {
		t.Fatalf("missing file should load as nil state, got %+v", empty)
	}

	if err := backend.Save(sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LastSyncTimestamp != "2026-01-02T03:04:05Z" {
		t.Fatalf("timestamp lost: %q", loaded.LastSyncTimestamp)
	}
	rec, ok := loaded.SyncedPages["n1"]
	if !ok || rec.LocalPath != "Root/Page.md" || rec.LastSyncedRevision != "rev-1" {
		t.Fatalf("page record mismatch: %+v", rec)
	}
	if len(loaded.SyncedAssets) != 1 {
		t.Fatalf("asset records lost: %+v", loaded.SyncedAssets)
	}
}

func TestInMemoryStateBackendIsolatesSnapshots(t *testing.T) {
	backend := NewInMemoryStateBackend()
	state := sampleState()
	if err := backend.Save(state); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the saved state after Save must not leak into the store.
	state.SyncedPages["n2"] = SyncRecord{NodeID: "n2", LocalPath: "Other.md"}

	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.SyncedPages) != 1 {
		t.Fatalf("snapshot not isolated: %+v", loaded.SyncedPages)
	}

	// And mutating a loaded snapshot must not change the next load.
	loaded.SyncedPages["n3"] = SyncRecord{NodeID: "n3"}
	reloaded, err := backend.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.SyncedPages) != 1 {
		t.Fatalf("loaded snapshot aliased the store: %+v", reloaded.SyncedPages)
	}
}

func TestInspectState(t *testing.T) {
	backend := NewInMemoryStateBackend()
	summary, err := InspectState(backend)
	if err != nil {
		t.Fatalf("inspect empty: %v", err)
	}
	if summary.SyncedPages != 0 || summary.LastSyncTimestamp != "" {
		t.Fatalf("empty backend should give zero summary: %+v", summary)
	}

	if err := backend.Save(sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	summary, err = InspectState(backend)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if summary.SyncedPages != 1 || summary.SyncedAssets != 1 || summary.LastSyncTimestamp == "" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestBuildStateBackendFromDSN(t *testing.T) {
	dir := t.TempDir()

	backend, err := BuildStateBackendFromDSN("file://" + dir + "/state.json")
	if err != nil {
		t.Fatalf("file DSN: %v", err)
	}
	if _, ok := backend.(*JSONFileStateBackend); !ok {
		t.Fatalf("file DSN gave %T", backend)
	}

	backend, err = BuildStateBackendFromDSN(filepath.Join(dir, "bare.json"))
	if err != nil {
		t.Fatalf("bare path DSN: %v", err)
	}
	if _, ok := backend.(*JSONFileStateBackend); !ok {
		t.Fatalf("bare path DSN gave %T", backend)
	}

	backend, err = BuildStateBackendFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory DSN: %v", err)
	}
	if _, ok := backend.(*InMemoryStateBackend); !ok {
		t.Fatalf("memory DSN gave %T", backend)
	}

	if _, err := BuildStateBackendFromDSN("redis://localhost"); err == nil {
		t.Fatalf("unsupported scheme should error")
	}

	backend, err = BuildStateBackendFromDSN("   ")
	if err != nil || backend != nil {
		t.Fatalf("blank DSN should give (nil, nil), got (%v, %v)", backend, err)
	}
}
