package mirror

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// SyncRecord tracks one previously-synced node: where its document
// lives locally and which remote revision that document reflects.
type SyncRecord struct {
	NodeID             string `json:"nodeId"`
	LocalPath          string `json:"localPath"`
	LastSyncedRevision string `json:"lastSyncedRevision"`
}

// AssetRecord tracks one downloaded binary, keyed in the store by its
// remote source locator.
type AssetRecord struct {
	SourceID    string `json:"sourceId"`
	LocalPath   string `json:"localPath"`
	ContentHash string `json:"contentHash"`
}

type persistedState struct {
	LastSyncTimestamp string                 `json:"lastSyncTimestamp,omitempty"`
	SyncedPages       map[string]SyncRecord  `json:"syncedPages"`
	SyncedAssets      map[string]AssetRecord `json:"syncedAssets"`
}

func newPersistedState() *persistedState {
	return &persistedState{
		SyncedPages:  map[string]SyncRecord{},
		SyncedAssets: map[string]AssetRecord{},
	}
}

func (s *persistedState) normalize() {
	if s.SyncedPages == nil {
		s.SyncedPages = map[string]SyncRecord{}
	}
	if s.SyncedAssets == nil {
		s.SyncedAssets = map[string]AssetRecord{}
	}
}

// StateBackend loads and persists the sync state snapshot. Load
// returning (nil, nil) means no prior state exists.
type StateBackend interface {
	Load() (*persistedState, error)
	Save(state *persistedState) error
}

// StateSummary is the read-only view of a persisted snapshot used by
// status reporting.
type StateSummary struct {
	LastSyncTimestamp string
	SyncedPages       int
	SyncedAssets      int
}

// InspectState summarizes whatever the backend currently holds without
// mutating it. A backend with no prior state yields a zero summary.
func InspectState(backend StateBackend) (StateSummary, error) {
	state, err := backend.Load()
	if err != nil {
		return StateSummary{}, err
	}
	if state == nil {
		return StateSummary{}, nil
	}
	return StateSummary{
		LastSyncTimestamp: state.LastSyncTimestamp,
		SyncedPages:       len(state.SyncedPages),
		SyncedAssets:      len(state.SyncedAssets),
	}, nil
}

type JSONFileStateBackend struct {
	path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{path: path}
}

func (b *JSONFileStateBackend) Load() (*persistedState, error) {
	if b == nil || b.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	state.normalize()
	return &state, nil
}

func (b *JSONFileStateBackend) Save(state *persistedState) error {
	if b == nil || b.path == "" || state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(b.path, data, 0o644)
}

type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot *persistedState
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*persistedState, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return cloneState(b.snapshot)
}

func (b *InMemoryStateBackend) Save(state *persistedState) error {
	if b == nil || state == nil {
		return nil
	}
	clone, err := cloneState(state)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = clone
	return nil
}

func cloneState(state *persistedState) (*persistedState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var clone persistedState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	clone.normalize()
	return &clone, nil
}
