package mirror

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/notemirror/internal/notion"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNoCredential   = errors.New("no credential configured")
)

// RemoteClient is everything the engine needs from the remote content
// provider.
type RemoteClient interface {
	ListNodes(ctx context.Context) ([]notion.Node, error)
	BlockTree(ctx context.Context, nodeID string) ([]notion.Block, error)
	ListProperties(ctx context.Context, nodeID string) ([]notion.Property, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// SyncSettings is the declarative slice of configuration the engine
// reads. It can be swapped between passes (settings hot-reload) but
// never mid-pass: RunPass snapshots it once at entry.
type SyncSettings struct {
	Secret            string
	RootFolder        string
	AssetFolder       string
	FilteredIDs       []string
	AutoDeleteMissing bool
}

// ProgressEvent is one observable step of a sync pass.
type ProgressEvent struct {
	Phase     string    `json:"phase"`
	NodeID    string    `json:"nodeId,omitempty"`
	Path      string    `json:"path,omitempty"`
	Action    string    `json:"action,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ProgressFunc func(event ProgressEvent)

// PassReport summarizes one reconciliation pass.
type PassReport struct {
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Created       int       `json:"created"`
	Updated       int       `json:"updated"`
	Moved         int       `json:"moved"`
	Deleted       int       `json:"deleted"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	AssetsRemoved int       `json:"assetsRemoved"`
	Conflicts     []string  `json:"conflicts,omitempty"`
	Anomalies     []string  `json:"anomalies,omitempty"`
}

// StatusSnapshot is the engine's externally visible state.
type StatusSnapshot struct {
	Running           bool        `json:"running"`
	LastSyncTimestamp string      `json:"lastSyncTimestamp,omitempty"`
	SyncedPages       int         `json:"syncedPages"`
	SyncedAssets      int         `json:"syncedAssets"`
	LastReport        *PassReport `json:"lastReport,omitempty"`
}

type EngineOptions struct {
	Client   RemoteClient
	Files    FileStore
	Backend  StateBackend
	Settings SyncSettings
	Logger   Logger
	Progress ProgressFunc
	Now      func() time.Time
}

// Engine drives full reconciliation passes: deletions first, then
// moves, then materialization, persisting state at each checkpoint so
// a crash mid-pass leaves the store consistent with disk up to the
// last completed step.
type Engine struct {
	client   RemoteClient
	fs       FileStore
	backend  StateBackend
	logger   Logger
	progress ProgressFunc
	now      func() time.Time

	mu         sync.Mutex
	settings   SyncSettings
	lastReport *PassReport
	lastSync   string
	pageCount  int
	assetCount int
	running    bool

	passMu sync.Mutex
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if opts.Files == nil {
		return nil, fmt.Errorf("file store is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("state backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		client:   opts.Client,
		fs:       opts.Files,
		backend:  opts.Backend,
		logger:   logger,
		progress: opts.Progress,
		now:      now,
		settings: opts.Settings,
	}, nil
}

// UpdateSettings swaps the settings used by subsequent passes.
func (e *Engine) UpdateSettings(settings SyncSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = settings
}

func (e *Engine) Status() StatusSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return StatusSnapshot{
		Running:           e.running,
		LastSyncTimestamp: e.lastSync,
		SyncedPages:       e.pageCount,
		SyncedAssets:      e.assetCount,
		LastReport:        e.lastReport,
	}
}

// RunPass executes one full reconciliation pass. A pass entering while
// another is in flight returns ErrSyncInProgress without touching
// anything; a top-level listing failure aborts before any mutation.
func (e *Engine) RunPass(ctx context.Context) (*PassReport, error) {
	if !e.passMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.passMu.Unlock()

	settings := e.snapshotSettings()
	if strings.TrimSpace(settings.Secret) == "" {
		return nil, ErrNoCredential
	}

	e.setRunning(true)
	defer e.setRunning(false)

	state, err := e.backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		state = newPersistedState()
	}
	state.normalize()

	report := &PassReport{StartedAt: e.now()}
	e.emit(ProgressEvent{Phase: "fetching", Timestamp: e.now()})
	nodes, err := e.client.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	excluded := NewExclusionSet(settings.FilteredIDs)
	graph := BuildGraph(nodes, excluded, e.logger)
	resolver := NewPathResolver(graph, settings.RootFolder, e.logger)
	assets := NewAssetManager(e.client, e.fs, settings.AssetFolder, state.SyncedAssets, e.logger)
	renderer := NewRenderer(assets, e.logger)

	e.emit(ProgressEvent{Phase: "deleting", Timestamp: e.now()})
	e.applyDeletions(graph, excluded, settings, state, report)
	report.AssetsRemoved += assets.CollectOrphans(state.SyncedPages)
	e.checkpoint(state)

	e.emit(ProgressEvent{Phase: "moving", Timestamp: e.now()})
	e.applyMoves(graph, resolver, state, report)
	e.checkpoint(state)

	e.emit(ProgressEvent{Phase: "materializing", Timestamp: e.now()})
	e.materialize(ctx, graph, resolver, renderer, state, report)

	state.LastSyncTimestamp = e.now().UTC().Format(time.RFC3339)
	e.checkpoint(state)
	report.FinishedAt = e.now()
	e.emit(ProgressEvent{Phase: "persisted", Timestamp: e.now()})

	e.mu.Lock()
	e.lastReport = report
	e.lastSync = state.LastSyncTimestamp
	e.pageCount = len(state.SyncedPages)
	e.assetCount = len(state.SyncedAssets)
	e.mu.Unlock()
	return report, nil
}

func (e *Engine) snapshotSettings() SyncSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	settings := e.settings
	settings.FilteredIDs = append([]string(nil), e.settings.FilteredIDs...)
	return settings
}

func (e *Engine) setRunning(running bool) {
	e.mu.Lock()
	e.running = running
	e.mu.Unlock()
}

func (e *Engine) emit(event ProgressEvent) {
	if e.progress == nil {
		return
	}
	e.progress(event)
}

func (e *Engine) checkpoint(state *persistedState) {
	if err := e.backend.Save(state); err != nil {
		e.logger.Printf("engine: state checkpoint failed: %v", err)
	}
}

// applyDeletions removes records (and their files) for nodes that are
// gone remotely or excluded by filter. With AutoDeleteMissing off only
// filtered nodes are removed; missing ones are kept and logged.
func (e *Engine) applyDeletions(graph *Graph, excluded *ExclusionSet, settings SyncSettings, state *persistedState, report *PassReport) {
	staleIDs := make([]string, 0)
	for id := range state.SyncedPages {
		filtered := excluded.Contains(id)
		missing := !graph.Contains(id)
		if !filtered && !missing {
			continue
		}
		if missing && !filtered && !settings.AutoDeleteMissing {
			e.logger.Printf("engine: node %s missing remotely; auto-delete disabled, keeping %s", id, state.SyncedPages[id].LocalPath)
			continue
		}
		staleIDs = append(staleIDs, id)
	}
	sort.Strings(staleIDs)

	var removedPaths []string
	for _, id := range staleIDs {
		rec := state.SyncedPages[id]
		if strings.HasSuffix(rec.LocalPath, DocumentExtension) {
			if err := e.fs.Delete(rec.LocalPath); err != nil {
				e.logger.Printf("engine: delete failed for %s: %v", rec.LocalPath, err)
				report.Failed++
				continue
			}
		} else if e.fs.Exists(rec.LocalPath) {
			if entries, err := e.fs.List(rec.LocalPath); err == nil && len(entries) == 0 {
				if err := e.fs.DeleteFolder(rec.LocalPath); err != nil {
					e.logger.Printf("engine: folder delete failed for %s: %v", rec.LocalPath, err)
				}
			} else {
				e.logger.Printf("engine: folder %s not empty; leaving contents for later passes", rec.LocalPath)
			}
		}
		delete(state.SyncedPages, id)
		removedPaths = append(removedPaths, rec.LocalPath)
		report.Deleted++
		e.emit(ProgressEvent{Phase: "deleting", NodeID: id, Path: rec.LocalPath, Action: "deleted", Timestamp: e.now()})
	}
	e.cleanupEmptyFolders(removedPaths, state)
}

// cleanupEmptyFolders walks upward from each removed or vacated path
// and deletes folders the sync created that are now empty, deepest
// first. A vacated folder path is a candidate itself, not just its
// parents, so a moved empty container does not leave its old directory
// behind. A folder still named by a remaining record is never touched.
func (e *Engine) cleanupEmptyFolders(removedPaths []string, state *persistedState) {
	recorded := make(map[string]struct{}, len(state.SyncedPages))
	for _, rec := range state.SyncedPages {
		recorded[rec.LocalPath] = struct{}{}
	}
	for _, removed := range removedPaths {
		dir := removed
		if strings.HasSuffix(removed, DocumentExtension) {
			dir = parentFolder(removed)
		}
		for ; dir != ""; dir = parentFolder(dir) {
			if _, keep := recorded[dir]; keep {
				break
			}
			if !e.fs.Exists(dir) {
				continue
			}
			entries, err := e.fs.List(dir)
			if err != nil || len(entries) > 0 {
				break
			}
			if err := e.fs.DeleteFolder(dir); err != nil {
				e.logger.Printf("engine: empty folder cleanup failed for %s: %v", dir, err)
				break
			}
		}
	}
}

// applyMoves recomputes every remaining record's path against the
// current graph and renames files whose canonical location changed.
func (e *Engine) applyMoves(graph *Graph, resolver *PathResolver, state *persistedState, report *PassReport) {
	ids := make([]string, 0, len(state.SyncedPages))
	for id := range state.SyncedPages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var vacatedPaths []string
	for _, id := range ids {
		rec := state.SyncedPages[id]
		node, ok := graph.Node(id)
		if !ok {
			continue
		}
		newPath := resolver.Resolve(node)
		if newPath == rec.LocalPath {
			continue
		}
		if IsFolderNode(node) {
			if err := e.fs.MkdirAll(newPath); err != nil {
				e.logger.Printf("engine: folder create failed for %s: %v", newPath, err)
				report.Failed++
				continue
			}
			vacatedPaths = append(vacatedPaths, rec.LocalPath)
			rec.LocalPath = newPath
			state.SyncedPages[id] = rec
			report.Moved++
			e.emit(ProgressEvent{Phase: "moving", NodeID: id, Path: newPath, Action: "moved", Timestamp: e.now()})
			continue
		}
		if e.fs.Exists(newPath) {
			conflict := fmt.Sprintf("move target %s already exists (node %s)", newPath, id)
			report.Conflicts = append(report.Conflicts, conflict)
			e.logger.Printf("engine: %s", conflict)
			continue
		}
		if e.fs.Exists(rec.LocalPath) {
			if err := e.fs.Rename(rec.LocalPath, newPath); err != nil {
				e.logger.Printf("engine: move failed %s -> %s: %v", rec.LocalPath, newPath, err)
				report.Failed++
				continue
			}
		} else {
			anomaly := fmt.Sprintf("recorded file %s missing during move of node %s", rec.LocalPath, id)
			report.Anomalies = append(report.Anomalies, anomaly)
			e.logger.Printf("engine: %s", anomaly)
		}
		vacatedPaths = append(vacatedPaths, rec.LocalPath)
		rec.LocalPath = newPath
		state.SyncedPages[id] = rec
		report.Moved++
		e.emit(ProgressEvent{Phase: "moving", NodeID: id, Path: newPath, Action: "moved", Timestamp: e.now()})
	}
	e.cleanupEmptyFolders(vacatedPaths, state)
}

// materialize walks the graph from its roots and writes every node
// whose revision changed or which has never been synced. Two distinct
// nodes resolving to the same path are a reported conflict; the first
// one wins and the second is skipped.
func (e *Engine) materialize(ctx context.Context, graph *Graph, resolver *PathResolver, renderer *Renderer, state *persistedState, report *PassReport) {
	claimed := map[string]string{}
	var walk func(node notion.Node)
	walk = func(node notion.Node) {
		e.materializeNode(ctx, node, resolver, renderer, state, report, claimed)
		for _, child := range graph.Children(node.ID) {
			walk(child)
		}
	}
	for _, root := range graph.Roots() {
		walk(root)
	}
	// Children of dangling parents are reachable from no root; render
	// them anyway at their truncated paths rather than dropping them.
	for _, orphan := range danglingNodes(graph) {
		walk(orphan)
	}
}

func danglingNodes(graph *Graph) []notion.Node {
	var orphans []notion.Node
	for parentID, children := range graph.children {
		if graph.Contains(parentID) {
			continue
		}
		orphans = append(orphans, children...)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID < orphans[j].ID })
	return orphans
}

func (e *Engine) materializeNode(ctx context.Context, node notion.Node, resolver *PathResolver, renderer *Renderer, state *persistedState, report *PassReport, claimed map[string]string) {
	path := resolver.Resolve(node)
	if otherID, dup := claimed[path]; dup {
		conflict := fmt.Sprintf("path %s claimed by both %s and %s", path, otherID, node.ID)
		report.Conflicts = append(report.Conflicts, conflict)
		e.logger.Printf("engine: %s", conflict)
		return
	}
	claimed[path] = node.ID

	rec, exists := state.SyncedPages[node.ID]
	if IsFolderNode(node) {
		if err := e.fs.MkdirAll(path); err != nil {
			e.logger.Printf("engine: folder create failed for %s: %v", path, err)
			report.Failed++
			return
		}
		if exists && rec.LocalPath == path && rec.LastSyncedRevision == node.Revision {
			report.Skipped++
			return
		}
		state.SyncedPages[node.ID] = SyncRecord{NodeID: node.ID, LocalPath: path, LastSyncedRevision: node.Revision}
		if exists {
			report.Updated++
		} else {
			report.Created++
		}
		e.checkpoint(state)
		return
	}

	if exists && rec.LocalPath == path && rec.LastSyncedRevision == node.Revision && e.fs.Exists(path) {
		report.Skipped++
		return
	}

	syncedAt := e.now()
	var document string
	blocks, blocksErr := e.client.BlockTree(ctx, node.ID)
	props, propsErr := e.client.ListProperties(ctx, node.ID)
	if blocksErr != nil || propsErr != nil {
		fetchErr := blocksErr
		if fetchErr == nil {
			fetchErr = propsErr
		}
		anomaly := fmt.Sprintf("content fetch failed for %s (%q): %v", node.ID, node.Title, fetchErr)
		report.Anomalies = append(report.Anomalies, anomaly)
		e.logger.Printf("engine: %s; writing stub document", anomaly)
		document = renderer.RenderStub(node, syncedAt)
	} else {
		document = renderer.Render(ctx, node, blocks, props, syncedAt)
	}

	if err := e.fs.WriteText(path, document); err != nil {
		e.logger.Printf("engine: write failed for %s: %v", path, err)
		report.Failed++
		return
	}
	state.SyncedPages[node.ID] = SyncRecord{NodeID: node.ID, LocalPath: path, LastSyncedRevision: node.Revision}
	action := "updated"
	if exists {
		report.Updated++
	} else {
		report.Created++
		action = "created"
	}
	e.emit(ProgressEvent{Phase: "materializing", NodeID: node.ID, Path: path, Action: action, Timestamp: e.now()})
	e.checkpoint(state)
}
