package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/notemirror/internal/mirror"
)

// Logger matches the mirror package's logging surface.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// ProgressHub fans engine progress events out to websocket
// subscribers. Slow subscribers drop events rather than stall a pass.
type ProgressHub struct {
	mu          sync.Mutex
	subscribers map[chan mirror.ProgressEvent]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subscribers: map[chan mirror.ProgressEvent]struct{}{}}
}

func (h *ProgressHub) Publish(event mirror.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *ProgressHub) Subscribe() (<-chan mirror.ProgressEvent, func()) {
	ch := make(chan mirror.ProgressEvent, 64)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Server exposes the mirror's status surface: a JSON snapshot, a
// manual sync trigger, and a websocket progress stream.
type Server struct {
	engine *mirror.Engine
	hub    *ProgressHub
	logger Logger
}

func NewServer(engine *mirror.Engine, hub *ProgressHub, logger Logger) *Server {
	if logger == nil {
		logger = nopLogger{}
	}
	if hub == nil {
		hub = NewProgressHub()
	}
	return &Server{engine: engine, hub: hub, logger: logger}
}

func (s *Server) Hub() *ProgressHub {
	return s.hub
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.Status())
	case r.URL.Path == "/v1/sync" && r.Method == http.MethodPost:
		s.handleTriggerSync(w, r)
	case r.URL.Path == "/v1/progress" && r.Method == http.MethodGet:
		s.handleProgressStream(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, _ *http.Request) {
	if s.engine.Status().Running {
		writeError(w, http.StatusConflict, "sync_in_progress", "a sync pass is already running")
		return
	}
	go func() {
		report, err := s.engine.RunPass(context.Background())
		if err != nil {
			if errors.Is(err, mirror.ErrSyncInProgress) {
				return
			}
			s.logger.Printf("httpapi: triggered sync failed: %v", err)
			return
		}
		s.logger.Printf("httpapi: triggered sync finished: created=%d updated=%d moved=%d deleted=%d skipped=%d failed=%d",
			report.Created, report.Updated, report.Moved, report.Deleted, report.Skipped, report.Failed)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("httpapi: websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	events, cancel := s.hub.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-events:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
