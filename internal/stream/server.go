// Package stream serves the results timelines of running simulations over
// HTTP and WebSocket so progress can be watched while a backtest runs.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/timeline"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"go.uber.org/zap"
)

// LatestRun addresses the most recently registered run.
const LatestRun = "latest"

// subscriptionBuffer is the number of entries a WebSocket client may lag
// before it falls back to re-reading the timeline.
const subscriptionBuffer = 64

// RunInfo describes a registered run.
type RunInfo struct {
	ID      string `json:"id"`
	Entries int    `json:"entries"`
	Closed  bool   `json:"closed"`
}

// TimelineResponse is the body of the timeline endpoint.
type TimelineResponse struct {
	RunID   string               `json:"run_id"`
	Closed  bool                 `json:"closed"`
	Entries []types.ResultsEntry `json:"entries"`
}

// Server publishes registered timelines.
type Server struct {
	mu     sync.RWMutex
	runs   map[string]*timeline.Timeline
	order  []string
	latest string

	log      *logger.Logger
	upgrader websocket.Upgrader
	router   *mux.Router

	httpServer *http.Server
	listener   net.Listener

	connMu sync.Mutex
	conns  map[*websocket.Conn]bool
}

func NewServer(log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Server{
		runs: make(map[string]*timeline.Timeline),
		log:  log.Named("stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]bool),
	}

	router := mux.NewRouter()
	router.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/timeline", s.handleTimeline).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/ws", s.handleWebSocket)
	s.router = router

	return s
}

// Register publishes the timeline of a run. It matches the engine's
// OnTimeline callback.
func (s *Server) Register(runID string, tl *timeline.Timeline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		s.order = append(s.order, runID)
	}

	s.runs[runID] = tl
	s.latest = runID

	s.log.Debug("Timeline registered", zap.String("run_id", runID))
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on address and serves in the background.
// If address is empty or ":0", a random available port is used.
func (s *Server) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("Stream server stopped", zap.Error(err))
		}
	}()

	s.log.Info("Stream server listening", zap.String("address", listener.Addr().String()))

	return nil
}

// Stop closes every WebSocket connection and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.connMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}

	s.conns = make(map[*websocket.Conn]bool)
	s.connMu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Address returns the address the server is listening on.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

func (s *Server) lookup(id string) (string, *timeline.Timeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == LatestRun {
		id = s.latest
	}

	tl, ok := s.runs[id]

	return id, tl, ok
}

func (s *Server) handleRuns(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	runs := make([]RunInfo, 0, len(s.order))

	for _, id := range s.order {
		tl := s.runs[id]
		runs = append(runs, RunInfo{ID: id, Entries: tl.Len(), Closed: tl.Closed()})
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, tl, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)

		return
	}

	since := 0

	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)

			return
		}

		since = parsed
	}

	// read closed first so a closed response never misses entries
	closed := tl.Closed()

	writeJSON(w, http.StatusOK, TimelineResponse{
		RunID:   id,
		Closed:  closed,
		Entries: tl.Since(since),
	})
}

// handleWebSocket sends every entry of the run, backlog first, and closes
// the connection once the timeline is closed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, tl, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))

		return
	}

	s.connMu.Lock()
	s.conns[conn] = true
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	// subscribe before reading the backlog so nothing appended in between is lost
	updates, cancel := tl.Subscribe(subscriptionBuffer)
	defer cancel()

	next := 0

	send := func(entries []types.ResultsEntry) error {
		for _, entry := range entries {
			if entry.Cycle < next {
				continue
			}

			if err := conn.WriteJSON(entry); err != nil {
				return err
			}

			next = entry.Cycle + 1
		}

		return nil
	}

	if err := send(tl.Since(0)); err != nil {
		return
	}

	for entry := range updates {
		entries := []types.ResultsEntry{entry}
		if entry.Cycle > next {
			// dropped entries are re-read from the timeline
			entries = tl.Since(next)
		}

		if err := send(entries); err != nil {
			s.log.Debug("WebSocket client gone", zap.String("run_id", id), zap.Error(err))

			return
		}
	}

	// entries appended after the last delivered update
	if err := send(tl.Since(next)); err != nil {
		return
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "timeline closed"),
		time.Now().Add(time.Second))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
