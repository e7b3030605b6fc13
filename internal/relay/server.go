package relay

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-task-progress/internal/metrics"
)

const defaultSendBuffer = 64

// Config wires a Server. Zero values fall back to defaults: fresh Groups, an
// in-memory source publishing to them and a no-op logger.
type Config struct {
	Groups *Groups
	Source StatusSource
	Logger *zap.Logger
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

// Server exposes the websocket endpoints plus health and metrics routes.
type Server struct {
	router   chi.Router
	groups   *Groups
	source   StatusSource
	logger   *zap.Logger
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.Mutex
	clients map[*client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	groups := cfg.Groups
	if groups == nil {
		groups = NewGroups(logger)
	}
	source := cfg.Source
	if source == nil {
		source = NewMemorySource(groups)
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	metrics.Init()

	s := &Server{
		groups:   groups,
		source:   source,
		logger:   logger.Named("relay"),
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		buffer:   buffer,
		clients:  make(map[*client]struct{}),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/ws/progress/", s.serveMultiTask)
	r.Get("/ws/progress/{task_id}/", s.serveSingleTask)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Groups returns the groups updates are fanned out through.
func (s *Server) Groups() *Groups {
	return s.groups
}

// Close disconnects every client and waits for their goroutines to exit.
// http.Server.Shutdown does not reach hijacked websocket connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	for c := range s.clients {
		_ = c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) serveMultiTask(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "")
}

func (s *Server) serveSingleTask(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, chi.URLParam(r, "task_id"))
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, taskID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := newClient(conn, s.groups, s.source, s.logger, s.buffer)
	if taskID != "" {
		c.fixed = taskID
		s.groups.add(taskID, c)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.groups.discard(taskID, c)
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	metrics.IncClients()
	c.logger.Info("client connected", zap.String("remote", r.RemoteAddr), zap.String("task_id", taskID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump(r.Context())

	c.leave()
	c.closeSend()
	<-done
	metrics.DecClients()
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.wg.Done()
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
