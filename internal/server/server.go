// Package server exposes the runtime over HTTP: a JSON API for sessions,
// threads, approvals, and tasks, plus the server-sent event stream that
// mirrors the in-process bus.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lacekit/lace/internal/approvals"
	"github.com/lacekit/lace/internal/bus"
	"github.com/lacekit/lace/internal/observability"
	"github.com/lacekit/lace/internal/persistence"
	"github.com/lacekit/lace/internal/sessions"
	"github.com/lacekit/lace/internal/tasks"
	"github.com/lacekit/lace/internal/threads"
)

// Config assembles the HTTP server.
type Config struct {
	Addr           string
	MetricsEnabled bool

	Logger    *slog.Logger
	Bus       *bus.Bus
	Threads   *threads.Store
	Sessions  *sessions.Manager
	Tasks     *tasks.Manager
	Approvals *approvals.Coordinator
	Persist   persistence.Store
	Metrics   *observability.Metrics
}

// Server is the runtime's HTTP front end.
type Server struct {
	cfg    Config
	logger *slog.Logger
	mux    *http.ServeMux
	http   *http.Server
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.MetricsEnabled {
		s.mux.Handle("GET /metrics", promhttp.Handler())
	}

	s.mux.HandleFunc("GET /api/events", s.handleEventStream)

	s.mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	s.mux.HandleFunc("GET /api/projects", s.handleListProjects)

	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("PATCH /api/sessions/{id}", s.handleUpdateSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/agents", s.handleSpawnAgent)

	s.mux.HandleFunc("GET /api/threads/{id}/events", s.handleThreadEvents)
	s.mux.HandleFunc("GET /api/threads/{id}/history", s.handleThreadHistory)
	s.mux.HandleFunc("POST /api/threads/{id}/messages", s.handleSendMessage)
	s.mux.HandleFunc("POST /api/threads/{id}/cancel", s.handleCancelTurn)
	s.mux.HandleFunc("GET /api/threads/{id}/approvals", s.handlePendingApprovals)

	s.mux.HandleFunc("POST /api/approvals/{callID}", s.handleResolveApproval)

	s.mux.HandleFunc("POST /api/sessions/{id}/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/sessions/{id}/tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /api/sessions/{id}/tasks/summary", s.handleTaskSummary)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/notes", s.handleAddTaskNote)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler returns the route table, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps storage errors onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, persistence.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
