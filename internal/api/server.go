package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"sentinel/internal/domain/alert"
	"sentinel/internal/domain/position"
	"sentinel/internal/domain/risk"
	"sentinel/internal/metrics"
	"sentinel/internal/state"
	"sentinel/internal/workers"
	"sentinel/pkg/errors"
	"sentinel/pkg/logger"
)

// AlertSource serves the recent alert history
type AlertSource interface {
	History(limit int) []alert.Alert
}

// HealthChecker reports liveness of one dependency
type HealthChecker func(ctx context.Context) error

// Server is the read-only snapshot API. It exposes current positions with
// their risk snapshots, recent alerts, health and metrics. No mutation
// endpoints by design; all writes flow through the bus.
type Server struct {
	httpServer *http.Server
	store      *state.Store
	alerts     AlertSource
	scheduler  *workers.Scheduler
	checks     map[string]HealthChecker
	log        *logger.Logger
}

// NewServer creates and configures the HTTP server with all routes
func NewServer(addr string, store *state.Store, alerts AlertSource, scheduler *workers.Scheduler, checks map[string]HealthChecker) *Server {
	s := &Server{
		store:     store,
		alerts:    alerts,
		scheduler: scheduler,
		checks:    checks,
		log:       logger.Get().With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/positions", s.handlePositions)
	mux.HandleFunc("GET /v1/alerts", s.handleAlerts)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the server in a background goroutine
func (s *Server) Start() {
	go func() {
		s.log.Infof("API listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("API server failed: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// positionView pairs a position with its latest risk snapshot.
type positionView struct {
	Position position.Position `json:"position"`
	Risk     *risk.Snapshot    `json:"risk,omitempty"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.store.ListOpenPositions()

	views := make([]positionView, 0, len(positions))
	for _, pos := range positions {
		view := positionView{Position: pos}
		if snap, err := s.store.GetSnapshot(pos.ID); err == nil {
			view.Risk = &snap
		}
		views = append(views, view)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"alerts": s.alerts.History(limit)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	body := map[string]any{
		"status":       http.StatusText(status),
		"dependencies": deps,
	}
	if s.scheduler != nil {
		body["workers"] = s.scheduler.Health()
	}

	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warnf("Failed to encode response: %v", err)
	}
}
