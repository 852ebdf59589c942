package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/metrics"
	"github.com/MikeSquared-Agency/dealintel/internal/processor"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
	"github.com/MikeSquared-Agency/dealintel/internal/usage"
)

// Service is the orchestrator surface the HTTP layer needs.
type Service interface {
	Submit(ctx context.Context, in processor.SubmitInput) (*processor.Submission, error)
	Poll(ctx context.Context, id uuid.UUID) (*processor.Status, error)
	Remaining(ctx context.Context, repID string, tier usage.Tier) (usage.Decision, error)
	ListRequests(ctx context.Context, repID string, limit, offset int) ([]store.RequestSummary, error)
	Summary(ctx context.Context, repIDs []string, days int) (*store.Summary, error)
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type Server struct {
	router *chi.Mux
	svc    Service
	logger *slog.Logger
	checks map[string]Check
	events *EventHub
	http   *http.Server
}

func NewServer(port int, svc Service, logger *slog.Logger, checks map[string]Check) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		svc:    svc,
		logger: logger,
		checks: checks,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/dealintel/status", s.status)
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/calls/analyze", s.analyze)
		r.Get("/requests", s.listRequests)
		r.Get("/requests/{id}", s.getRequest)
		r.Get("/reps/me/summary", s.repSummary)
		r.Get("/usage", s.usage)
		r.Get("/events", s.streamEvents)
	})

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// MountEvents exposes hub at /api/v1/events as a websocket stream of the
// caller's analysis events. Call before Start.
func (s *Server) MountEvents(hub *EventHub) {
	s.events = hub
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.NotFound(w, r)
		return
	}
	s.events.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := map[string]string{}
	overall := "ok"
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			overall = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	code := http.StatusOK
	if overall != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"agent":            "dealintel",
		"status":           overall,
		"analyzer_version": analysis.Version,
		"dependencies":     deps,
	})
}
