// Package api exposes the pipeline's status over HTTP: component
// health, per-job status records, and run counters.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kiotdata/retail-ingest/internal/dedup"
)

// Pinger is any backing service that can be liveness-checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the read-only status API.
type Server struct {
	store       *dedup.Store
	operational Pinger
	analytical  Pinger
	startTime   time.Time
}

// NewServer wires the status API over the shared store and the two
// sinks. Either sink may be nil; its health check then reports
// not_configured.
func NewServer(store *dedup.Store, operational, analytical Pinger) *Server {
	return &Server{
		store:       store,
		operational: operational,
		analytical:  analytical,
		startTime:   time.Now(),
	}
}

// Routes builds the router.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/jobs/{jobID}", s.handleJob)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// ComponentCheck is the health of one backing service.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "not_configured"
	Message string `json:"message,omitempty"`
}

// HealthStatus is the overall health response.
type HealthStatus struct {
	Status string                    `json:"status"` // "healthy", "degraded"
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]ComponentCheck{
		"redis":     checkComponent(ctx, s.store.HealthCheck),
		"postgres":  pingComponent(ctx, s.operational),
		"warehouse": pingComponent(ctx, s.analytical),
	}

	status := "healthy"
	code := http.StatusOK
	for _, c := range checks {
		if c.Status == "down" {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, HealthStatus{
		Status: status,
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Checks: checks,
	})
}

func checkComponent(ctx context.Context, check func(context.Context) error) ComponentCheck {
	if err := check(ctx); err != nil {
		return ComponentCheck{Status: "down", Message: err.Error()}
	}
	return ComponentCheck{Status: "up"}
}

func pingComponent(ctx context.Context, p Pinger) ComponentCheck {
	if p == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	return checkComponent(ctx, p.Ping)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	status, err := s.store.GetStatus(r.Context(), jobID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if status == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// StatsResponse reports the cumulative pipeline counters.
type StatsResponse struct {
	FilesProcessed int64 `json:"files_processed"`
	FilesErrored   int64 `json:"files_errored"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	processed, err := s.store.GetCounter(r.Context(), "files_processed")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	errored, err := s.store.GetCounter(r.Context(), "files_error")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		FilesProcessed: processed,
		FilesErrored:   errored,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
