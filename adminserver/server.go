// Package adminserver exposes the pool's external interfaces (spec.md
// §6: Stats, PerformanceMetrics, Optimize) over HTTP, plus a
// Prometheus /metrics endpoint and a liveness probe.
//
// Grounded on the teacher's health.Checker
// (internal/health/health.go) for the handler/server shape, with the
// mux swapped for go-chi/chi/v5 per the rest of the example pack
// (Sergey-Bar-Alfred/services/gateway/handler).
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lunarforge/sqlitepool/pool"
)

// Server exposes the pool's public surface over HTTP.
type Server struct {
	pool   *pool.Pool
	logger zerolog.Logger
	http   *http.Server
}

// New builds the admin HTTP server bound to addr (":<admin_port>").
func New(p *pool.Pool, addr string, logger zerolog.Logger) *Server {
	s := &Server{
		pool:   p,
		logger: logger.With().Str("component", "adminserver").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/performance", s.handlePerformance)
	r.Post("/optimize", s.handleOptimize)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start begins serving in the background. Call errors other than
// ErrServerClosed are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("admin server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("admin server error")
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Stats()
	status := http.StatusOK
	body := map[string]any{
		"status":    "healthy",
		"active":    snap.Active,
		"idle":      snap.Idle,
		"timestamp": snap.Timestamp.UTC().Format(time.RFC3339),
	}
	if snap.Active+snap.Idle == 0 {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	writeJSON(w, status, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Stats())
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.PerformanceMetrics())
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	s.pool.Optimize()
	writeJSON(w, http.StatusOK, s.pool.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(w, `{"error":"encoding failure"}`)
	}
}
