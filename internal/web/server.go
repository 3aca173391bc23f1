// Package web serves the salesqc HTTP API: run submission, the reporting
// read side, health and metrics.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/salesqc/internal/config"
	"github.com/JonMunkholm/salesqc/internal/core"
	"github.com/JonMunkholm/salesqc/internal/web/middleware"
)

// Reports is the read side served by the API. Both stores implement it.
type Reports interface {
	AuditTrail(ctx context.Context, runID string) ([]core.AuditEvent, error)
	Exceptions(ctx context.Context, runID string) ([]core.ExceptionRecord, error)
	Summaries(ctx context.Context, runID string) ([]core.AnalyticsSummary, error)
	ValidationReport(ctx context.Context, runID string) ([]core.ControlCount, error)
	ExceptionTrend(ctx context.Context, runID string) ([]core.CategoryCount, error)
	RecentRuns(ctx context.Context, limit int) ([]core.RunSummary, error)
}

// Options wires a Server.
type Options struct {
	Pipeline *core.Pipeline
	Reports  Reports
	Limiter  *core.RunLimiter
	Gatherer prometheus.Gatherer      // nil serves the default registry
	Health   func(context.Context) error // nil reports healthy
	Server   config.ServerConfig
	Pipe     config.PipelineConfig
}

// Server is the HTTP server for the pipeline API.
type Server struct {
	pipeline *core.Pipeline
	reports  Reports
	limiter  *core.RunLimiter
	gatherer prometheus.Gatherer
	health   func(context.Context) error
	cfg      config.ServerConfig
	pipeCfg  config.PipelineConfig
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new Server instance.
func NewServer(opts Options) *Server {
	s := &Server{
		pipeline: opts.Pipeline,
		reports:  opts.Reports,
		limiter:  opts.Limiter,
		gatherer: opts.Gatherer,
		health:   opts.Health,
		cfg:      opts.Server,
		pipeCfg:  opts.Pipe,
		router:   chi.NewRouter(),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.limiter == nil {
		s.limiter = core.NewRunLimiter(opts.Pipe.MaxConcurrentRuns, opts.Pipe.MaxWaitTime)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.handleCreateRun)
		r.Get("/runs", s.handleListRuns)

		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/audit", s.handleAuditTrail)
			r.Get("/exceptions", s.handleExceptions)
			r.Get("/summaries", s.handleSummaries)
			r.Get("/validation-report", s.handleValidationReport)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for in-flight runs.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)

	if active := s.limiter.ActiveCount(); active > 0 {
		slog.Info("waiting for runs to complete", "active", active)
		if werr := s.limiter.WaitForDrain(ctx); werr != nil {
			slog.Warn("runs did not complete in time", "error", werr)
		}
	}
	return err
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// runTimeout bounds one API-triggered run.
func (s *Server) runTimeout() time.Duration {
	if s.pipeCfg.RunTimeout > 0 {
		return s.pipeCfg.RunTimeout
	}
	return 10 * time.Minute
}
