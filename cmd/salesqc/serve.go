package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/salesqc/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API backed by PostgreSQL. Pending migrations are
applied on startup.

Endpoints:
  POST /api/runs                          submit a CSV (text/csv body or multipart "file")
  GET  /api/runs                          recent runs
  GET  /api/runs/{id}/audit               audit trail
  GET  /api/runs/{id}/exceptions          exception records
  GET  /api/runs/{id}/summaries           analytics summaries
  GET  /api/runs/{id}/validation-report   verdict and exception counts
  GET  /healthz
  GET  /metrics`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pipeline, err := newPipeline(cfg, store, reg)
	if err != nil {
		return err
	}

	server := web.NewServer(web.Options{
		Pipeline: pipeline,
		Reports:  store,
		Gatherer: reg,
		Health:   store.Ping,
		Server:   cfg.Server,
		Pipe:     cfg.Pipeline,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return err
	}

	// Flush anything the audit sink buffered while PostgreSQL was unreachable.
	if pending := pipeline.Audit().Pending(); pending > 0 {
		slog.Warn("flushing buffered audit events", "pending", pending)
		if err := pipeline.Audit().Flush(shutdownCtx); err != nil {
			slog.Error("audit events lost on shutdown", "pending", pipeline.Audit().Pending(), "error", err)
		}
	}
	slog.Info("server stopped")
	return nil
}
