package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/salesqc/internal/config"
	"github.com/JonMunkholm/salesqc/internal/core"
	"github.com/JonMunkholm/salesqc/internal/core/tables"
	"github.com/JonMunkholm/salesqc/internal/store/postgres"
)

// salesSchema is the sales schema with the configured date layout.
func salesSchema(c *config.Config) *core.Schema {
	schema := *tables.Sales
	schema.DateLayout = c.Pipeline.DateLayout
	return &schema
}

// newPipeline builds a pipeline over store from configuration.
func newPipeline(c *config.Config, store core.Persistence, reg prometheus.Registerer) (*core.Pipeline, error) {
	return core.NewPipeline(core.Options{
		Schema: salesSchema(c),
		Store:  store,
		Config: core.PipelineConfig{
			Workers:   c.Pipeline.Workers,
			BatchSize: c.Pipeline.BatchSize,
			Retry: core.RetryPolicy{
				MaxAttempts:    c.Pipeline.MaxAttempts,
				InitialBackoff: c.Pipeline.InitialBackoff,
				MaxBackoff:     c.Pipeline.MaxBackoff,
				AttemptTimeout: c.Pipeline.WriteTimeout,
			},
		},
		Metrics: core.NewMetrics(reg),
		Logger:  slog.Default(),
		OnAuditSinkFailure: func(ev core.AuditEvent, err error) {
			slog.Error("audit event buffered locally",
				"run_id", ev.RunID,
				"event_type", ev.Type,
				"seq", ev.Seq,
				"error", err,
			)
		},
	})
}

// openStore migrates the database to the latest schema and connects a pool.
func openStore(ctx context.Context, c *config.Config) (*postgres.Store, error) {
	if err := c.RequireDatabase(); err != nil {
		return nil, err
	}
	if err := postgres.Migrate(c.Database.URL); err != nil {
		return nil, err
	}
	store, err := postgres.Connect(ctx, postgres.Config{
		URL:             c.Database.URL,
		MaxConns:        c.Database.MaxConns,
		MinConns:        c.Database.MinConns,
		MaxConnLifetime: c.Database.MaxConnLifetime,
		MaxConnIdleTime: c.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("connected to database")
	return store, nil
}
