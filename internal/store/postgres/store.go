// Package postgres persists pipeline output to PostgreSQL with pgx and
// serves the read side used by the reporting API.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/salesqc/internal/core"
)

// Config holds connection pool settings.
type Config struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store implements core.Persistence on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens and pings a pool.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertMany copies rows into kind's table in one transaction. Either every
// row is committed or none is. Rows that cannot be converted and
// constraint or data errors reported by the server are permanent.
func (s *Store) InsertMany(ctx context.Context, kind core.TableKind, rows []any) error {
	if len(rows) == 0 {
		return nil
	}
	t, ok := tables[kind]
	if !ok {
		return core.Permanent(fmt.Errorf("unknown table kind %q", kind))
	}

	values := make([][]any, len(rows))
	for i, row := range rows {
		v, err := t.row(row)
		if err != nil {
			return core.Permanent(fmt.Errorf("%s row %d: %w", kind, i, err))
		}
		values[i] = v
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{t.name}, t.columns, pgx.CopyFromRows(values))
	if err != nil {
		return classify(fmt.Errorf("copy into %s: %w", t.name, err))
	}
	if n != int64(len(values)) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", t.name, n, len(values))
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit %s: %w", t.name, err))
	}
	return nil
}

// classify marks errors that a retry cannot fix: data exceptions (22),
// integrity violations (23) and syntax or access rule violations (42).
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return err
	}
	switch pgErr.Code[:2] {
	case "22", "23", "42":
		return core.Permanent(err)
	}
	return err
}
