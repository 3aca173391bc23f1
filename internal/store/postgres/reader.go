package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/salesqc/internal/core"
)

// AuditTrail lists the run's audit events ordered by timestamp then sequence.
func (s *Store) AuditTrail(ctx context.Context, runID string) ([]core.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, seq, event_type, description, record_count, event_at
		FROM audit_events
		WHERE run_id = $1
		ORDER BY event_at, seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.AuditEvent, error) {
		var ev core.AuditEvent
		var typ string
		err := row.Scan(&ev.RunID, &ev.Seq, &typ, &ev.Description, &ev.RecordCount, &ev.Timestamp)
		ev.Type = core.EventType(typ)
		return ev, err
	})
}

// Exceptions lists the run's exception records in the order they were caught.
func (s *Store) Exceptions(ctx context.Context, runID string) ([]core.ExceptionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT exception_id::text, run_id, record_id::text, category, stage, detail, caught_at, payload
		FROM exceptions
		WHERE run_id = $1
		ORDER BY caught_at, exception_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ExceptionRecord, error) {
		var e core.ExceptionRecord
		var category, stage string
		err := row.Scan(&e.ID, &e.RunID, &e.RecordID, &category, &stage, &e.Detail, &e.CaughtAt, &e.Payload)
		e.Category = core.Category(category)
		e.Stage = core.ExceptionStage(stage)
		return e, err
	})
}

// Summaries lists the run's analytics rows: overall first, then regions,
// products and days.
func (s *Store) Summaries(ctx context.Context, runID string) ([]core.AnalyticsSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, dimension, key, total_revenue, total_orders
		FROM analytics_summaries
		WHERE run_id = $1
		ORDER BY CASE dimension
			WHEN 'overall' THEN 0 WHEN 'region' THEN 1 WHEN 'product' THEN 2 ELSE 3 END,
			key`, runID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.AnalyticsSummary, error) {
		var a core.AnalyticsSummary
		var dim string
		var revenue pgtype.Numeric
		if err := row.Scan(&a.RunID, &dim, &a.Key, &revenue, &a.TotalOrders); err != nil {
			return a, err
		}
		a.Dimension = core.Dimension(dim)
		m, ok := core.MoneyFromNumeric(revenue)
		if !ok {
			return a, fmt.Errorf("summary %s/%s: revenue out of range", dim, a.Key)
		}
		a.TotalRevenue = m
		return a, nil
	})
}

// ValidationReport counts the run's verdicts by layer, control and outcome.
func (s *Store) ValidationReport(ctx context.Context, runID string) ([]core.ControlCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT layer, control, outcome, COUNT(*)
		FROM validation_results
		WHERE run_id = $1
		GROUP BY layer, control, outcome`, runID)
	if err != nil {
		return nil, fmt.Errorf("query validation report: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ControlCount, error) {
		var c core.ControlCount
		var layer, outcome string
		err := row.Scan(&layer, &c.Control, &outcome, &c.Count)
		c.Layer = core.Layer(layer)
		c.Outcome = core.Outcome(outcome)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	core.SortControlCounts(counts)
	return counts, nil
}

// ExceptionTrend counts the run's exceptions by category.
func (s *Store) ExceptionTrend(ctx context.Context, runID string) ([]core.CategoryCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, COUNT(*)
		FROM exceptions
		WHERE run_id = $1
		GROUP BY category`, runID)
	if err != nil {
		return nil, fmt.Errorf("query exception trend: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.CategoryCount, error) {
		var c core.CategoryCount
		var category string
		err := row.Scan(&category, &c.Count)
		c.Category = core.Category(category)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	core.SortCategoryCounts(counts)
	return counts, nil
}

// RecentRuns lists up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]core.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, source, status, COALESCE(failed_stage, ''), COALESCE(failure, ''),
			started_at, ended_at, ingested, clean, exceptions
		FROM pipeline_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.RunSummary, error) {
		var r core.RunSummary
		var status, stage string
		var ended pgtype.Timestamptz
		err := row.Scan(&r.RunID, &r.Source, &status, &stage, &r.Failure,
			&r.StartedAt, &ended, &r.Ingested, &r.Clean, &r.Exceptions)
		r.Status = core.RunStatus(status)
		r.FailedStage = core.Stage(stage)
		if ended.Valid {
			r.EndedAt = ended.Time
		}
		return r, err
	})
}
