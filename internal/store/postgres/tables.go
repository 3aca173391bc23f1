package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/salesqc/internal/core"
)

// table describes how one core.TableKind is copied into PostgreSQL.
type table struct {
	name    string
	columns []string
	row     func(any) ([]any, error)
}

var tables = map[core.TableKind]table{
	core.TableRawRecords: {
		name:    "raw_records",
		columns: []string{"record_id", "run_id", "source", "position", "ingested_at", "payload"},
		row: typed(func(r core.RawRecord) ([]any, error) {
			id, err := pgUUID(r.ID())
			if err != nil {
				return nil, err
			}
			return []any{id, r.RunID(), r.Source(), r.Position(), r.IngestedAt(), r.PayloadJSON()}, nil
		}),
	},
	core.TableValidationResults: {
		name:    "validation_results",
		columns: []string{"run_id", "record_id", "layer", "control", "outcome", "reason", "category"},
		row: typed(func(v core.Verdict) ([]any, error) {
			id, err := pgUUID(v.RecordID)
			if err != nil {
				return nil, err
			}
			return []any{v.RunID, id, string(v.Layer), v.Control, string(v.Outcome),
				core.ToPgText(v.Reason), core.ToPgText(string(v.Category))}, nil
		}),
	},
	core.TableCleanRecords: {
		name: "clean_records",
		columns: []string{"record_id", "run_id", "order_id", "order_date", "region", "product",
			"quantity", "revenue", "revenue_per_unit", "processed_at"},
		row: typed(func(c core.CleanRecord) ([]any, error) {
			id, err := pgUUID(c.RecordID)
			if err != nil {
				return nil, err
			}
			return []any{id, c.RunID, c.OrderID, pgtype.Date{Time: c.OrderDate, Valid: true}, c.Region, c.Product,
				c.Quantity, c.Revenue.Numeric(), c.RevenuePerUnit.Numeric(), c.ProcessedAt}, nil
		}),
	},
	core.TableExceptions: {
		name:    "exceptions",
		columns: []string{"exception_id", "run_id", "record_id", "category", "stage", "detail", "caught_at", "payload"},
		row: typed(func(e core.ExceptionRecord) ([]any, error) {
			id, err := pgUUID(e.ID)
			if err != nil {
				return nil, err
			}
			recordID, err := pgUUID(e.RecordID)
			if err != nil {
				return nil, err
			}
			return []any{id, e.RunID, recordID, string(e.Category), string(e.Stage), e.Detail, e.CaughtAt, e.Payload}, nil
		}),
	},
	core.TableAuditEvents: {
		name:    "audit_events",
		columns: []string{"run_id", "seq", "event_type", "description", "record_count", "event_at"},
		row: typed(func(ev core.AuditEvent) ([]any, error) {
			return []any{ev.RunID, ev.Seq, string(ev.Type), ev.Description, ev.RecordCount, ev.Timestamp}, nil
		}),
	},
	core.TableAnalyticsSummaries: {
		name:    "analytics_summaries",
		columns: []string{"run_id", "dimension", "key", "total_revenue", "total_orders"},
		row: typed(func(a core.AnalyticsSummary) ([]any, error) {
			return []any{a.RunID, string(a.Dimension), a.Key, a.TotalRevenue.Numeric(), a.TotalOrders}, nil
		}),
	},
	core.TablePipelineRuns: {
		name: "pipeline_runs",
		columns: []string{"run_id", "source", "status", "failed_stage", "failure", "started_at", "ended_at",
			"ingested", "clean", "exceptions"},
		row: typed(func(r core.RunSummary) ([]any, error) {
			return []any{r.RunID, r.Source, string(r.Status), core.ToPgText(string(r.FailedStage)),
				core.ToPgText(r.Failure), r.StartedAt, pgTimestamptz(r.EndedAt),
				r.Ingested, r.Clean, r.Exceptions}, nil
		}),
	},
}

// typed adapts a row converter for T to the untyped rows core hands over.
func typed[T any](fn func(T) ([]any, error)) func(any) ([]any, error) {
	return func(v any) ([]any, error) {
		row, ok := v.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("unexpected row type %T, want %T", v, zero)
		}
		return fn(row)
	}
}

func pgUUID(s string) (pgtype.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return pgtype.UUID{Bytes: id, Valid: true}, nil
}

func pgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
