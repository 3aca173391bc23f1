package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Failure is a record bound for the exception store.
type Failure struct {
	Record   RawRecord
	Category Category
	Detail   string
}

// ExceptionRouter persists failed records with their original payload.
// It only ever appends; there is no update or delete path.
type ExceptionRouter struct {
	writer  Persistence
	audit   *AuditLogger
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewExceptionRouter creates a router. writer should already be retrying.
func NewExceptionRouter(writer Persistence, audit *AuditLogger, metrics *Metrics, logger *slog.Logger) *ExceptionRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExceptionRouter{
		writer:  writer,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Route persists one record that failed validation.
func (r *ExceptionRouter) Route(ctx context.Context, run *RunContext, rec RawRecord, verdicts []Verdict) (ExceptionRecord, error) {
	d := Dispose(verdicts)
	if d.Passed {
		return ExceptionRecord{}, consistencyf("record %s passed validation and cannot be routed", rec.ID())
	}
	out, err := r.RouteBatch(ctx, run, ExceptionStageValidation, []Failure{{
		Record:   rec,
		Category: d.Failure.Category,
		Detail:   d.Detail,
	}})
	if err != nil {
		return ExceptionRecord{}, err
	}
	return out[0], nil
}

// RouteBatch persists a stage's failures in one write, then records one
// audit event with the category breakdown.
func (r *ExceptionRouter) RouteBatch(ctx context.Context, run *RunContext, stage ExceptionStage, failures []Failure) ([]ExceptionRecord, error) {
	if len(failures) == 0 {
		return nil, nil
	}

	caught := r.now()
	records := make([]ExceptionRecord, len(failures))
	rows := make([]any, len(failures))
	byCategory := make(map[Category]int)
	for i, f := range failures {
		records[i] = ExceptionRecord{
			ID:       uuid.NewString(),
			RunID:    run.ID,
			RecordID: f.Record.ID(),
			Category: f.Category,
			Stage:    stage,
			Detail:   f.Detail,
			CaughtAt: caught,
			Payload:  f.Record.PayloadJSON(),
		}
		rows[i] = records[i].Clone()
		byCategory[f.Category]++
	}

	if err := r.writer.InsertMany(ctx, TableExceptions, rows); err != nil {
		return nil, err
	}

	for _, rec := range records {
		r.metrics.exceptionRouted(rec.Category, stage)
	}
	r.audit.LogEvent(ctx, run, EventExceptionsRouted,
		fmt.Sprintf("Routed %d exception(s) at stage %s: %s", len(records), stage, formatBreakdown(byCategory)),
		len(records))

	return records, nil
}

// formatBreakdown renders counts as "A=1, B=2" in key order.
func formatBreakdown(counts map[Category]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[Category(k)])
	}
	return strings.Join(parts, ", ")
}
