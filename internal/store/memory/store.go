// Package memory is an append-only, in-process implementation of
// core.Persistence. It backs tests and dry runs, and serves the same read
// side as the PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/JonMunkholm/salesqc/internal/core"
)

// Store keeps every written row in memory. Rows are only ever appended.
type Store struct {
	mu     sync.RWMutex
	tables map[core.TableKind][]any
	writes map[core.TableKind]int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tables: make(map[core.TableKind][]any),
		writes: make(map[core.TableKind]int),
	}
}

// InsertMany appends rows atomically. A row of the wrong type for kind
// rejects the whole call with a permanent error.
func (s *Store) InsertMany(ctx context.Context, kind core.TableKind, rows []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, row := range rows {
		if err := checkRow(kind, row); err != nil {
			return core.Permanent(fmt.Errorf("%s row %d: %w", kind, i, err))
		}
	}

	stored := make([]any, len(rows))
	for i, row := range rows {
		if e, ok := row.(core.ExceptionRecord); ok {
			row = e.Clone()
		}
		stored[i] = row
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[kind] = append(s.tables[kind], stored...)
	s.writes[kind]++
	return nil
}

func checkRow(kind core.TableKind, row any) error {
	var ok bool
	switch kind {
	case core.TableRawRecords:
		_, ok = row.(core.RawRecord)
	case core.TableValidationResults:
		_, ok = row.(core.Verdict)
	case core.TableCleanRecords:
		_, ok = row.(core.CleanRecord)
	case core.TableExceptions:
		_, ok = row.(core.ExceptionRecord)
	case core.TableAuditEvents:
		_, ok = row.(core.AuditEvent)
	case core.TableAnalyticsSummaries:
		_, ok = row.(core.AnalyticsSummary)
	case core.TablePipelineRuns:
		_, ok = row.(core.RunSummary)
	default:
		return fmt.Errorf("unknown table kind")
	}
	if !ok {
		return fmt.Errorf("unexpected row type %T", row)
	}
	return nil
}

// Count returns the number of rows stored for kind.
func (s *Store) Count(kind core.TableKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[kind])
}

// Writes returns the number of successful InsertMany calls for kind.
func (s *Store) Writes(kind core.TableKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[kind]
}

// rowsOf returns a snapshot of kind's rows that are of type T and match keep.
func rowsOf[T any](s *Store, kind core.TableKind, keep func(T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []T
	for _, r := range s.tables[kind] {
		if v, ok := r.(T); ok && keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// RawRecords returns the run's ingested records in write order.
func (s *Store) RawRecords(runID string) []core.RawRecord {
	return rowsOf(s, core.TableRawRecords, func(r core.RawRecord) bool { return r.RunID() == runID })
}

// Verdicts returns the run's validation results in write order.
func (s *Store) Verdicts(runID string) []core.Verdict {
	return rowsOf(s, core.TableValidationResults, func(v core.Verdict) bool { return v.RunID == runID })
}

// CleanRecords returns the run's clean records in write order.
func (s *Store) CleanRecords(runID string) []core.CleanRecord {
	return rowsOf(s, core.TableCleanRecords, func(c core.CleanRecord) bool { return c.RunID == runID })
}

// ExceptionRecords returns copies of the run's exceptions in write order.
func (s *Store) ExceptionRecords(runID string) []core.ExceptionRecord {
	out := rowsOf(s, core.TableExceptions, func(e core.ExceptionRecord) bool { return e.RunID == runID })
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Events returns the run's audit trail ordered by timestamp then sequence.
func (s *Store) Events(runID string) []core.AuditEvent {
	events := rowsOf(s, core.TableAuditEvents, func(e core.AuditEvent) bool { return e.RunID == runID })
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Seq < events[j].Seq
	})
	return events
}

// SummaryRows returns the run's analytics rows in write order.
func (s *Store) SummaryRows(runID string) []core.AnalyticsSummary {
	return rowsOf(s, core.TableAnalyticsSummaries, func(a core.AnalyticsSummary) bool { return a.RunID == runID })
}

// Runs returns every persisted run summary.
func (s *Store) Runs() []core.RunSummary {
	return rowsOf(s, core.TablePipelineRuns, func(core.RunSummary) bool { return true })
}

// ----------------------------------------------------------------------------
// Read side
// ----------------------------------------------------------------------------

// AuditTrail lists the run's audit events.
func (s *Store) AuditTrail(_ context.Context, runID string) ([]core.AuditEvent, error) {
	return s.Events(runID), nil
}

// Exceptions lists the run's exception records.
func (s *Store) Exceptions(_ context.Context, runID string) ([]core.ExceptionRecord, error) {
	return s.ExceptionRecords(runID), nil
}

// Summaries lists the run's analytics rows.
func (s *Store) Summaries(_ context.Context, runID string) ([]core.AnalyticsSummary, error) {
	return s.SummaryRows(runID), nil
}

// ValidationReport counts the run's verdicts by control and outcome.
func (s *Store) ValidationReport(_ context.Context, runID string) ([]core.ControlCount, error) {
	return core.ControlCounts(s.Verdicts(runID)), nil
}

// ExceptionTrend counts the run's exceptions by category.
func (s *Store) ExceptionTrend(_ context.Context, runID string) ([]core.CategoryCount, error) {
	return core.CategoryCounts(s.ExceptionRecords(runID)), nil
}

// RecentRuns lists up to limit runs, newest first.
func (s *Store) RecentRuns(_ context.Context, limit int) ([]core.RunSummary, error) {
	runs := s.Runs()
	slices.Reverse(runs)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
