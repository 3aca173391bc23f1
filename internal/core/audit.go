package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// AuditConfig configures an AuditLogger.
type AuditConfig struct {
	Retry   RetryPolicy
	Metrics *Metrics
	Logger  *slog.Logger

	// OnSinkFailure is called for each event that could not be written and
	// was buffered locally.
	OnSinkFailure func(AuditEvent, error)

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// AuditLogger owns the append-only audit trail. Logging an event never
// fails a run: when the sink is unavailable events are buffered locally,
// in order, and re-sent oldest first on the next write or Flush.
type AuditLogger struct {
	writer        *retryingWriter
	metrics       *Metrics
	logger        *slog.Logger
	onSinkFailure func(AuditEvent, error)
	now           func() time.Time

	mu      sync.Mutex
	pending []AuditEvent
	seq     map[string]int
	ended   map[string]RunStatus
}

// NewAuditLogger creates an audit logger writing to sink.
func NewAuditLogger(sink Persistence, cfg AuditConfig) *AuditLogger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &AuditLogger{
		writer:        newRetryingWriter(sink, cfg.Retry, 0, cfg.Metrics, logger),
		metrics:       cfg.Metrics,
		logger:        logger,
		onSinkFailure: cfg.OnSinkFailure,
		now:           now,
		seq:           make(map[string]int),
		ended:         make(map[string]RunStatus),
	}
}

// StartRun allocates a new run and records PIPELINE_START.
func (a *AuditLogger) StartRun(ctx context.Context, source string) *RunContext {
	run := newRunContext(uuid.NewString(), source, a.now())
	a.LogEvent(ctx, run, EventPipelineStart,
		fmt.Sprintf("Pipeline started - run %s, source %s", run.ID, source), 0)
	return run
}

// LogEvent appends an event to the run's trail and returns it.
func (a *AuditLogger) LogEvent(ctx context.Context, run *RunContext, typ EventType, description string, count int) AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq[run.ID]++
	ev := AuditEvent{
		RunID:       run.ID,
		Seq:         a.seq[run.ID],
		Type:        typ,
		Description: description,
		RecordCount: count,
		Timestamp:   a.now(),
	}
	a.pending = append(a.pending, ev)

	if err := a.flushLocked(ctx); err != nil {
		a.metrics.auditSinkFailed()
		a.logger.Error("audit sink unavailable, event buffered locally",
			"run_id", run.ID,
			"event", typ,
			"seq", ev.Seq,
			"buffered", len(a.pending),
			"error", err,
		)
		if a.onSinkFailure != nil {
			a.onSinkFailure(ev, err)
		}
	}
	return ev
}

// EndRun finalizes the run and records PIPELINE_END or PIPELINE_FAILED.
// Ending the same run twice returns an error matching
// ErrDuplicateRunCompletion and leaves the first outcome untouched.
func (a *AuditLogger) EndRun(ctx context.Context, run *RunContext, status RunStatus) error {
	if status != RunCompleted && status != RunFailed {
		return consistencyf("run %s: cannot end with status %q", run.ID, status)
	}

	a.mu.Lock()
	if prev, done := a.ended[run.ID]; done {
		a.mu.Unlock()
		err := errors.Mark(
			consistencyf("run %s already ended with status %s, refusing %s", run.ID, prev, status),
			ErrDuplicateRunCompletion,
		)
		a.logger.Error("duplicate run completion", "run_id", run.ID, "previous", prev, "requested", status, "error", err)
		return err
	}
	a.ended[run.ID] = status
	a.mu.Unlock()

	run.EndedAt = a.now()
	run.Status = status

	if status == RunFailed {
		run.markFailed(nil)
		a.LogEvent(ctx, run, EventPipelineFailed,
			fmt.Sprintf("Pipeline failed at stage %s: %s", run.FailedStage, run.Failure), run.Counts.Ingested)
	} else {
		a.LogEvent(ctx, run, EventPipelineEnd,
			fmt.Sprintf("Pipeline completed - %d clean, %d exceptions", run.Counts.Clean, run.Counts.Exceptions), run.Counts.Ingested)
	}
	return nil
}

// Flush re-sends buffered events.
func (a *AuditLogger) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

// Pending returns the number of locally buffered events.
func (a *AuditLogger) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Buffered returns a copy of the locally buffered events.
func (a *AuditLogger) Buffered() []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEvent(nil), a.pending...)
}

func (a *AuditLogger) flushLocked(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}
	rows := make([]any, len(a.pending))
	for i, ev := range a.pending {
		rows[i] = ev
	}
	// The trail outlives a cancelled run.
	if err := a.writer.insertChunk(context.WithoutCancel(ctx), TableAuditEvents, rows); err != nil {
		return err
	}
	a.pending = a.pending[:0]
	return nil
}
