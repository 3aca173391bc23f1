package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// ContextCheckInterval is how many records a worker processes between
// cancellation checks.
const ContextCheckInterval = 1000

// PipelineConfig tunes a Pipeline.
type PipelineConfig struct {
	Workers   int         // validation/transformation fan-out; 0 means GOMAXPROCS
	BatchSize int         // rows per persistence write
	Retry     RetryPolicy // persistence retry policy
}

// Options wires a Pipeline.
type Options struct {
	Schema  *Schema
	Store   Persistence
	Config  PipelineConfig
	Metrics *Metrics
	Logger  *slog.Logger

	// Validator and Transformer replace the schema's defaults when set.
	Validator   RecordValidator
	Transformer RecordTransformer

	// OnAuditSinkFailure is notified when audit events are buffered locally.
	OnAuditSinkFailure func(AuditEvent, error)

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// RecordValidator evaluates one record. *Validator implements it.
type RecordValidator interface {
	Evaluate(rec RawRecord, dups *DuplicateIndex) []Verdict
}

// RecordTransformer turns one validated record into a clean record.
// *Transformer implements it.
type RecordTransformer interface {
	Transform(rec RawRecord) (CleanRecord, error)
}

// Pipeline runs batches through ingestion, validation, exception routing,
// transformation and aggregation. A Pipeline may run several batches
// concurrently; each Run owns its RunContext.
type Pipeline struct {
	schema      *Schema
	cfg         PipelineConfig
	writer      *retryingWriter
	audit       *AuditLogger
	validator   RecordValidator
	router      *ExceptionRouter
	transformer RecordTransformer
	aggregator  *Aggregator
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewPipeline validates opts and builds a Pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Schema == nil {
		return nil, errors.New("pipeline: schema is required")
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, errors.Wrap(err, "pipeline")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	cfg := opts.Config
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	cfg.Retry = cfg.Retry.withDefaults()

	writer := newRetryingWriter(opts.Store, cfg.Retry, cfg.BatchSize, opts.Metrics, logger)
	audit := NewAuditLogger(opts.Store, AuditConfig{
		Retry:         cfg.Retry,
		Metrics:       opts.Metrics,
		Logger:        logger,
		OnSinkFailure: opts.OnAuditSinkFailure,
		Clock:         now,
	})
	router := NewExceptionRouter(writer, audit, opts.Metrics, logger)
	router.now = now
	var validator RecordValidator = NewValidator(opts.Schema)
	if opts.Validator != nil {
		validator = opts.Validator
	}
	var transformer RecordTransformer
	if opts.Transformer != nil {
		transformer = opts.Transformer
	} else {
		t := NewTransformer(opts.Schema)
		t.now = now
		transformer = t
	}

	return &Pipeline{
		schema:      opts.Schema,
		cfg:         cfg,
		writer:      writer,
		audit:       audit,
		validator:   validator,
		router:      router,
		transformer: transformer,
		aggregator:  NewAggregator(opts.Schema),
		metrics:     opts.Metrics,
		logger:      logger,
		now:         now,
	}, nil
}

// Audit returns the pipeline's audit logger.
func (p *Pipeline) Audit() *AuditLogger { return p.audit }

// Schema returns the schema the pipeline validates against.
func (p *Pipeline) Schema() *Schema { return p.schema }

// RunResult reports a finished run.
type RunResult struct {
	RunID       string
	Source      string
	Status      RunStatus
	FailedStage Stage
	StartedAt   time.Time
	EndedAt     time.Time

	Ingested   int
	Passed     int
	Failed     int
	Clean      int
	Exceptions int
	ByCategory map[Category]int

	Validation       ValidationSummary
	Summaries        []AnalyticsSummary
	ExceptionRecords []ExceptionRecord
}

// QualityPercentage is the share of ingested records that came out clean,
// rounded to one decimal.
func (r *RunResult) QualityPercentage() float64 {
	if r.Ingested == 0 {
		return 0
	}
	pct := float64(r.Clean) / float64(r.Ingested) * 100
	return float64(int64(pct*10+0.5)) / 10
}

// Run executes one batch end to end. Input problems never fail the run;
// they become exception records. A non-nil error means the run ended in
// status failed and is always a *RunError; the result is still returned.
func (p *Pipeline) Run(ctx context.Context, batch Batch) (result *RunResult, err error) {
	run := p.audit.StartRun(ctx, batch.Source)
	logger := p.logger.With("run_id", run.ID, "source", batch.Source)
	logger.Info("pipeline run started", "rows", len(batch.Rows))

	st := &runState{run: run, logger: logger}

	defer func() {
		if r := recover(); r != nil {
			err = p.fail(ctx, st, "", consistencyf("panic during %s: %v", run.Stage, r))
			result = st.result(run)
		}
	}()

	if err := p.execute(ctx, st, batch); err != nil {
		return st.result(run), p.fail(ctx, st, st.op, err)
	}

	if err := p.audit.EndRun(ctx, run, RunCompleted); err != nil {
		return st.result(run), p.fail(ctx, st, "end run", err)
	}
	p.persistSummary(ctx, st)
	p.metrics.runFinished(RunCompleted, run.StartedAt, run.EndedAt)

	logger.Info("pipeline run completed",
		"ingested", run.Counts.Ingested,
		"clean", run.Counts.Clean,
		"exceptions", run.Counts.Exceptions,
		"duration", run.EndedAt.Sub(run.StartedAt),
	)
	return st.result(run), nil
}

// runState is the per-run working set, owned by the Run goroutine.
type runState struct {
	run        *RunContext
	logger     *slog.Logger
	op         string
	records    []RawRecord
	verdicts   []Verdict
	clean      []CleanRecord
	exceptions []ExceptionRecord
	summaries  []AnalyticsSummary
}

func (st *runState) result(run *RunContext) *RunResult {
	byCategory := make(map[Category]int, len(run.Counts.ByCategory))
	for k, v := range run.Counts.ByCategory {
		byCategory[k] = v
	}
	return &RunResult{
		RunID:            run.ID,
		Source:           run.Source,
		Status:           run.Status,
		FailedStage:      run.FailedStage,
		StartedAt:        run.StartedAt,
		EndedAt:          run.EndedAt,
		Ingested:         run.Counts.Ingested,
		Passed:           run.Counts.Passed,
		Failed:           run.Counts.Failed,
		Clean:            run.Counts.Clean,
		Exceptions:       run.Counts.Exceptions,
		ByCategory:       byCategory,
		Validation:       SummarizeVerdicts(st.verdicts),
		Summaries:        st.summaries,
		ExceptionRecords: cloneExceptions(st.exceptions),
	}
}

func cloneExceptions(in []ExceptionRecord) []ExceptionRecord {
	if in == nil {
		return nil
	}
	out := make([]ExceptionRecord, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

func (p *Pipeline) execute(ctx context.Context, st *runState, batch Batch) error {
	run := st.run

	// Ingestion
	if err := p.enter(st, StageIngesting); err != nil {
		return err
	}
	ingestedAt := p.now()
	st.records = make([]RawRecord, len(batch.Rows))
	for i, row := range batch.Rows {
		st.records[i] = NewRawRecord(run.ID, batch.Source, i+1, ingestedAt, row)
	}
	st.op = "persist raw records"
	if err := p.writer.InsertMany(ctx, TableRawRecords, toRows(st.records)); err != nil {
		return err
	}
	run.Counts.Ingested = len(st.records)
	p.audit.LogEvent(ctx, run, EventDataIngestion,
		fmt.Sprintf("Data ingested from %s - %d records", batch.Source, len(st.records)), len(st.records))

	// Validation
	if err := p.enter(st, StageValidating); err != nil {
		return err
	}
	dups := BuildDuplicateIndex(p.schema, st.records)
	st.op = "validate records"
	perRecord, err := p.validateAll(ctx, st.records, dups)
	if err != nil {
		return err
	}

	var passed []RawRecord
	var failures []Failure
	for i, rec := range st.records {
		st.verdicts = append(st.verdicts, perRecord[i]...)
		d := Dispose(perRecord[i])
		if d.Passed {
			passed = append(passed, rec)
			continue
		}
		failures = append(failures, Failure{Record: rec, Category: d.Failure.Category, Detail: d.Detail})
		run.Counts.ByCategory[d.Failure.Category]++
	}
	run.Counts.Passed = len(passed)
	run.Counts.Failed = len(failures)

	st.op = "persist validation results"
	if err := p.writer.InsertMany(ctx, TableValidationResults, toRows(st.verdicts)); err != nil {
		return err
	}
	p.metrics.recordOutcome(OutcomePass, len(passed))
	p.metrics.recordOutcome(OutcomeFail, len(failures))
	p.audit.LogEvent(ctx, run, EventValidationSummary,
		fmt.Sprintf("Validation completed - Passed: %d, Failed: %d", len(passed), len(failures)), len(st.records))

	// Exception routing
	if err := p.enter(st, StageRoutingExceptions); err != nil {
		return err
	}
	st.op = "route validation exceptions"
	routed, err := p.router.RouteBatch(ctx, run, ExceptionStageValidation, failures)
	if err != nil {
		return err
	}
	st.exceptions = append(st.exceptions, routed...)
	run.Counts.Exceptions = len(st.exceptions)
	p.audit.LogEvent(ctx, run, EventExceptionRouting,
		fmt.Sprintf("Exception routing completed - %d records routed", len(routed)), len(routed))

	// Transformation
	if err := p.enter(st, StageTransforming); err != nil {
		return err
	}
	st.op = "transform records"
	clean, faults, err := p.transformAll(ctx, passed)
	if err != nil {
		return err
	}
	if len(faults) > 0 {
		for _, f := range faults {
			st.logger.Error("transformer precondition violated", "record_id", f.Record.ID(), "position", f.Record.Position(), "detail", f.Detail)
		}
		st.op = "route transformation faults"
		routed, err := p.router.RouteBatch(ctx, run, ExceptionStageTransformation, faults)
		if err != nil {
			return err
		}
		st.exceptions = append(st.exceptions, routed...)
		run.Counts.ByCategory[CategoryInternalFault] += len(routed)
		run.Counts.Exceptions = len(st.exceptions)
	}
	st.clean = clean
	st.op = "persist clean records"
	if err := p.writer.InsertMany(ctx, TableCleanRecords, toRows(st.clean)); err != nil {
		return err
	}
	run.Counts.Clean = len(st.clean)
	p.audit.LogEvent(ctx, run, EventDataTransformation,
		fmt.Sprintf("Data transformation completed - %d records processed", len(st.clean)), len(st.clean))

	// Aggregation
	if err := p.enter(st, StageAggregating); err != nil {
		return err
	}
	st.op = "aggregate clean records"
	summaries, err := p.aggregator.Summarize(run.ID, st.clean)
	if err != nil {
		return err
	}
	st.summaries = summaries
	st.op = "persist analytics summaries"
	if err := p.writer.InsertMany(ctx, TableAnalyticsSummaries, toRows(st.summaries)); err != nil {
		return err
	}
	run.Counts.Summaries = len(st.summaries)
	p.audit.LogEvent(ctx, run, EventAnalyticsSummary,
		fmt.Sprintf("Analytics summaries generated - %d rows from %d clean records", len(st.summaries), len(st.clean)), len(st.clean))

	st.op = "check conservation"
	if err := checkConservation(st.records, st.clean, st.exceptions); err != nil {
		return err
	}

	st.op = ""
	return p.enter(st, StageCompleted)
}

// enter advances the run to next.
func (p *Pipeline) enter(st *runState, next Stage) error {
	st.op = "transition to " + string(next)
	if err := st.run.advance(next); err != nil {
		return err
	}
	st.logger.Debug("stage entered", "stage", next)
	return nil
}

// fail ends the run as failed and returns the run error.
func (p *Pipeline) fail(ctx context.Context, st *runState, op string, cause error) error {
	run := st.run
	runErr := &RunError{RunID: run.ID, Stage: run.Stage, Op: op, Err: cause}
	if run.Stage == StageFailed {
		runErr.Stage = run.FailedStage
	}

	st.logger.Error("pipeline run failed",
		"stage", runErr.Stage,
		"op", op,
		"error", cause,
		"detail", errors.FlattenDetails(cause),
	)

	if !run.Terminal() {
		run.markFailed(cause)
		if op != "" {
			run.Failure = fmt.Sprintf("%s: %v", op, cause)
		}
		if err := p.audit.EndRun(ctx, run, RunFailed); err != nil {
			st.logger.Error("failed to end run", "error", err)
		}
		p.metrics.runFinished(RunFailed, run.StartedAt, run.EndedAt)
	}
	p.persistSummary(ctx, st)
	return runErr
}

// persistSummary writes the run row. It is best-effort: the audit trail
// already holds the outcome.
func (p *Pipeline) persistSummary(ctx context.Context, st *runState) {
	if err := p.writer.InsertMany(context.WithoutCancel(ctx), TablePipelineRuns, []any{st.run.Summary()}); err != nil {
		st.logger.Error("failed to persist run summary", "error", err)
	}
}

func (p *Pipeline) validateAll(ctx context.Context, records []RawRecord, dups *DuplicateIndex) ([][]Verdict, error) {
	out := make([][]Verdict, len(records))
	err := p.fanOut(ctx, len(records), func(i int) {
		out[i] = p.evaluate(records[i], dups)
	})
	return out, err
}

// evaluate shields the run from a validator panic: the record is failed
// with an internal fault instead.
func (p *Pipeline) evaluate(rec RawRecord, dups *DuplicateIndex) (verdicts []Verdict) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("validator panicked", "record_id", rec.ID(), "position", rec.Position(), "panic", r)
			verdicts = []Verdict{{
				RunID:    rec.RunID(),
				RecordID: rec.ID(),
				Layer:    LayerInternal,
				Control:  ControlValidatorFault,
				Outcome:  OutcomeFail,
				Reason:   fmt.Sprintf("validator panic: %v", r),
				Category: CategoryInternalFault,
			}}
		}
	}()
	return p.validator.Evaluate(rec, dups)
}

func (p *Pipeline) transformAll(ctx context.Context, records []RawRecord) ([]CleanRecord, []Failure, error) {
	clean := make([]CleanRecord, len(records))
	errs := make([]error, len(records))
	err := p.fanOut(ctx, len(records), func(i int) {
		clean[i], errs[i] = p.transform(records[i])
	})
	if err != nil {
		return nil, nil, err
	}

	kept := clean[:0]
	var faults []Failure
	for i, rec := range records {
		if errs[i] != nil {
			faults = append(faults, Failure{Record: rec, Category: CategoryInternalFault, Detail: errs[i].Error()})
			continue
		}
		kept = append(kept, clean[i])
	}
	return kept, faults, nil
}

func (p *Pipeline) transform(rec RawRecord) (clean CleanRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = consistencyf("record %d: transformer panic: %v", rec.Position(), r)
		}
	}()
	return p.transformer.Transform(rec)
}

// fanOut runs fn over [0, n) on contiguous chunks, one goroutine per chunk.
func (p *Pipeline) fanOut(ctx context.Context, n int, fn func(i int)) error {
	if n == 0 {
		return ctx.Err()
	}
	workers := min(p.cfg.Workers, n)
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		lo := lo // per-iteration copy (go 1.21 loop semantics)
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if (i-lo)%ContextCheckInterval == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				fn(i)
			}
			return nil
		})
	}
	return g.Wait()
}

// checkConservation asserts that every ingested record ended in exactly one
// of the clean or exception sets.
func checkConservation(records []RawRecord, clean []CleanRecord, exceptions []ExceptionRecord) error {
	if len(records) != len(clean)+len(exceptions) {
		return consistencyf("conservation violated: %d ingested != %d clean + %d exceptions",
			len(records), len(clean), len(exceptions))
	}

	outcome := make(map[string]string, len(records))
	for _, r := range records {
		outcome[r.ID()] = ""
	}
	mark := func(id, set string) error {
		prev, ok := outcome[id]
		if !ok {
			return consistencyf("conservation violated: %s record %s was never ingested", set, id)
		}
		if prev != "" {
			return consistencyf("conservation violated: record %s is in both %s and %s", id, prev, set)
		}
		outcome[id] = set
		return nil
	}
	for _, c := range clean {
		if err := mark(c.RecordID, "clean"); err != nil {
			return err
		}
	}
	for _, e := range exceptions {
		if err := mark(e.RecordID, "exceptions"); err != nil {
			return err
		}
	}
	return nil
}

func toRows[T any](items []T) []any {
	rows := make([]any, len(items))
	for i, it := range items {
		rows[i] = it
	}
	return rows
}
