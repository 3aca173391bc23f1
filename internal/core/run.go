package core

import (
	"time"
)

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Stage is a pipeline state.
type Stage string

const (
	StageCreated           Stage = "created"
	StageIngesting         Stage = "ingesting"
	StageValidating        Stage = "validating"
	StageRoutingExceptions Stage = "routing_exceptions"
	StageTransforming      Stage = "transforming"
	StageAggregating       Stage = "aggregating"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

// stageOrder is the only legal forward path. failed is reachable from any
// non-terminal stage.
var stageOrder = []Stage{
	StageCreated,
	StageIngesting,
	StageValidating,
	StageRoutingExceptions,
	StageTransforming,
	StageAggregating,
	StageCompleted,
}

// RunCounts are the per-stage record counts of a run.
type RunCounts struct {
	Ingested   int
	Passed     int
	Failed     int
	ByCategory map[Category]int
	Clean      int
	Exceptions int
	Summaries  int
}

// RunContext is the state of one pipeline execution. It is created by
// AuditLogger.StartRun, mutated only by the orchestrator and finalized
// exactly once by AuditLogger.EndRun.
type RunContext struct {
	ID          string
	Source      string
	StartedAt   time.Time
	EndedAt     time.Time
	Status      RunStatus
	Stage       Stage
	FailedStage Stage
	Failure     string
	Counts      RunCounts
}

func newRunContext(id, source string, startedAt time.Time) *RunContext {
	return &RunContext{
		ID:        id,
		Source:    source,
		StartedAt: startedAt,
		Status:    RunRunning,
		Stage:     StageCreated,
		Counts:    RunCounts{ByCategory: make(map[Category]int)},
	}
}

// Terminal reports whether the run has ended.
func (r *RunContext) Terminal() bool {
	return r.Status != RunRunning
}

// advance moves the run to the next stage. Anything other than the
// immediate successor is an internal consistency fault.
func (r *RunContext) advance(next Stage) error {
	if r.Terminal() {
		return consistencyf("run %s: transition %s -> %s after run ended", r.ID, r.Stage, next)
	}
	for i, s := range stageOrder {
		if s == r.Stage && i+1 < len(stageOrder) && stageOrder[i+1] == next {
			r.Stage = next
			return nil
		}
	}
	return consistencyf("run %s: illegal transition %s -> %s", r.ID, r.Stage, next)
}

// markFailed records the failing stage and moves the run to failed.
func (r *RunContext) markFailed(err error) {
	if r.Stage == StageFailed {
		return
	}
	r.FailedStage = r.Stage
	r.Stage = StageFailed
	if err != nil {
		r.Failure = err.Error()
	}
}

// RunSummary is the persisted row describing a finished run.
type RunSummary struct {
	RunID       string
	Source      string
	Status      RunStatus
	FailedStage Stage
	Failure     string
	StartedAt   time.Time
	EndedAt     time.Time
	Ingested    int
	Clean       int
	Exceptions  int
}

// Summary snapshots the run for persistence.
func (r *RunContext) Summary() RunSummary {
	return RunSummary{
		RunID:       r.ID,
		Source:      r.Source,
		Status:      r.Status,
		FailedStage: r.FailedStage,
		Failure:     r.Failure,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		Ingested:    r.Counts.Ingested,
		Clean:       r.Counts.Clean,
		Exceptions:  r.Counts.Exceptions,
	}
}
