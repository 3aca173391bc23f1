package core

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error classes. Match with errors.Is from github.com/cockroachdb/errors.
var (
	// ErrInfrastructure marks persistence and audit sink faults.
	ErrInfrastructure = errors.New("infrastructure fault")

	// ErrInternalConsistency marks faults that indicate a defect in the
	// pipeline itself: conservation violations, illegal stage transitions,
	// transformer precondition violations.
	ErrInternalConsistency = errors.New("internal consistency fault")

	// ErrDuplicateRunCompletion is returned when a run is ended twice.
	ErrDuplicateRunCompletion = errors.New("duplicate run completion")

	// ErrPermanent marks write failures that retrying cannot fix.
	ErrPermanent = errors.New("permanent write failure")

	// ErrRunNotFound is returned by read-side lookups for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
)

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrPermanent)
}

// consistencyf builds an internal consistency fault.
func consistencyf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInternalConsistency)
}

// RunError reports a run that aborted. It always carries the run id and
// the stage the run was in.
type RunError struct {
	RunID string
	Stage Stage
	Op    string
	Err   error
}

func (e *RunError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("run %s failed at stage %s: %v", e.RunID, e.Stage, e.Err)
	}
	return fmt.Sprintf("run %s failed at stage %s (%s): %v", e.RunID, e.Stage, e.Op, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
