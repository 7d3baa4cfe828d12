package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors for the scheduler package. Use errors.Is() for comparison.
var (
	// ErrTimeoutExceeded marks an attempt that ran past its duration limit.
	ErrTimeoutExceeded = errors.New("attempt exceeded duration limit")

	// ErrRestartsExhausted marks a job whose every attempt failed.
	ErrRestartsExhausted = errors.New("restarts exhausted")

	// ErrAttemptInterrupted marks an attempt whose execution cursor was lost,
	// which happens when a running job is restored from a snapshot.
	ErrAttemptInterrupted = errors.New("attempt interrupted")

	// ErrDependencyFailed is only produced when FailDependents is enabled.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrUnknownDependency and ErrDependencyCycle are reported by Validate.
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDependencyCycle   = errors.New("dependency cycle")

	ErrNilJob       = errors.New("job cannot be nil")
	ErrNilTask      = errors.New("task cannot be nil")
	ErrDuplicateJob = errors.New("job already exists")
	ErrJobNotFound  = errors.New("job not found")
)

// TaskStepError is recorded when a task step returns an error or panics.
type TaskStepError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *TaskStepError) Error() string {
	return fmt.Sprintf("job %q attempt %d: task step failed: %v", e.JobID, e.Attempt, e.Err)
}

func (e *TaskStepError) Unwrap() error { return e.Err }

// SerializationError is returned when scheduler state cannot be encoded,
// decoded or restored. The in-memory state is never modified when it occurs.
type SerializationError struct {
	Op  string // "encode", "decode" or "restore"
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("scheduler state %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
