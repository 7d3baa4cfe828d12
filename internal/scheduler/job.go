package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kvgribko/jobsched/internal/events"
)

// AttemptMode selects how much of an attempt a single drive may run.
type AttemptMode int

const (
	// AttemptWhole runs the entire attempt loop inside one drive. A slow task
	// holds the scheduler for all of its attempts.
	AttemptWhole AttemptMode = iota

	// AttemptStepwise takes at most one task step per drive, so the scheduler
	// interleaves running jobs at step granularity.
	AttemptStepwise
)

func (m AttemptMode) String() string {
	switch m {
	case AttemptWhole:
		return "whole"
	case AttemptStepwise:
		return "stepwise"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseAttemptMode accepts "whole" (or "") and "stepwise" (or "step").
func ParseAttemptMode(s string) (AttemptMode, error) {
	switch s {
	case "", "whole":
		return AttemptWhole, nil
	case "stepwise", "step":
		return AttemptStepwise, nil
	default:
		return 0, fmt.Errorf("unknown attempt mode %q (use whole or stepwise)", s)
	}
}

// Progress is what a drive reports back to its caller.
type Progress int

const (
	ProgressWaiting Progress = iota // blocked on the time or dependency gate
	ProgressRunning                 // mid-attempt, more steps remain
	ProgressDone                    // terminal status reached
)

// StatusLookup resolves a dependency ID to that job's current status.
type StatusLookup func(id string) (Status, bool)

// DriveOptions carries everything a Job needs from its driver.
type DriveOptions struct {
	Clock  Clock
	Lookup StatusLookup
	Mode   AttemptMode

	// FailDependents makes a job fail as soon as one of its dependencies has
	// failed. When false a failed dependency keeps the job waiting forever.
	FailDependents bool

	Logger    *zerolog.Logger
	Publisher events.Publisher
}

func (o DriveOptions) withDefaults() DriveOptions {
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	if o.Lookup == nil {
		o.Lookup = func(string) (Status, bool) { return 0, false }
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

func (o DriveOptions) publish(e events.Event) {
	if o.Publisher != nil {
		o.Publisher.Publish(events.TopicJob, e)
	}
}

// Option configures a Job at construction.
type Option func(*Job)

// WithDurationLimit sets the wall-clock ceiling of a single attempt. Zero disables it.
func WithDurationLimit(d time.Duration) Option {
	return func(j *Job) { j.durationLimit = d }
}

// WithStartTime gates the job until the given time of day.
func WithStartTime(t TimeOfDay) Option {
	return func(j *Job) {
		st := t
		j.startTime = &st
	}
}

// WithMaxRestarts allows n additional attempts after the first one fails.
func WithMaxRestarts(n int) Option {
	return func(j *Job) { j.maxRestarts = n }
}

// WithDependencies makes the job wait until every listed job has completed.
func WithDependencies(ids ...string) Option {
	return func(j *Job) { j.dependsOn = append(j.dependsOn, ids...) }
}

// errStepCancelled reports a step that returned the error of its done ctx.
var errStepCancelled = errors.New("step cancelled")

// attemptCursor is the in-progress execution of the current attempt.
type attemptCursor struct {
	exec    Execution
	started time.Time
}

// Job wraps a Task with gating, retry and timeout policy.
//
// A Job is not safe for concurrent use; its driver (normally a Scheduler)
// owns it. Policy fields are fixed at construction.
type Job struct {
	id            string
	task          Task
	durationLimit time.Duration
	startTime     *TimeOfDay
	maxRestarts   int
	dependsOn     []string

	status      Status
	attempts    int
	lastErr     error
	timeCleared bool
	cursor      *attemptCursor
}

// NewJob creates a pending job. An empty id is replaced by a random UUID.
func NewJob(id string, task Task, opts ...Option) (*Job, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if id == "" {
		id = uuid.NewString()
	}
	j := &Job{id: id, task: task, status: StatusPending}
	for _, opt := range opts {
		opt(j)
	}
	if j.maxRestarts < 0 {
		return nil, fmt.Errorf("job %q: max restarts must be >= 0, got %d", id, j.maxRestarts)
	}
	if j.durationLimit < 0 {
		return nil, fmt.Errorf("job %q: duration limit must be >= 0, got %s", id, j.durationLimit)
	}
	return j, nil
}

func (j *Job) ID() string                   { return j.id }
func (j *Job) Task() Task                   { return j.task }
func (j *Job) TaskName() string             { return j.task.Name() }
func (j *Job) DurationLimit() time.Duration { return j.durationLimit }
func (j *Job) MaxRestarts() int             { return j.maxRestarts }
func (j *Job) Status() Status               { return j.status }
func (j *Job) Attempts() int                { return j.attempts }

// LastError is the most recent attempt failure, or the terminal cause for a
// failed job. It is nil for completed jobs.
func (j *Job) LastError() error { return j.lastErr }

// StartTime returns the start gate, if any.
func (j *Job) StartTime() (TimeOfDay, bool) {
	if j.startTime == nil {
		return TimeOfDay{}, false
	}
	return *j.startTime, true
}

// DependsOn returns a copy of the dependency IDs.
func (j *Job) DependsOn() []string {
	return append([]string(nil), j.dependsOn...)
}

func (j *Job) String() string {
	return fmt.Sprintf("Job(id=%s task=%s status=%s)", j.id, j.TaskName(), j.status)
}

// Drive performs one drive cycle.
//
// Until the attempt loop has started, the time gate is checked first and the
// dependency gate second; a blocked gate suspends the job with
// ProgressWaiting. Once both gates have cleared they are never checked again.
// Task errors, panics and timeouts are recorded on the job and never returned.
// Driving a terminal job is a no-op.
//
// Once ctx is done no new attempt begins, and a step that returns ctx's error
// leaves the job Running without a cursor instead of failing the attempt.
func (j *Job) Drive(ctx context.Context, opts DriveOptions) Progress {
	opts = opts.withDefaults()

	if j.status.Terminal() {
		return ProgressDone
	}
	if j.attempts == 0 {
		if !j.gatesOpen(opts) {
			if j.status.Terminal() {
				return ProgressDone
			}
			return ProgressWaiting
		}
	}

	if opts.Mode == AttemptStepwise {
		return j.driveStep(ctx, opts)
	}
	return j.driveWhole(ctx, opts)
}

// gatesOpen evaluates the time gate, then the dependency gate.
func (j *Job) gatesOpen(opts DriveOptions) bool {
	if !j.timeCleared {
		if j.startTime != nil && TimeOfDayOf(opts.Clock.Now()).Before(*j.startTime) {
			j.wait(StatusWaitingForTime, opts)
			return false
		}
		j.timeCleared = true
	}

	ready := true
	for _, dep := range j.dependsOn {
		st, ok := opts.Lookup(dep)
		if ok && st == StatusFailed && opts.FailDependents {
			j.status = StatusFailed
			j.lastErr = fmt.Errorf("%w: %q", ErrDependencyFailed, dep)
			opts.Logger.Error().Str("job", j.id).Str("dependency", dep).Msg("dependency failed, job will not run")
			return false
		}
		if !ok || st != StatusCompleted {
			ready = false
		}
	}
	if !ready {
		j.wait(StatusWaitingForDependencies, opts)
		return false
	}
	return true
}

func (j *Job) wait(status Status, opts DriveOptions) {
	if j.status == status {
		return
	}
	j.status = status
	ev := opts.Logger.Info().Str("job", j.id).Str("task", j.TaskName())
	if status == StatusWaitingForTime {
		ev.Stringer("start_time", j.startTime).Msg("waiting for start time")
	} else {
		ev.Strs("depends_on", j.dependsOn).Msg("waiting for dependencies")
	}
	opts.publish(events.JobWaitingEvent{ID: j.id, Reason: status.String(), Timestamp: opts.Clock.Now()})
}

func (j *Job) driveWhole(ctx context.Context, opts DriveOptions) Progress {
	// Running without a cursor: the attempt was cut short by a restore or an
	// earlier cancellation.
	if j.cursor == nil && j.status == StatusRunning {
		j.endAttempt(ErrAttemptInterrupted, opts)
	}
	for {
		if j.cursor == nil {
			if ctx.Err() != nil {
				return j.holdRetry(opts)
			}
			if !j.beginAttempt(opts) {
				return ProgressDone
			}
		}

		finished, err := j.advance(ctx, opts)
		if !finished {
			if ctx.Err() != nil {
				return j.suspend(opts)
			}
			continue
		}
		if errors.Is(err, errStepCancelled) {
			return j.suspend(opts)
		}
		j.endAttempt(err, opts)
		if j.status == StatusCompleted {
			return ProgressDone
		}
	}
}

func (j *Job) driveStep(ctx context.Context, opts DriveOptions) Progress {
	// No cursor: start an attempt, closing the lost one first
	if j.cursor == nil {
		if j.status == StatusRunning {
			j.endAttempt(ErrAttemptInterrupted, opts)
		}
		if ctx.Err() != nil {
			return j.holdRetry(opts)
		}
		if !j.beginAttempt(opts) {
			return ProgressDone
		}
	}

	finished, err := j.advance(ctx, opts)
	if !finished {
		return ProgressRunning
	}
	if errors.Is(err, errStepCancelled) {
		return j.suspend(opts)
	}
	j.endAttempt(err, opts)
	if j.status == StatusCompleted {
		return ProgressDone
	}
	if ctx.Err() != nil {
		return j.holdRetry(opts)
	}
	// The next attempt starts right away so a retrying job never shows Failed.
	if j.beginAttempt(opts) {
		return ProgressRunning
	}
	return ProgressDone
}

// suspend drops the cursor of an attempt cut short because ctx is done. The
// job stays Running with its attempt count, so the next drive
// records the attempt as interrupted.
func (j *Job) suspend(opts DriveOptions) Progress {
	j.cursor = nil
	j.status = StatusRunning
	opts.Logger.Warn().Str("job", j.id).Str("task", j.TaskName()).Int("attempt", j.attempts).
		Msg("attempt interrupted by cancellation")
	return ProgressRunning
}

// holdRetry parks a job between attempts while ctx is done. A job with no
// attempts left still fails; otherwise it goes back to Pending and the next
// drive begins a fresh attempt.
func (j *Job) holdRetry(opts DriveOptions) Progress {
	if j.attempts > j.maxRestarts {
		j.exhaust(opts)
		return ProgressDone
	}
	if j.attempts > 0 {
		j.status = StatusPending
	}
	return ProgressRunning
}

// beginAttempt starts a fresh execution of the task. When every attempt has
// been used it marks the job failed and returns false.
func (j *Job) beginAttempt(opts DriveOptions) bool {
	if j.attempts > j.maxRestarts {
		j.exhaust(opts)
		return false
	}

	now := opts.Clock.Now()
	j.attempts++
	j.status = StatusRunning
	j.cursor = &attemptCursor{exec: j.task.Begin(), started: now}

	opts.Logger.Debug().Str("job", j.id).Str("task", j.TaskName()).Int("attempt", j.attempts).Msg("attempt started")
	opts.publish(events.AttemptStartedEvent{ID: j.id, Attempt: j.attempts, Timestamp: now})
	return true
}

func (j *Job) exhaust(opts DriveOptions) {
	j.status = StatusFailed
	j.lastErr = fmt.Errorf("%w after %d attempts: %w", ErrRestartsExhausted, j.attempts, j.lastErr)
	opts.Logger.Error().Str("job", j.id).Str("task", j.TaskName()).Int("attempts", j.attempts).
		Msg("restarts exhausted, job failed")
}

// advance takes one step of the current attempt. The duration limit is
// checked before the step, so an attempt that has already run too long makes
// no further progress.
func (j *Job) advance(ctx context.Context, opts DriveOptions) (finished bool, err error) {
	if j.durationLimit > 0 {
		if elapsed := opts.Clock.Now().Sub(j.cursor.started); elapsed > j.durationLimit {
			return true, fmt.Errorf("%w: ran %s, limit %s", ErrTimeoutExceeded, elapsed, j.durationLimit)
		}
	}
	done, stepErr := safeStep(ctx, j.cursor.exec)
	if stepErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(stepErr, ctxErr) {
			return true, errStepCancelled
		}
		return true, &TaskStepError{JobID: j.id, Attempt: j.attempts, Err: stepErr}
	}
	return done, nil
}

// endAttempt closes the current attempt with success (nil) or failure.
func (j *Job) endAttempt(err error, opts DriveOptions) {
	now := opts.Clock.Now()
	var took time.Duration
	if j.cursor != nil {
		took = now.Sub(j.cursor.started)
	}
	j.cursor = nil

	if err == nil {
		j.status = StatusCompleted
		j.lastErr = nil
		opts.Logger.Info().Str("job", j.id).Str("task", j.TaskName()).Int("attempts", j.attempts).
			Dur("took", took).Msg("job completed")
		return
	}

	j.status = StatusFailed
	j.lastErr = err
	opts.Logger.Warn().Err(err).Str("job", j.id).Str("task", j.TaskName()).Int("attempt", j.attempts).
		Msg("attempt failed")
	opts.publish(events.AttemptFailedEvent{ID: j.id, Attempt: j.attempts, Err: err, Duration: took, Timestamp: now})
}
