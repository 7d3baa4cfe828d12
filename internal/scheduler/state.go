package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is a serializable snapshot of a Scheduler. It records every job's
// policy and progress but not its in-flight execution.
type State struct {
	MaxConcurrent int
	Pending       []JobState
	Running       []JobState
	Completed     []JobState
	Failed        []JobState
}

// JobState is the persisted form of one Job.
type JobState struct {
	ID            string
	Task          string
	DurationLimit time.Duration
	StartTime     *TimeOfDay
	MaxRestarts   int
	DependsOn     []string
	Status        Status
	Attempts      int
	LastError     string
}

// Len is the number of jobs in the snapshot.
func (st State) Len() int {
	return len(st.Pending) + len(st.Running) + len(st.Completed) + len(st.Failed)
}

// StateCodec converts a State to and from bytes.
type StateCodec interface {
	EncodeState(State) ([]byte, error)
	DecodeState([]byte) (State, error)
}

// Snapshot captures the scheduler's current state.
func (s *Scheduler) Snapshot() State {
	return State{
		MaxConcurrent: s.maxConcurrent,
		Pending:       jobStates(s.pending),
		Running:       jobStates(s.running),
		Completed:     jobStates(s.completed),
		Failed:        jobStates(s.failed),
	}
}

func jobStates(jobs []*Job) []JobState {
	out := make([]JobState, 0, len(jobs))
	for _, j := range jobs {
		js := JobState{
			ID:            j.id,
			Task:          j.TaskName(),
			DurationLimit: j.durationLimit,
			MaxRestarts:   j.maxRestarts,
			DependsOn:     j.DependsOn(),
			Status:        j.status,
			Attempts:      j.attempts,
		}
		if j.startTime != nil {
			st := *j.startTime
			js.StartTime = &st
		}
		if j.lastErr != nil {
			js.LastError = j.lastErr.Error()
		}
		out = append(out, js)
	}
	return out
}

// Restore replaces the scheduler's jobs with the ones in st.
//
// Task names are resolved through the configured Registry first and then
// through the tasks of jobs the scheduler already holds. Everything is
// validated before anything is replaced; on error the scheduler is unchanged
// and the error is a *SerializationError.
//
// Jobs restored as Running have lost their execution cursor. Their next drive
// records the interrupted attempt as failed and retries if restarts remain.
func (s *Scheduler) Restore(st State) error {
	known := make(map[string]Task, len(s.jobs))
	for _, j := range s.jobs {
		known[j.TaskName()] = j.task
	}
	resolve := func(name string) (Task, bool) {
		if t, ok := s.cfg.Registry.Lookup(name); ok {
			return t, true
		}
		t, ok := known[name]
		return t, ok
	}

	jobs := make(map[string]*Job, st.Len())
	build := func(collection string, states []JobState, allowed func(*Job) bool) ([]*Job, error) {
		out := make([]*Job, 0, len(states))
		for i, js := range states {
			job, err := restoreJob(js, resolve)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", collection, i, err)
			}
			if !allowed(job) {
				return nil, fmt.Errorf("%s[%d]: job %q has status %s", collection, i, job.id, job.status)
			}
			if _, dup := jobs[job.id]; dup {
				return nil, fmt.Errorf("%s[%d]: %w: %q", collection, i, ErrDuplicateJob, job.id)
			}
			jobs[job.id] = job
			out = append(out, job)
		}
		return out, nil
	}

	pending, err := build("pending", st.Pending, func(j *Job) bool { return j.status == StatusPending && j.attempts == 0 })
	if err != nil {
		return &SerializationError{Op: "restore", Err: err}
	}
	// Admitted jobs keep Pending status until their first drive. A running
	// job that was parked between attempts is Pending with attempts > 0.
	running, err := build("running", st.Running, func(j *Job) bool { return !j.status.Terminal() })
	if err != nil {
		return &SerializationError{Op: "restore", Err: err}
	}
	completed, err := build("completed", st.Completed, func(j *Job) bool { return j.status == StatusCompleted })
	if err != nil {
		return &SerializationError{Op: "restore", Err: err}
	}
	failed, err := build("failed", st.Failed, func(j *Job) bool { return j.status == StatusFailed })
	if err != nil {
		return &SerializationError{Op: "restore", Err: err}
	}

	maxConcurrent := st.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	s.maxConcurrent = maxConcurrent
	s.jobs = jobs
	s.pending = pending
	s.running = running
	s.completed = completed
	s.failed = failed
	s.ticks = 0

	s.log.Info().Int("jobs", len(jobs)).Int("running", len(running)).Int("pending", len(pending)).
		Msg("scheduler state restored")
	return nil
}

func restoreJob(js JobState, resolve func(string) (Task, bool)) (*Job, error) {
	if js.ID == "" {
		return nil, errors.New("job has no id")
	}
	task, ok := resolve(js.Task)
	if !ok {
		return nil, fmt.Errorf("job %q: unknown task %q", js.ID, js.Task)
	}
	if js.MaxRestarts < 0 {
		return nil, fmt.Errorf("job %q: max restarts must be >= 0, got %d", js.ID, js.MaxRestarts)
	}
	if js.DurationLimit < 0 {
		return nil, fmt.Errorf("job %q: duration limit must be >= 0, got %s", js.ID, js.DurationLimit)
	}
	if js.Attempts < 0 || js.Attempts > js.MaxRestarts+1 {
		return nil, fmt.Errorf("job %q: attempts %d outside 0..%d", js.ID, js.Attempts, js.MaxRestarts+1)
	}
	switch js.Status {
	case StatusPending:
		if js.Attempts > js.MaxRestarts {
			return nil, fmt.Errorf("job %q: pending job has no attempts left", js.ID)
		}
	case StatusWaitingForTime, StatusWaitingForDependencies:
		if js.Attempts != 0 {
			return nil, fmt.Errorf("job %q: %s job cannot have %d attempts", js.ID, js.Status, js.Attempts)
		}
	case StatusRunning, StatusCompleted:
		if js.Attempts == 0 {
			return nil, fmt.Errorf("job %q: %s job must have at least one attempt", js.ID, js.Status)
		}
	case StatusFailed:
	default:
		return nil, fmt.Errorf("job %q: invalid status %d", js.ID, int(js.Status))
	}

	j := &Job{
		id:            js.ID,
		task:          task,
		durationLimit: js.DurationLimit,
		maxRestarts:   js.MaxRestarts,
		dependsOn:     append([]string(nil), js.DependsOn...),
		status:        js.Status,
		attempts:      js.Attempts,
	}
	if js.StartTime != nil {
		st := *js.StartTime
		j.startTime = &st
	}
	if js.LastError != "" {
		j.lastErr = restoredError(js.LastError)
	}
	// A job past the time gate never re-checks it.
	if js.Attempts > 0 {
		j.timeCleared = true
	}
	switch js.Status {
	case StatusWaitingForDependencies, StatusRunning, StatusCompleted, StatusFailed:
		j.timeCleared = true
	}
	return j, nil
}

// SaveState encodes a snapshot with codec.
func (s *Scheduler) SaveState(codec StateCodec) ([]byte, error) {
	data, err := codec.EncodeState(s.Snapshot())
	if err != nil {
		var serr *SerializationError
		if errors.As(err, &serr) {
			return nil, err
		}
		return nil, &SerializationError{Op: "encode", Err: err}
	}
	return data, nil
}

// LoadState decodes data with codec and restores it. A malformed payload
// leaves the scheduler untouched.
func (s *Scheduler) LoadState(codec StateCodec, data []byte) error {
	st, err := codec.DecodeState(data)
	if err != nil {
		var serr *SerializationError
		if errors.As(err, &serr) {
			return err
		}
		return &SerializationError{Op: "decode", Err: err}
	}
	return s.Restore(st)
}

// restoredError rebuilds a saved error message. Messages produced by one of
// the scheduler's sentinels wrap that sentinel again so errors.Is keeps
// working after a restore.
func restoredError(msg string) error {
	for _, sentinel := range []error{ErrRestartsExhausted, ErrTimeoutExceeded, ErrAttemptInterrupted, ErrDependencyFailed} {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()); ok {
			return fmt.Errorf("%w%s", sentinel, rest)
		}
	}
	return errors.New(msg)
}
