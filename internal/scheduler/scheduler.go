package scheduler

import (
	"context"
	"fmt"
	"iter"

	"github.com/rs/zerolog"

	"github.com/kvgribko/jobsched/internal/events"
	"github.com/kvgribko/jobsched/internal/logging"
)

// DefaultMaxConcurrent is used when Config.MaxConcurrent is not positive.
const DefaultMaxConcurrent = 10

// Config configures a Scheduler.
type Config struct {
	// MaxConcurrent bounds the running collection. Jobs waiting on a gate
	// occupy a running slot too.
	MaxConcurrent int

	Mode           AttemptMode
	FailDependents bool

	Clock     Clock
	Logger    *zerolog.Logger
	Publisher events.Publisher

	// Registry resolves task names when a snapshot is restored. Tasks of jobs
	// already known to the scheduler are used as a fallback.
	Registry *Registry
}

// Counts is the size of each job collection.
type Counts struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
}

// Total is the number of jobs known to the scheduler.
func (c Counts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed
}

// TickReport summarizes one tick.
type TickReport struct {
	Tick      int
	Admitted  []string
	Completed []string
	Failed    []string
	Counts    Counts
}

// Scheduler interleaves the progress of many jobs on a single goroutine.
//
// It owns four disjoint collections (pending, running, completed, failed) and
// the ID table used to resolve dependencies. A Scheduler is not safe for
// concurrent use.
type Scheduler struct {
	cfg           Config
	maxConcurrent int
	log           zerolog.Logger
	drive         DriveOptions

	jobs      map[string]*Job
	pending   []*Job
	running   []*Job
	completed []*Job
	failed    []*Job

	ticks int
}

// New creates an empty scheduler.
func New(cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	log := logging.Component(cfg.Logger, "scheduler")

	s := &Scheduler{
		cfg:           cfg,
		maxConcurrent: cfg.MaxConcurrent,
		log:           log,
		jobs:          make(map[string]*Job),
	}
	s.drive = DriveOptions{
		Clock:          cfg.Clock,
		Lookup:         s.statusOf,
		Mode:           cfg.Mode,
		FailDependents: cfg.FailDependents,
		Logger:         &s.log,
		Publisher:      cfg.Publisher,
	}
	return s
}

// MaxConcurrent returns the admission limit currently in effect.
func (s *Scheduler) MaxConcurrent() int { return s.maxConcurrent }

// Submit appends a job to the pending collection. Dependency cycles are not
// detected here; see Validate.
func (s *Scheduler) Submit(job *Job) error {
	if job == nil {
		return ErrNilJob
	}
	if job.task == nil {
		return ErrNilTask
	}
	if _, exists := s.jobs[job.id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateJob, job.id)
	}
	s.jobs[job.id] = job
	s.pending = append(s.pending, job)
	s.log.Debug().Str("job", job.id).Str("task", job.TaskName()).Msg("job submitted")
	return nil
}

// Tick advances every running job by one drive, then admits pending jobs in
// FIFO order while the running collection has room.
//
// Jobs that are still waiting on a gate after their drive are moved behind
// the jobs that are actively running. Newly admitted jobs are first driven on
// the following tick.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.ticks++
	report := TickReport{Tick: s.ticks}

	current := s.running
	s.running = make([]*Job, 0, len(current))
	var waiting []*Job

	for _, job := range current {
		job.Drive(ctx, s.drive)

		switch job.status {
		case StatusCompleted:
			s.completed = append(s.completed, job)
			report.Completed = append(report.Completed, job.id)
			s.log.Info().Str("job", job.id).Msg("job moved to completed")
			s.publish(events.TopicJob, events.JobCompletedEvent{ID: job.id, Attempts: job.attempts, Timestamp: s.cfg.Clock.Now()})
		case StatusFailed:
			s.failed = append(s.failed, job)
			report.Failed = append(report.Failed, job.id)
			s.log.Error().Err(job.lastErr).Str("job", job.id).Msg("job moved to failed")
			s.publish(events.TopicJob, events.JobFailedEvent{ID: job.id, Attempts: job.attempts, Err: job.lastErr, Timestamp: s.cfg.Clock.Now()})
		case StatusRunning:
			s.running = append(s.running, job)
		default:
			waiting = append(waiting, job)
		}
	}
	s.running = append(s.running, waiting...)

	for len(s.pending) > 0 && len(s.running) < s.maxConcurrent {
		job := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.running = append(s.running, job)
		report.Admitted = append(report.Admitted, job.id)
		s.log.Info().Str("job", job.id).Str("task", job.TaskName()).Msg("job admitted")
		s.publish(events.TopicJob, events.JobAdmittedEvent{ID: job.id, Task: job.TaskName(), Timestamp: s.cfg.Clock.Now()})
	}

	report.Counts = s.Counts()
	s.publish(events.TopicScheduler, events.ProgressEvent{
		Tick:      report.Tick,
		Total:     report.Counts.Total(),
		Completed: report.Counts.Completed,
		Running:   report.Counts.Running,
		Failed:    report.Counts.Failed,
		Pending:   report.Counts.Pending,
		Timestamp: s.cfg.Clock.Now(),
	})
	return report
}

// Ticks returns a lazy sequence that performs one tick per element consumed.
// It ends once the scheduler is drained or ctx is done.
func (s *Scheduler) Ticks(ctx context.Context) iter.Seq[TickReport] {
	return func(yield func(TickReport) bool) {
		for !s.IsDrained() {
			if ctx.Err() != nil {
				return
			}
			if !yield(s.Tick(ctx)) {
				return
			}
		}
	}
}

// Run ticks until both pending and running are empty. A job that waits
// forever (for example behind a failed dependency) keeps Run going until ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for range s.Ticks(ctx) {
	}
	if s.IsDrained() {
		return nil
	}
	return ctx.Err()
}

// IsDrained reports whether both running and pending are empty.
func (s *Scheduler) IsDrained() bool {
	return len(s.running) == 0 && len(s.pending) == 0
}

// TickCount returns the number of ticks performed since creation or restore.
func (s *Scheduler) TickCount() int { return s.ticks }

// Counts returns the current collection sizes.
func (s *Scheduler) Counts() Counts {
	return Counts{
		Pending:   len(s.pending),
		Running:   len(s.running),
		Completed: len(s.completed),
		Failed:    len(s.failed),
	}
}

func (s *Scheduler) Pending() []string   { return ids(s.pending) }
func (s *Scheduler) Running() []string   { return ids(s.running) }
func (s *Scheduler) Completed() []string { return ids(s.completed) }
func (s *Scheduler) Failed() []string    { return ids(s.failed) }

// Job returns the job with the given ID.
func (s *Scheduler) Job(id string) (*Job, bool) {
	job, ok := s.jobs[id]
	return job, ok
}

// Jobs returns every job, collection by collection: pending, running,
// completed, failed.
func (s *Scheduler) Jobs() []*Job {
	all := make([]*Job, 0, len(s.jobs))
	all = append(all, s.pending...)
	all = append(all, s.running...)
	all = append(all, s.completed...)
	all = append(all, s.failed...)
	return all
}

func (s *Scheduler) statusOf(id string) (Status, bool) {
	job, ok := s.jobs[id]
	if !ok {
		return 0, false
	}
	return job.status, true
}

func (s *Scheduler) publish(topic string, e events.Event) {
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.Publish(topic, e)
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.id
	}
	return out
}
