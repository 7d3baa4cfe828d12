// Package runner drives a scheduler to completion: it paces ticks, saves
// snapshots and reports bus events while the scheduler works.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kvgribko/jobsched/internal/events"
	"github.com/kvgribko/jobsched/internal/logging"
	"github.com/kvgribko/jobsched/internal/persistence"
	"github.com/kvgribko/jobsched/internal/scheduler"
)

// ErrTickLimit is returned when MaxTicks ticks ran without draining the scheduler.
var ErrTickLimit = errors.New("tick limit reached")

// EventRecorder persists bus events, e.g. *persistence.SQLiteStore.
type EventRecorder interface {
	RecordEvent(ctx context.Context, runID string, e events.Event) error
}

// Config configures a Runner.
type Config struct {
	TickInterval  time.Duration // minimum time between ticks, 0 = no pacing
	MaxTicks      int           // 0 = unlimited
	AutosaveEvery int           // ticks between snapshots, 0 = only at the end

	Store    persistence.StateStore // optional
	Recorder EventRecorder          // optional
	Bus      *events.EventBus       // optional; closed when Run returns

	RunID  string // defaults to a random UUID
	Logger *zerolog.Logger
}

// Result summarizes a run.
type Result struct {
	RunID   string
	Ticks   int
	Counts  scheduler.Counts
	Drained bool
	Saves   int
}

// Runner owns a scheduler for the duration of Run.
type Runner struct {
	cfg   Config
	sched *scheduler.Scheduler
	log   zerolog.Logger
}

// New creates a runner for sched.
func New(cfg Config, sched *scheduler.Scheduler) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	log := logging.Component(cfg.Logger, "runner").With().Str("run", cfg.RunID).Logger()
	return &Runner{cfg: cfg, sched: sched, log: log}
}

// Resume restores the scheduler from the configured store. It reports
// persistence.ErrSnapshotNotFound when there is nothing to resume.
func (r *Runner) Resume(ctx context.Context) error {
	if r.cfg.Store == nil {
		return errors.New("no state store configured")
	}
	st, err := r.cfg.Store.LoadState(ctx)
	if err != nil {
		return err
	}
	if err := r.sched.Restore(st); err != nil {
		return err
	}
	r.log.Info().Int("jobs", st.Len()).Msg("resumed from snapshot")
	return nil
}

// Run ticks the scheduler until it drains, ctx is cancelled or MaxTicks is
// reached. The final snapshot is saved even when ctx was cancelled.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var g errgroup.Group

	// The recorder reads a queued subscription so history never loses events.
	if r.cfg.Bus != nil {
		sub := r.cfg.Bus.SubscribeAllQueued()
		g.Go(func() error {
			r.consumeEvents(ctx, sub)
			return nil
		})
	}

	var result Result
	g.Go(func() error {
		if r.cfg.Bus != nil {
			defer r.cfg.Bus.Close()
		}
		var err error
		result, err = r.drive(ctx)
		return err
	})
	err := g.Wait()

	if r.cfg.Bus != nil {
		if dropped := r.cfg.Bus.Dropped(); dropped > 0 {
			r.log.Warn().Uint64("dropped", dropped).Msg("slow event subscribers missed events")
		}
	}
	return result, err
}

func (r *Runner) drive(ctx context.Context) (Result, error) {
	result := Result{RunID: r.cfg.RunID}
	start := r.sched.TickCount()

	var limiter *rate.Limiter
	if r.cfg.TickInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.cfg.TickInterval), 1)
		// Take the initial token so the second tick waits a full interval.
		limiter.Allow()
	}

	r.log.Info().Int("jobs", r.sched.Counts().Total()).Msg("run started")

	var err error
	for report := range r.sched.Ticks(ctx) {
		r.log.Debug().
			Int("tick", report.Tick).
			Strs("admitted", report.Admitted).
			Strs("completed", report.Completed).
			Strs("failed", report.Failed).
			Msg("tick")

		if r.cfg.AutosaveEvery > 0 && report.Tick%r.cfg.AutosaveEvery == 0 {
			if r.save(ctx) {
				result.Saves++
			}
		}
		if r.cfg.MaxTicks > 0 && report.Tick-start >= r.cfg.MaxTicks && !r.sched.IsDrained() {
			err = fmt.Errorf("%w after %d ticks", ErrTickLimit, r.cfg.MaxTicks)
			break
		}
		if limiter != nil && !r.sched.IsDrained() {
			if werr := limiter.Wait(ctx); werr != nil {
				break
			}
		}
	}
	if err == nil && !r.sched.IsDrained() {
		err = ctx.Err()
	}

	// Save with a fresh deadline so an interrupted run still leaves a snapshot.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if r.save(saveCtx) {
		result.Saves++
	}

	result.Ticks = r.sched.TickCount() - start
	result.Counts = r.sched.Counts()
	result.Drained = r.sched.IsDrained()

	ev := r.log.Info()
	if err != nil {
		ev = r.log.Warn().Err(err)
	}
	ev.Int("ticks", result.Ticks).
		Int("completed", result.Counts.Completed).
		Int("failed", result.Counts.Failed).
		Int("unfinished", result.Counts.Pending+result.Counts.Running).
		Msg("run finished")
	return result, err
}

// save writes a snapshot to the store, logging failures. It reports whether a
// snapshot was written.
func (r *Runner) save(ctx context.Context) bool {
	if r.cfg.Store == nil {
		return false
	}
	if err := r.cfg.Store.SaveState(ctx, r.sched.Snapshot()); err != nil {
		r.log.Error().Err(err).Msg("failed to save snapshot")
		return false
	}
	return true
}

func (r *Runner) consumeEvents(ctx context.Context, sub <-chan events.Event) {
	recordCtx := context.WithoutCancel(ctx)
	for e := range sub {
		if e.JobID() != "" {
			r.log.Debug().Str("event", e.EventType()).Str("job", e.JobID()).Msg("job event")
		}
		if r.cfg.Recorder == nil {
			continue
		}
		if err := r.cfg.Recorder.RecordEvent(recordCtx, r.cfg.RunID, e); err != nil {
			r.log.Warn().Err(err).Str("event", e.EventType()).Msg("failed to record event")
		}
	}
}
