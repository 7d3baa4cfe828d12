package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/kvgribko/jobsched/internal/events"
)

func TestSchedulerEndToEndDependencies(t *testing.T) {
	s := New(Config{MaxConcurrent: 3, Clock: newFakeClock(12, 0, 0)})

	for _, job := range []*Job{
		mustJob(t, "job1", okTask("noop")),
		mustJob(t, "job2", okTask("noop"), WithDependencies("job1")),
		mustJob(t, "job3", okTask("noop"), WithDependencies("job1", "job2")),
	} {
		if err := s.Submit(job); err != nil {
			t.Fatalf("Submit(%s): %v", job.ID(), err)
		}
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := s.Completed(); !slices.Equal(got, []string{"job1", "job2", "job3"}) {
		t.Errorf("Completed() = %v, want [job1 job2 job3]", got)
	}
	if got := s.Failed(); len(got) != 0 {
		t.Errorf("Failed() = %v, want empty", got)
	}
	if !s.IsDrained() {
		t.Error("IsDrained() = false after Run")
	}
}

func TestSchedulerDependencySubmittedLater(t *testing.T) {
	s := New(Config{MaxConcurrent: 1, Clock: newFakeClock(12, 0, 0)})
	_ = s.Submit(mustJob(t, "first", okTask("noop")))
	_ = s.Submit(mustJob(t, "second", okTask("noop"), WithDependencies("first")))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := s.Completed(); !slices.Equal(got, []string{"first", "second"}) {
		t.Errorf("Completed() = %v, want [first second]", got)
	}
}

func TestSchedulerDrainsMoreJobsThanSlots(t *testing.T) {
	const maxConcurrent = 4
	total := maxConcurrent + 5

	s := New(Config{MaxConcurrent: maxConcurrent, Clock: newFakeClock(12, 0, 0)})
	want := make([]string, 0, total)
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("job-%02d", i)
		want = append(want, id)
		if err := s.Submit(mustJob(t, id, okTask("noop"))); err != nil {
			t.Fatalf("Submit(%s): %v", id, err)
		}
	}

	ticks := 0
	for report := range s.Ticks(context.Background()) {
		ticks++
		if report.Counts.Running > maxConcurrent {
			t.Fatalf("tick %d: %d running, limit %d", report.Tick, report.Counts.Running, maxConcurrent)
		}
		if report.Counts.Total() != total {
			t.Fatalf("tick %d: %d jobs tracked, want %d", report.Tick, report.Counts.Total(), total)
		}
		if ticks > 100 {
			t.Fatal("scheduler did not drain")
		}
	}

	if got := s.Completed(); !slices.Equal(got, want) {
		t.Errorf("Completed() = %v, want %v", got, want)
	}
}

func TestSchedulerAdmittedJobsRunNextTick(t *testing.T) {
	var c counter
	s := New(Config{MaxConcurrent: 2, Clock: newFakeClock(12, 0, 0)})
	_ = s.Submit(mustJob(t, "a", countingTask("t", 1, 0, &c)))
	_ = s.Submit(mustJob(t, "b", countingTask("t", 1, 0, &c)))
	_ = s.Submit(mustJob(t, "c", countingTask("t", 1, 0, &c)))

	report := s.Tick(context.Background())

	if !slices.Equal(report.Admitted, []string{"a", "b"}) {
		t.Errorf("Admitted = %v, want [a b]", report.Admitted)
	}
	if c.begun != 0 {
		t.Errorf("task begun %d times on admission tick, want 0", c.begun)
	}
	if got := s.Pending(); !slices.Equal(got, []string{"c"}) {
		t.Errorf("Pending() = %v, want [c]", got)
	}

	report = s.Tick(context.Background())
	if !slices.Equal(report.Completed, []string{"a", "b"}) {
		t.Errorf("Completed this tick = %v, want [a b]", report.Completed)
	}
	if !slices.Equal(report.Admitted, []string{"c"}) {
		t.Errorf("Admitted = %v, want [c]", report.Admitted)
	}
}

func TestSchedulerWaitingJobsMoveToBack(t *testing.T) {
	clock := newFakeClock(8, 0, 0)
	s := New(Config{MaxConcurrent: 3, Clock: clock, Mode: AttemptStepwise})
	var c counter
	_ = s.Submit(mustJob(t, "late", okTask("noop"), WithStartTime(TimeOfDay{Hour: 9})))
	_ = s.Submit(mustJob(t, "busy", countingTask("t", 3, 0, &c)))

	s.Tick(context.Background())
	s.Tick(context.Background())

	if got := s.Running(); !slices.Equal(got, []string{"busy", "late"}) {
		t.Errorf("Running() = %v, want [busy late]", got)
	}
	job, _ := s.Job("late")
	if job.Status() != StatusWaitingForTime {
		t.Errorf("late job status = %s, want waiting_for_time", job.Status())
	}
}

func TestSchedulerSubmitRejects(t *testing.T) {
	s := New(Config{})
	if err := s.Submit(nil); !errors.Is(err, ErrNilJob) {
		t.Errorf("Submit(nil) = %v, want ErrNilJob", err)
	}
	if err := s.Submit(mustJob(t, "a", okTask("noop"))); err != nil {
		t.Fatalf("Submit(a): %v", err)
	}
	if err := s.Submit(mustJob(t, "a", okTask("noop"))); !errors.Is(err, ErrDuplicateJob) {
		t.Errorf("Submit(duplicate) = %v, want ErrDuplicateJob", err)
	}
	if s.Counts().Pending != 1 {
		t.Errorf("Pending = %d, want 1", s.Counts().Pending)
	}
}

func TestSchedulerDefaultMaxConcurrent(t *testing.T) {
	s := New(Config{MaxConcurrent: 0})
	if s.MaxConcurrent() != DefaultMaxConcurrent {
		t.Errorf("MaxConcurrent() = %d, want %d", s.MaxConcurrent(), DefaultMaxConcurrent)
	}
}

func TestSchedulerFailedJobsAndDependents(t *testing.T) {
	tests := []struct {
		name           string
		failDependents bool
		wantFailed     []string
		wantDrained    bool
	}{
		{name: "dependents wait", failDependents: false, wantFailed: []string{"broken"}, wantDrained: false},
		{name: "dependents fail", failDependents: true, wantFailed: []string{"broken", "after"}, wantDrained: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{MaxConcurrent: 2, Clock: newFakeClock(12, 0, 0), FailDependents: tt.failDependents})
			var c counter
			_ = s.Submit(mustJob(t, "broken", countingTask("t", 1, -1, &c), WithMaxRestarts(1)))
			_ = s.Submit(mustJob(t, "after", okTask("noop"), WithDependencies("broken")))

			for i := 0; i < 10; i++ {
				s.Tick(context.Background())
			}

			if got := s.Failed(); !slices.Equal(got, tt.wantFailed) {
				t.Errorf("Failed() = %v, want %v", got, tt.wantFailed)
			}
			if s.IsDrained() != tt.wantDrained {
				t.Errorf("IsDrained() = %v, want %v", s.IsDrained(), tt.wantDrained)
			}
		})
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s := New(Config{Clock: newFakeClock(12, 0, 0)})
	_ = s.Submit(mustJob(t, "orphan", okTask("noop"), WithDependencies("missing")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want context.DeadlineExceeded", err)
	}
	if got := s.Running(); !slices.Equal(got, []string{"orphan"}) {
		t.Errorf("Running() = %v, want [orphan]", got)
	}
}

func TestSchedulerTicksStopsWhenConsumerBreaks(t *testing.T) {
	s := New(Config{MaxConcurrent: 1, Clock: newFakeClock(12, 0, 0)})
	for i := 0; i < 3; i++ {
		_ = s.Submit(mustJob(t, fmt.Sprintf("j%d", i), okTask("noop")))
	}

	for range s.Ticks(context.Background()) {
		break
	}
	if s.TickCount() != 1 {
		t.Errorf("TickCount() = %d, want 1", s.TickCount())
	}
}

func TestSchedulerPublishesProgress(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	progress := bus.Subscribe(events.TopicScheduler, 16)
	jobs := bus.Subscribe(events.TopicJob, 64)

	s := New(Config{MaxConcurrent: 2, Clock: newFakeClock(12, 0, 0), Publisher: bus})
	_ = s.Submit(mustJob(t, "a", okTask("noop")))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var last events.ProgressEvent
	for len(progress) > 0 {
		last = (<-progress).(events.ProgressEvent)
	}
	if last.Total != 1 || last.Completed != 1 || last.Running != 0 {
		t.Errorf("last progress = %+v, want 1 of 1 completed", last)
	}

	var types []string
	for len(jobs) > 0 {
		types = append(types, (<-jobs).EventType())
	}
	want := []string{events.EventTypeJobAdmitted, events.EventTypeAttemptStarted, events.EventTypeJobCompleted}
	if !slices.Equal(types, want) {
		t.Errorf("job events = %v, want %v", types, want)
	}
}

// cancellingTask cancels the tick's context from its first step and then
// behaves like a task that honours ctx.
func cancellingTask(name string, cancel context.CancelFunc) Task {
	return NewTask(name, func() Execution {
		return StepFunc(func(ctx context.Context) (bool, error) {
			cancel()
			<-ctx.Done()
			return false, ctx.Err()
		})
	})
}

func TestSchedulerCancellationKeepsJobsResumable(t *testing.T) {
	for _, mode := range []AttemptMode{AttemptWhole, AttemptStepwise} {
		t.Run(mode.String(), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			s := New(Config{MaxConcurrent: 3, Mode: mode, Clock: newFakeClock(12, 0, 0)})
			for _, id := range []string{"a", "b", "c"} {
				_ = s.Submit(mustJob(t, id, cancellingTask("work", cancel), WithMaxRestarts(3)))
			}

			s.Tick(ctx) // admit
			s.Tick(ctx) // a cancels ctx mid-attempt

			snap := s.Snapshot()
			if len(snap.Running) != 3 || len(snap.Failed) != 0 {
				t.Fatalf("snapshot running=%d failed=%d, want 3 and 0", len(snap.Running), len(snap.Failed))
			}
			a, _ := s.Job("a")
			if a.Status() != StatusRunning || a.Attempts() != 1 {
				t.Errorf("a: status=%s attempts=%d, want running with 1 attempt", a.Status(), a.Attempts())
			}
			for _, id := range []string{"b", "c"} {
				job, _ := s.Job(id)
				if job.Attempts() != 0 {
					t.Errorf("%s began %d attempts after cancellation", id, job.Attempts())
				}
			}

			reg, _ := NewRegistry(okTask("work"))
			resumed := New(Config{MaxConcurrent: 3, Mode: mode, Registry: reg, Clock: newFakeClock(12, 0, 0)})
			if err := resumed.Restore(snap); err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if err := resumed.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if got := resumed.Completed(); len(got) != 3 {
				t.Fatalf("Completed() = %v, want all three jobs", got)
			}
			a, _ = resumed.Job("a")
			if a.Attempts() != 2 {
				t.Errorf("a attempts after resume = %d, want 2 (interrupted + retry)", a.Attempts())
			}
		})
	}
}
