package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kvgribko/jobsched/internal/events"
	"github.com/kvgribko/jobsched/internal/persistence"
	"github.com/kvgribko/jobsched/internal/scheduler"
)

type memoryStore struct {
	mu    sync.Mutex
	saves int
	last  scheduler.State
	err   error
}

func (m *memoryStore) SaveState(_ context.Context, st scheduler.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.last = st
	return nil
}

func (m *memoryStore) LoadState(context.Context) (scheduler.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saves == 0 {
		return scheduler.State{}, persistence.ErrSnapshotNotFound
	}
	return m.last, nil
}

type eventLog struct {
	mu     sync.Mutex
	runIDs map[string]bool
	types  []string
}

func (l *eventLog) RecordEvent(_ context.Context, runID string, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.runIDs == nil {
		l.runIDs = map[string]bool{}
	}
	l.runIDs[runID] = true
	l.types = append(l.types, e.EventType())
	return nil
}

func okTask(name string) scheduler.Task {
	return scheduler.FuncTask(name, func(context.Context) error { return nil })
}

// endlessTask never completes.
func endlessTask(name string) scheduler.Task {
	return scheduler.NewTask(name, func() scheduler.Execution {
		return scheduler.StepFunc(func(context.Context) (bool, error) { return false, nil })
	})
}

func newScheduler(t *testing.T, bus *events.EventBus, jobs ...*scheduler.Job) *scheduler.Scheduler {
	t.Helper()
	cfg := scheduler.Config{MaxConcurrent: 2, Mode: scheduler.AttemptStepwise}
	if bus != nil {
		cfg.Publisher = bus
	}
	s := scheduler.New(cfg)
	for _, j := range jobs {
		if err := s.Submit(j); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func job(t *testing.T, id string, task scheduler.Task, opts ...scheduler.Option) *scheduler.Job {
	t.Helper()
	j, err := scheduler.NewJob(id, task, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestRunDrains(t *testing.T) {
	bus := events.NewEventBus()
	store := &memoryStore{}
	rec := &eventLog{}
	s := newScheduler(t, bus,
		job(t, "a", okTask("a")),
		job(t, "b", okTask("b"), scheduler.WithDependencies("a")),
		job(t, "c", okTask("c")),
	)

	r := New(Config{Store: store, Recorder: rec, Bus: bus, RunID: "run-1", AutosaveEvery: 1}, s)
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Drained || res.Counts.Completed != 3 {
		t.Errorf("result = %+v, want three completed jobs", res)
	}
	if res.RunID != "run-1" {
		t.Errorf("RunID = %q", res.RunID)
	}
	// One save per tick plus the final one.
	if res.Saves != res.Ticks+1 || store.saves != res.Saves {
		t.Errorf("saves = %d (store %d), ticks = %d", res.Saves, store.saves, res.Ticks)
	}
	if len(store.last.Completed) != 3 {
		t.Errorf("final snapshot has %d completed jobs, want 3", len(store.last.Completed))
	}

	if !rec.runIDs["run-1"] || len(rec.runIDs) != 1 {
		t.Errorf("recorded run IDs = %v", rec.runIDs)
	}
	completed := 0
	for _, typ := range rec.types {
		if typ == events.EventTypeJobCompleted {
			completed++
		}
	}
	if completed != 3 {
		t.Errorf("recorded %d completion events, want 3", completed)
	}
}

func TestRunTickLimit(t *testing.T) {
	store := &memoryStore{}
	s := newScheduler(t, nil, job(t, "forever", endlessTask("forever")))

	res, err := New(Config{Store: store, MaxTicks: 5}, s).Run(context.Background())
	if !errors.Is(err, ErrTickLimit) {
		t.Fatalf("Run() error = %v, want ErrTickLimit", err)
	}
	if res.Ticks != 5 || res.Drained {
		t.Errorf("result = %+v, want 5 ticks and not drained", res)
	}
	if store.saves != 1 || len(store.last.Running) != 1 {
		t.Errorf("final snapshot not saved: saves=%d last=%+v", store.saves, store.last)
	}
}

func TestRunCancelledStillSaves(t *testing.T) {
	store := &memoryStore{}
	s := newScheduler(t, nil, job(t, "forever", endlessTask("forever")))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	res, err := New(Config{Store: store, TickInterval: 5 * time.Millisecond}, s).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.Drained {
		t.Error("cancelled run reported drained")
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want the final save", store.saves)
	}
}

func TestRunPacesTicks(t *testing.T) {
	s := newScheduler(t, nil,
		job(t, "a", okTask("a")),
		job(t, "b", okTask("b"), scheduler.WithDependencies("a")),
	)

	start := time.Now()
	res, err := New(Config{TickInterval: 20 * time.Millisecond}, s).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// Gaps between ticks are paced; the first tick is not.
	if min := time.Duration(res.Ticks-1) * 20 * time.Millisecond; time.Since(start) < min*3/4 {
		t.Errorf("%d ticks took %v, want at least about %v", res.Ticks, time.Since(start), min)
	}
}

func TestRunSaveFailureIsNotFatal(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	s := newScheduler(t, nil, job(t, "a", okTask("a")))

	res, err := New(Config{Store: store, AutosaveEvery: 1}, s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Saves != 0 || !res.Drained {
		t.Errorf("result = %+v", res)
	}
}

func TestResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := persistence.NewFileStore(path)
	ctx := context.Background()

	first := newScheduler(t, nil,
		job(t, "a", okTask("a")),
		job(t, "b", endlessTask("b")),
	)
	if _, err := New(Config{Store: store, MaxTicks: 3}, first).Run(ctx); !errors.Is(err, ErrTickLimit) {
		t.Fatalf("first run error = %v", err)
	}

	reg, err := scheduler.NewRegistry(okTask("a"), okTask("b"))
	if err != nil {
		t.Fatal(err)
	}
	second := scheduler.New(scheduler.Config{Registry: reg})
	r := New(Config{Store: store}, second)
	if err := r.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if got := second.Completed(); len(got) != 1 || got[0] != "a" {
		t.Errorf("resumed completed = %v, want [a]", got)
	}

	res, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("resumed run error = %v", err)
	}
	// b was mid-attempt when the first run stopped; that attempt counts as
	// interrupted and b has no restarts left.
	if res.Counts.Completed != 1 || res.Counts.Failed != 1 {
		t.Errorf("counts = %+v, want a completed and b failed", res.Counts)
	}
}

func TestResumeWithoutSnapshot(t *testing.T) {
	r := New(Config{Store: &memoryStore{}}, newScheduler(t, nil))
	if err := r.Resume(context.Background()); !errors.Is(err, persistence.ErrSnapshotNotFound) {
		t.Errorf("Resume() error = %v, want ErrSnapshotNotFound", err)
	}
	if err := New(Config{}, newScheduler(t, nil)).Resume(context.Background()); err == nil {
		t.Error("Resume() without a store succeeded")
	}
}

func TestRunRecordsCompleteHistory(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	bus := events.NewEventBus()
	s := scheduler.New(scheduler.Config{MaxConcurrent: 50, Publisher: bus})
	const total = 400
	ids := make([]string, 0, total)
	for i := range total {
		id := fmt.Sprintf("job-%03d", i)
		ids = append(ids, id)
		if err := s.Submit(job(t, id, okTask(id))); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := New(Config{Recorder: db, Bus: bus, RunID: "busy"}, s).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	incomplete := 0
	for _, id := range ids {
		history, err := db.History(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		// admitted, attempt started, completed
		if len(history) != 3 {
			incomplete++
		}
	}
	if incomplete > 0 {
		t.Errorf("%d/%d jobs have an incomplete history", incomplete, total)
	}
}

func TestRunCancelledLeavesJobsResumable(t *testing.T) {
	store := &memoryStore{}
	blocking := scheduler.FuncTask("wait", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s := newScheduler(t, nil, job(t, "wait", blocking, scheduler.WithMaxRestarts(5)))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	if _, err := New(Config{Store: store}, s).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(store.last.Failed) != 0 || len(store.last.Running) != 1 {
		t.Fatalf("final snapshot running=%d failed=%d, want 1 and 0", len(store.last.Running), len(store.last.Failed))
	}
	if js := store.last.Running[0]; js.Status != scheduler.StatusRunning || js.Attempts != 1 {
		t.Errorf("saved job = %+v, want running after one attempt", js)
	}
}
