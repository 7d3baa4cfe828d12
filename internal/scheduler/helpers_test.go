package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kvgribko/jobsched/internal/events"
)

// fakeClock only moves when told to.
type fakeClock struct {
	now time.Time
}

func newFakeClock(hour, minute, second int) *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, hour, minute, second, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// tickingClock moves forward by step on every Now call.
type tickingClock struct {
	now  time.Time
	step time.Duration
}

func (c *tickingClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

// counter records how often a task was begun and stepped.
type counter struct {
	begun   int
	stepped int
}

// countingTask completes after steps steps. The first failFirst attempts fail
// on their first step; a negative failFirst fails every attempt.
func countingTask(name string, steps, failFirst int, c *counter) Task {
	return NewTask(name, func() Execution {
		c.begun++
		attempt := c.begun
		taken := 0
		return StepFunc(func(context.Context) (bool, error) {
			c.stepped++
			if failFirst < 0 || attempt <= failFirst {
				return false, errors.New("boom")
			}
			taken++
			return taken >= steps, nil
		})
	})
}

func okTask(name string) Task {
	return FuncTask(name, func(context.Context) error { return nil })
}

func mustJob(t *testing.T, id string, task Task, opts ...Option) *Job {
	t.Helper()
	job, err := NewJob(id, task, opts...)
	if err != nil {
		t.Fatalf("NewJob(%q): %v", id, err)
	}
	return job
}

func lookupOf(statuses map[string]Status) StatusLookup {
	return func(id string) (Status, bool) {
		st, ok := statuses[id]
		return st, ok
	}
}

// recorder is an events.Publisher that keeps everything it receives.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ string, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, typ := range r.types() {
		if typ == eventType {
			n++
		}
	}
	return n
}
