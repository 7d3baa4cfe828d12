package tasks

import (
	"context"
	"testing"

	"github.com/kvgribko/jobsched/internal/scheduler"
)

// runToEnd drives one attempt of task until it completes or fails.
func runToEnd(t *testing.T, ctx context.Context, task scheduler.Task) (steps int, err error) {
	t.Helper()
	exec := task.Begin()
	for steps < 1000 {
		steps++
		done, err := exec.Step(ctx)
		if err != nil {
			return steps, err
		}
		if done {
			return steps, nil
		}
	}
	t.Fatalf("task %s did not finish after %d steps", task.Name(), steps)
	return steps, nil
}

func mustBuild(t *testing.T, f *Factory, name, kind string, args map[string]any) scheduler.Task {
	t.Helper()
	task, err := f.Build(name, kind, args)
	if err != nil {
		t.Fatalf("Build(%s, %s) error = %v", name, kind, err)
	}
	return task
}
