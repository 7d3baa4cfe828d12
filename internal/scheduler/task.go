package scheduler

import (
	"context"
	"fmt"
)

// Task is a resumable computation driven by a Job.
//
// Begin is called once per attempt and must return an execution that shares
// no state with executions begun earlier. Name identifies the task when a
// scheduler snapshot is restored, so it should be stable across processes.
type Task interface {
	Name() string
	Begin() Execution
}

// Execution is one in-progress attempt of a Task.
//
// Step advances the execution by one unit of work:
//   - (false, nil): more work remains
//   - (true, nil):  the execution completed normally
//   - (_, err):     the execution failed
type Execution interface {
	Step(ctx context.Context) (done bool, err error)
}

// StepFunc adapts an ordinary function to Execution.
type StepFunc func(ctx context.Context) (bool, error)

func (f StepFunc) Step(ctx context.Context) (bool, error) { return f(ctx) }

type namedTask struct {
	name  string
	begin func() Execution
}

func (t namedTask) Name() string     { return t.name }
func (t namedTask) Begin() Execution { return t.begin() }

// NewTask builds a Task from a name and an execution factory.
func NewTask(name string, begin func() Execution) Task {
	return namedTask{name: name, begin: begin}
}

// FuncTask builds a single-step Task: every attempt calls fn once.
func FuncTask(name string, fn func(ctx context.Context) error) Task {
	return NewTask(name, func() Execution {
		return StepFunc(func(ctx context.Context) (bool, error) {
			if err := fn(ctx); err != nil {
				return false, err
			}
			return true, nil
		})
	})
}

// StepsTask builds a Task that runs one function per step and completes after
// the last one. A task with no steps completes on its first step.
func StepsTask(name string, steps ...func(ctx context.Context) error) Task {
	return NewTask(name, func() Execution {
		next := 0
		return StepFunc(func(ctx context.Context) (bool, error) {
			if next >= len(steps) {
				return true, nil
			}
			fn := steps[next]
			next++
			if err := fn(ctx); err != nil {
				return false, err
			}
			return next == len(steps), nil
		})
	})
}

// safeStep runs one step and converts a panic into an error.
func safeStep(ctx context.Context, exec Execution) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			done = false
			err = fmt.Errorf("task step panicked: %v", r)
		}
	}()
	return exec.Step(ctx)
}
