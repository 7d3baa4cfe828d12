package scheduler

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps task names to tasks so that a restored snapshot, which only
// records task names, can be bound back to runnable code.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates a registry pre-filled with the given tasks.
func NewRegistry(tasks ...Task) (*Registry, error) {
	r := &Registry{tasks: make(map[string]Task)}
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a task. Registering two tasks with the same name is an error.
func (r *Registry) Register(t Task) error {
	if t == nil {
		return ErrNilTask
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tasks == nil {
		r.tasks = make(map[string]Task)
	}
	if _, exists := r.tasks[t.Name()]; exists {
		return fmt.Errorf("task %q already registered", t.Name())
	}
	r.tasks[t.Name()] = t
	return nil
}

// Lookup returns the task registered under name.
func (r *Registry) Lookup(name string) (Task, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
