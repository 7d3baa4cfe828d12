package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// Validate returns the IDs of every known job in dependency order.
//
// It reports dependencies on IDs the scheduler does not know and dependency
// cycles. Submit and Tick never call it; a cycle or an unknown dependency only
// makes the affected jobs wait forever at run time.
func (s *Scheduler) Validate() ([]string, error) {
	return dependencyOrder(s.Jobs())
}

func dependencyOrder(jobs []*Job) ([]string, error) {
	known := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		known[job.id] = true
	}

	for _, job := range jobs {
		for _, dep := range job.dependsOn {
			if !known[dep] {
				return nil, fmt.Errorf("job %q depends on %q: %w", job.id, dep, ErrUnknownDependency)
			}
		}
	}

	// Edge (dep, job) means dep must come before job. Jobs without
	// dependencies hang off a nil root so they are still part of the order.
	var edges []toposort.Edge
	for _, job := range jobs {
		if len(job.dependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, job.id})
			continue
		}
		for _, dep := range job.dependsOn {
			edges = append(edges, toposort.Edge{dep, job.id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyCycle, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(jobs) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, job := range jobs {
			if !found[job.id] {
				missing = append(missing, job.id)
			}
		}
		return nil, fmt.Errorf("%w: unreachable jobs %s", ErrDependencyCycle, strings.Join(missing, ", "))
	}
	return order, nil
}
