package config

import (
	"errors"
	"fmt"

	"github.com/kvgribko/jobsched/internal/logging"
	"github.com/kvgribko/jobsched/internal/scheduler"
)

// Validate checks the configuration and reports every problem it finds.
// Dependency cycles are left to the scheduler's Validate.
func (c *Config) Validate() error {
	var errs []error

	if c.Scheduler.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_concurrent must be >= 0, got %d", c.Scheduler.MaxConcurrent))
	}
	if c.Scheduler.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_interval must be >= 0, got %s", c.Scheduler.TickInterval))
	}
	if _, err := scheduler.ParseAttemptMode(c.Scheduler.Mode); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.mode: %w", err))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "", logging.FormatConsole, logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	switch c.Storage.Driver {
	case "", DriverNone:
	case DriverFile, DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q (use none, file or sqlite)", c.Storage.Driver))
	}
	if c.Storage.AutosaveEvery < 0 {
		errs = append(errs, fmt.Errorf("storage.autosave_every must be >= 0, got %d", c.Storage.AutosaveEvery))
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		where := fmt.Sprintf("jobs[%d]", i)
		if j.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", where))
		} else {
			where = fmt.Sprintf("job %q", j.ID)
			if seen[j.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate id", where))
			}
			seen[j.ID] = true
		}
		if j.Task.Kind == "" {
			errs = append(errs, fmt.Errorf("%s: task.kind is required", where))
		}
		if j.MaxRestarts < 0 {
			errs = append(errs, fmt.Errorf("%s: max_restarts must be >= 0", where))
		}
		if j.DurationLimit < 0 {
			errs = append(errs, fmt.Errorf("%s: duration_limit must be >= 0", where))
		}
		if j.StartTime != "" {
			if _, err := scheduler.ParseTimeOfDay(j.StartTime); err != nil {
				errs = append(errs, fmt.Errorf("%s: start_time %q: %w", where, j.StartTime, err))
			}
		}
	}

	return errors.Join(errs...)
}
