package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration written as a Go duration string ("1m30s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// SchedulerConfig controls admission and pacing.
type SchedulerConfig struct {
	MaxConcurrent  int      `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	TickInterval   Duration `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`   // pause between ticks, 0 = as fast as possible
	Mode           string   `json:"mode,omitempty" yaml:"mode,omitempty"`                     // "whole" or "stepwise"
	FailDependents bool     `json:"fail_dependents,omitempty" yaml:"fail_dependents,omitempty"` // fail jobs whose dependency failed
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // console, text or json
}

// Storage drivers.
const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// StorageConfig says where scheduler snapshots are kept.
type StorageConfig struct {
	Driver        string `json:"driver,omitempty" yaml:"driver,omitempty"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`                     // state file or database file
	Snapshot      string `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`             // snapshot name (sqlite only)
	AutosaveEvery int    `json:"autosave_every,omitempty" yaml:"autosave_every,omitempty"` // ticks between saves, 0 = only at the end
}

// TaskConfig selects a built-in task kind and its arguments.
type TaskConfig struct {
	Kind string         `json:"kind" yaml:"kind"`
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// JobConfig declares one job.
type JobConfig struct {
	ID            string     `json:"id" yaml:"id"`
	Task          TaskConfig `json:"task" yaml:"task"`
	DurationLimit Duration   `json:"duration_limit,omitempty" yaml:"duration_limit,omitempty"`
	StartTime     string     `json:"start_time,omitempty" yaml:"start_time,omitempty"` // HH:MM or HH:MM:SS
	MaxRestarts   int        `json:"max_restarts,omitempty" yaml:"max_restarts,omitempty"`
	DependsOn     []string   `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Jobs      []JobConfig     `json:"jobs,omitempty" yaml:"jobs,omitempty"`
}
