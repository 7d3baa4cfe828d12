package config

import "time"

// DefaultConfig returns the configuration used before any file is merged in.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrent: 10,
			TickInterval:  Duration(100 * time.Millisecond),
			Mode:          "whole",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Driver:        DriverNone,
			Snapshot:      "default",
			AutosaveEvery: 10,
		},
	}
}

// SampleConfig is what `jobsched init` writes: the defaults plus a small
// pipeline exercising dependencies, retries and a time gate.
func SampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.Storage = StorageConfig{
		Driver:        DriverFile,
		Path:          ".jobsched/state.json",
		Snapshot:      "default",
		AutosaveEvery: 10,
	}
	cfg.Jobs = []JobConfig{
		{
			ID:   "workdir",
			Task: TaskConfig{Kind: "mkdir", Args: map[string]any{"path": "out"}},
		},
		{
			ID:            "fetch",
			Task:          TaskConfig{Kind: "http_get", Args: map[string]any{"url": "https://example.com", "timeout": "10s"}},
			DurationLimit: Duration(30 * time.Second),
			MaxRestarts:   2,
		},
		{
			ID:        "pause",
			Task:      TaskConfig{Kind: "sleep", Args: map[string]any{"duration": "2s", "steps": 4}},
			DependsOn: []string{"workdir"},
		},
		{
			ID:        "list",
			Task:      TaskConfig{Kind: "exec", Args: map[string]any{"command": "sh", "args": []any{"-c", "ls -l out > out/listing.txt"}}},
			DependsOn: []string{"workdir", "fetch", "pause"},
		},
		{
			ID:        "report",
			Task:      TaskConfig{Kind: "read_file", Args: map[string]any{"path": "out/listing.txt"}},
			StartTime: "00:00",
			DependsOn: []string{"list"},
		},
	}
	return cfg
}
