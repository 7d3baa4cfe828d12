package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed files return an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath, false); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath, false); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}
	return cfg, nil
}

// LoadFile merges the global config (if present) and then path, which must exist.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load(GlobalPath(), "")
	if err != nil {
		return nil, err
	}
	if err := mergeConfigFile(cfg, path, true); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.jobsched/config.yaml
// Project: .jobsched/config.yaml (relative to cwd)
func LoadDefault() (*Config, error) {
	return Load(GlobalPath(), ProjectPath())
}

// GlobalPath is the per-user config file, or "" when the home directory is unknown.
func GlobalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".jobsched", "config.yaml")
}

// ProjectPath is the config file of the current directory.
func ProjectPath() string {
	return filepath.Join(".jobsched", "config.yaml")
}

// mergeConfigFile decodes path on top of base. Only keys present in the file
// change base; jobs are merged by ID, a job with a known ID replacing the
// earlier definition.
func mergeConfigFile(base *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	jsonData, err := toJSON(path, data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	earlier := base.Jobs
	base.Jobs = nil

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.DisallowUnknownFields()
	if err := dec.Decode(base); err != nil {
		base.Jobs = earlier
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	base.Jobs = mergeJobs(earlier, base.Jobs)
	return nil
}

func mergeJobs(base, overlay []JobConfig) []JobConfig {
	if len(overlay) == 0 {
		return base
	}
	index := make(map[string]int, len(base))
	for i, j := range base {
		index[j.ID] = i
	}
	merged := append([]JobConfig(nil), base...)
	for _, j := range overlay {
		if i, ok := index[j.ID]; ok && j.ID != "" {
			merged[i] = j
			continue
		}
		index[j.ID] = len(merged)
		merged = append(merged, j)
	}
	return merged
}
