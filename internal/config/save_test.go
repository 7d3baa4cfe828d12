package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Config file is not valid JSON: %v", err)
	}
	scheduler, _ := raw["scheduler"].(map[string]any)
	if scheduler["tick_interval"] != "100ms" {
		t.Errorf("tick_interval = %v, want \"100ms\"", scheduler["tick_interval"])
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			want := SampleConfig()

			if err := Save(want, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile failed: %v", err)
			}

			if !reflect.DeepEqual(got.Scheduler, want.Scheduler) {
				t.Errorf("Scheduler = %+v, want %+v", got.Scheduler, want.Scheduler)
			}
			if !reflect.DeepEqual(got.Storage, want.Storage) {
				t.Errorf("Storage = %+v, want %+v", got.Storage, want.Storage)
			}
			if len(got.Jobs) != len(want.Jobs) {
				t.Fatalf("got %d jobs, want %d", len(got.Jobs), len(want.Jobs))
			}
			for i := range want.Jobs {
				g, w := got.Jobs[i], want.Jobs[i]
				if g.ID != w.ID || g.Task.Kind != w.Task.Kind || g.DurationLimit != w.DurationLimit ||
					g.StartTime != w.StartTime || g.MaxRestarts != w.MaxRestarts ||
					!reflect.DeepEqual(g.DependsOn, w.DependsOn) {
					t.Errorf("job %d = %+v, want %+v", i, g, w)
				}
			}
			if err := got.Validate(); err != nil {
				t.Errorf("reloaded config invalid: %v", err)
			}
		})
	}
}
