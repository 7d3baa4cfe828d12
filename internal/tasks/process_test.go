package tasks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestProcessManagerRun(t *testing.T) {
	pm := NewProcessManager()
	stdout, stderr, err := pm.Run(context.Background(), "", "echo", "hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(string(stdout), "hello") {
		t.Errorf("stdout = %q, want hello", stdout)
	}
	if len(stderr) > 0 {
		t.Errorf("stderr = %q, want empty", stderr)
	}
	if pm.Count() != 0 {
		t.Errorf("Count() = %d after exit, want 0", pm.Count())
	}
}

func TestProcessManagerFailureIncludesStderr(t *testing.T) {
	pm := NewProcessManager()
	_, _, err := pm.Run(context.Background(), "", "sh", "-c", "echo broken >&2; exit 3")
	if err == nil {
		t.Fatal("Run() succeeded, want error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not include stderr", err)
	}
}

func TestProcessManagerLargeOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Well above the pipe buffer.
	stdout, _, err := NewProcessManager().Run(ctx, "", "sh", "-c", "head -c 262144 /dev/zero")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(stdout) != 262144 {
		t.Errorf("read %d bytes, want 262144", len(stdout))
	}
}

func TestProcessManagerContextKillsGroup(t *testing.T) {
	pm := NewProcessManager()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := pm.Run(ctx, "", "sh", "-c", "sleep 30 & sleep 30")
	if err == nil {
		t.Fatal("Run() succeeded, want interruption")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v after cancellation", elapsed)
	}
}

func TestProcessManagerKillAll(t *testing.T) {
	pm := NewProcessManager()
	done := make(chan error, 1)
	go func() {
		_, _, err := pm.Run(context.Background(), "", "sleep", "30")
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for pm.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("process was never tracked")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll() error = %v", err)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Error("killed process reported success")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process survived KillAll")
	}
}

func TestExecTask(t *testing.T) {
	f := NewFactory(nil)
	f.Dir = t.TempDir()
	if err := os.Mkdir(filepath.Join(f.Dir, "out"), 0755); err != nil {
		t.Fatal(err)
	}

	task := mustBuild(t, f, "list", KindExec, map[string]any{
		"command": "sh",
		"args":    []any{"-c", "pwd > where.txt"},
		"dir":     "out",
	})
	if _, err := runToEnd(t, context.Background(), task); err != nil {
		t.Fatalf("exec error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(f.Dir, "out", "where.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(data)), "out") {
		t.Errorf("command ran in %q, want the out directory", data)
	}
}
