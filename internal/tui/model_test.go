package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kvgribko/jobsched/internal/config"
	"github.com/kvgribko/jobsched/internal/events"
)

var ts = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func update(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestJobsPaneTracksLifecycle(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()

	m := update(t, New(bus, "jobsched"),
		tea.WindowSizeMsg{Width: 120, Height: 30},
		events.JobAdmittedEvent{ID: "fetch", Task: "http_get", Timestamp: ts},
		events.JobAdmittedEvent{ID: "report", Task: "read_file", Timestamp: ts},
		events.AttemptStartedEvent{ID: "fetch", Attempt: 1, Timestamp: ts},
		events.AttemptFailedEvent{ID: "fetch", Attempt: 1, Err: errors.New("503"), Duration: time.Second, Timestamp: ts},
		events.AttemptStartedEvent{ID: "fetch", Attempt: 2, Timestamp: ts},
		events.JobCompletedEvent{ID: "fetch", Attempts: 2, Timestamp: ts},
		events.JobWaitingEvent{ID: "report", Reason: "waiting_for_dependencies", Timestamp: ts},
	)

	job, ok := m.jobsPane.Selected()
	if !ok || job.ID != "fetch" {
		t.Fatalf("Selected() = %+v, %v; want fetch", job, ok)
	}
	if job.Status != "completed" || job.Attempts != 2 {
		t.Errorf("fetch = %+v", job)
	}
	if len(job.Log) != 5 || !strings.Contains(job.Log[2], "attempt 1 failed after 1s: 503") {
		t.Errorf("fetch log = %q", job.Log)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	job, _ = m.jobsPane.Selected()
	if job.ID != "report" || job.Status != "waiting_for_dependencies" {
		t.Errorf("after j, selected = %+v", job)
	}

	view := m.View()
	for _, want := range []string{"fetch", "report", "Progress"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestJobsPaneAddsRestoredJobs(t *testing.T) {
	p := NewJobsPaneModel()
	p.apply(events.AttemptStartedEvent{ID: "restored", Attempt: 3, Timestamp: ts})
	if len(p.order) != 1 || p.jobs["restored"].Attempts != 3 {
		t.Errorf("restored job not tracked: %+v", p.jobs)
	}
	if p.apply(events.ProgressEvent{Tick: 1}) {
		t.Error("progress event changed the jobs pane")
	}
}

func TestProgressAndFinish(t *testing.T) {
	bus := events.NewEventBus()
	m := update(t, New(bus, "jobsched"),
		tea.WindowSizeMsg{Width: 120, Height: 30},
		events.ProgressEvent{Tick: 4, Total: 4, Completed: 2, Running: 1, Failed: 1},
	)
	if m.progressPane.tick != 4 || m.progressPane.completed != 2 {
		t.Errorf("progress pane = %+v", m.progressPane)
	}

	bus.Close()
	msg := waitForEvent(m.eventSub)()
	if _, ok := msg.(runFinishedMsg); !ok {
		t.Fatalf("closed bus produced %T, want runFinishedMsg", msg)
	}
	m = update(t, m, msg)
	if !m.Finished() || !strings.Contains(m.View(), "Run finished") {
		t.Error("model did not report the finished run")
	}
}

func TestFocusAndQuit(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	m := New(bus, "jobsched")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focusedPane != PaneProgress {
		t.Errorf("focused pane = %d after tab, want progress", m.focusedPane)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("1")})
	if m.focusedPane != PaneJobs {
		t.Errorf("focused pane = %d after 1, want jobs", m.focusedPane)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !next.(Model).quitting || cmd == nil {
		t.Error("q did not quit")
	}
}

func TestSettingsFormApply(t *testing.T) {
	cfg := config.DefaultConfig()
	f := NewSettingsForm(cfg)
	f.maxConcurrent = "4"
	f.tickInterval = "250ms"
	f.mode = "stepwise"
	f.driver = config.DriverSQLite
	f.path = "jobs.db"
	f.logFormat = "json"

	if err := f.Apply(); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 4 || cfg.Scheduler.TickInterval.Std() != 250*time.Millisecond {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Storage.Driver != config.DriverSQLite || cfg.Storage.Path != "jobs.db" || cfg.Logging.Format != "json" {
		t.Errorf("config = %+v", cfg)
	}

	f.driver = config.DriverFile
	f.path = ""
	if err := f.Apply(); err == nil {
		t.Error("Apply() accepted file storage without a path")
	}
	f.maxConcurrent = "many"
	if err := f.Apply(); err == nil {
		t.Error("Apply() accepted a non-numeric max concurrent")
	}
}
