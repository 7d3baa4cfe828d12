package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kvgribko/jobsched/internal/events"
)

const listWidth = 28

// JobView is what the jobs pane knows about one job.
type JobView struct {
	ID       string
	Task     string
	Status   string // admitted, waiting_for_time, waiting_for_dependencies, running, completed, failed
	Attempts int
	Log      []string
}

// JobsPaneModel shows the admitted jobs and the event log of the selected one.
type JobsPaneModel struct {
	jobs        map[string]*JobView
	order       []string // admission order
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int
}

func NewJobsPaneModel() JobsPaneModel {
	return JobsPaneModel{
		jobs:     make(map[string]*JobView),
		viewport: viewport.New(0, 0),
	}
}

// refreshMsg debounces viewport updates during bursts of events.
type refreshMsg struct {
	tag int
}

// Update handles key presses and job events.
func (m JobsPaneModel) Update(msg tea.Msg) (JobsPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}
		return m, cmd

	case refreshMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
		return m, nil

	case events.Event:
		if m.apply(msg) && m.selectedID() == msg.JobID() {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return refreshMsg{tag: tag}
			})
		}
	}

	return m, nil
}

// apply records a job event and reports whether the job changed.
func (m *JobsPaneModel) apply(e events.Event) bool {
	if e.JobID() == "" {
		return false
	}

	if admitted, ok := e.(events.JobAdmittedEvent); ok {
		if _, exists := m.jobs[admitted.ID]; !exists {
			m.jobs[admitted.ID] = &JobView{ID: admitted.ID, Task: admitted.Task}
			m.order = append(m.order, admitted.ID)
			if len(m.order) == 1 {
				m.selectedIdx = 0
				m.updateViewportContent()
			}
		}
	}

	job, ok := m.jobs[e.JobID()]
	if !ok {
		// Jobs restored from a snapshot are never admitted in this run.
		job = &JobView{ID: e.JobID()}
		m.jobs[job.ID] = job
		m.order = append(m.order, job.ID)
	}

	switch ev := e.(type) {
	case events.JobAdmittedEvent:
		job.Status = "admitted"
		job.log(ev.Timestamp, "admitted (task %s)", ev.Task)
	case events.JobWaitingEvent:
		job.Status = ev.Reason
		job.log(ev.Timestamp, "%s", strings.ReplaceAll(ev.Reason, "_", " "))
	case events.AttemptStartedEvent:
		job.Status = "running"
		job.Attempts = ev.Attempt
		job.log(ev.Timestamp, "attempt %d started", ev.Attempt)
	case events.AttemptFailedEvent:
		job.log(ev.Timestamp, "attempt %d failed after %s: %v", ev.Attempt, ev.Duration.Round(time.Millisecond), ev.Err)
	case events.JobCompletedEvent:
		job.Status = "completed"
		job.Attempts = ev.Attempts
		job.log(ev.Timestamp, "completed after %d attempt(s)", ev.Attempts)
	case events.JobFailedEvent:
		job.Status = "failed"
		job.Attempts = ev.Attempts
		job.log(ev.Timestamp, "failed: %v", ev.Err)
	default:
		return false
	}
	return true
}

func (j *JobView) log(ts time.Time, format string, args ...any) {
	j.Log = append(j.Log, ts.Format("15:04:05")+"  "+fmt.Sprintf(format, args...))
}

// View renders the pane.
func (m JobsPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m JobsPaneModel) renderList() string {
	var b strings.Builder

	title := StyleTitle.Render("Jobs")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(listWidth, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.order {
		job := m.jobs[id]
		name := job.ID
		if len(name) > listWidth-6 {
			name = name[:listWidth-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(job.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	case "waiting_for_time", "waiting_for_dependencies":
		return StyleStatusWaiting.Render("◔")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m JobsPaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected job, if any.
func (m JobsPaneModel) Selected() (JobView, bool) {
	job, ok := m.jobs[m.selectedID()]
	if !ok {
		return JobView{}, false
	}
	return *job, true
}

func (m *JobsPaneModel) updateViewportContent() {
	job, ok := m.jobs[m.selectedID()]
	if !ok {
		m.viewport.SetContent("Waiting for jobs...")
		return
	}
	header := fmt.Sprintf("%s  task=%s  attempts=%d\n\n", job.ID, job.Task, job.Attempts)
	m.viewport.SetContent(header + strings.Join(job.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *JobsPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

func (m *JobsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

func (m *JobsPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
