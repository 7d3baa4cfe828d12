package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kvgribko/jobsched/internal/events"
)

// ProgressPaneModel shows collection sizes and a progress bar.
type ProgressPaneModel struct {
	tick      int
	total     int
	completed int
	running   int
	failed    int
	pending   int
	finished  bool
	width     int
	height    int
	focused   bool
}

func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.ProgressEvent:
		m.tick = msg.Tick
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending
	case runFinishedMsg:
		m.finished = true
	}
	return m, nil
}

func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Tick:      %d\n", m.tick)
	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(m.completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(m.failed)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (m.completed * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, m.completed+m.failed, m.total)
	}

	if m.finished {
		b.WriteString("\n")
		b.WriteString(StyleTitle.Render("Run finished. Press q to exit."))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
