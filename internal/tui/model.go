// Package tui renders a running scheduler in the terminal.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kvgribko/jobsched/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneJobs PaneID = iota
	PaneProgress
)

// runFinishedMsg is sent once the event bus has been closed.
type runFinishedMsg struct{}

// Model is the root Bubble Tea model.
type Model struct {
	jobsPane     JobsPaneModel
	progressPane ProgressPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	title        string
	width        int
	height       int
	finished     bool
	quitting     bool
}

// New creates a model subscribed to every event on bus. Subscribe before the
// scheduler starts so no events are missed.
func New(bus *events.EventBus, title string) Model {
	m := Model{
		jobsPane:     NewJobsPaneModel(),
		progressPane: NewProgressPaneModel(),
		focusedPane:  PaneJobs,
		eventSub:     bus.SubscribeAll(1024),
		title:        title,
	}
	m.updateFocusStates()
	return m
}

func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent waits for the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return runFinishedMsg{}
		}
		return event
	}
}

// Finished reports whether the run behind the bus has ended.
func (m Model) Finished() bool { return m.finished }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()
		case KeyPane1:
			m.focusedPane = PaneJobs
			m.updateFocusStates()
		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()
		default:
			if m.focusedPane == PaneJobs {
				var cmd tea.Cmd
				m.jobsPane, cmd = m.jobsPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case refreshMsg:
		var cmd tea.Cmd
		m.jobsPane, cmd = m.jobsPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.ProgressEvent:
		m.progressPane, _ = m.progressPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.Event:
		var cmd tea.Cmd
		m.jobsPane, cmd = m.jobsPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case runFinishedMsg:
		m.finished = true
		m.progressPane, _ = m.progressPane.Update(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	header := StyleHeader.Render(m.title)
	main := lipgloss.JoinHorizontal(lipgloss.Top, m.jobsPane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, main, HelpView())
}

// computeLayout gives the jobs pane 65% of the width; one line each is
// reserved for the header and the help bar.
func (m *Model) computeLayout() {
	jobsWidth := (m.width * 65) / 100
	available := m.height - 2
	m.jobsPane.SetSize(jobsWidth, available)
	m.progressPane.SetSize(m.width-jobsWidth, available)
}

func (m *Model) updateFocusStates() {
	m.jobsPane.SetFocused(m.focusedPane == PaneJobs)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
