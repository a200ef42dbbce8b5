// Package tui provides a live progress view for scheduling runs.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jshapiro/conveyor/internal/scheduler"
	"github.com/jshapiro/conveyor/pkg/models"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	levelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// eventMsg wraps a scheduler event for the bubbletea loop.
type eventMsg scheduler.Event

// doneMsg is sent when the event stream closes.
type doneMsg struct{}

// ProgressModel renders task statuses as a scheduling run progresses.
type ProgressModel struct {
	events   <-chan scheduler.Event
	spinner  spinner.Model
	statuses map[string]models.TaskStatus
	order    []string
	runID    string
	level    int
	finished bool
}

// NewProgressModel creates a progress view over a scheduler event stream.
func NewProgressModel(events <-chan scheduler.Event) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return ProgressModel{
		events:   events,
		spinner:  s,
		statuses: make(map[string]models.TaskStatus),
	}
}

// Init starts the spinner and the event listener.
func (m ProgressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// waitForEvent blocks until the next scheduler event arrives.
func waitForEvent(events <-chan scheduler.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(event)
	}
}

// Update handles messages.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

	case eventMsg:
		event := scheduler.Event(msg)
		switch event.Type {
		case scheduler.EventRunStarted:
			m.runID = event.RunID
		case scheduler.EventLevelStarted:
			m.level = event.Level
		case scheduler.EventTaskStatus:
			if _, seen := m.statuses[event.TaskID]; !seen {
				m.order = append(m.order, event.TaskID)
				sort.Strings(m.order)
			}
			m.statuses[event.TaskID] = event.Status
		case scheduler.EventRunFinished:
			m.finished = true
		}
		return m, waitForEvent(m.events)

	case doneMsg:
		m.finished = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the current run state.
func (m ProgressModel) View() string {
	var b strings.Builder

	header := "conveyor run"
	if m.runID != "" {
		header += " " + m.runID
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(levelStyle.Render(fmt.Sprintf("level %d", m.level)))
	b.WriteString("\n\n")

	for _, id := range m.order {
		status := m.statuses[id]
		var line string
		switch status {
		case models.TaskStatusCompleted:
			line = completedStyle.Render("✓ " + id)
		case models.TaskStatusFailed:
			line = failedStyle.Render("✗ " + id)
		case models.TaskStatusCancelled:
			line = pendingStyle.Render("- " + id + " (cancelled)")
		case models.TaskStatusRunning:
			line = runningStyle.Render(m.spinner.View() + id)
		default:
			line = pendingStyle.Render("· " + id)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.finished {
		b.WriteString("\n")
		b.WriteString(levelStyle.Render("run finished, press q to exit"))
		b.WriteString("\n")
	}

	return b.String()
}
