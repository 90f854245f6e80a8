// Package tui is the terminal dashboard of a run. It only observes the
// pipeline through the event bus.
package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneLog
	PaneProgress
	paneCount
)

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane     TaskPaneModel
	logPane      LogPaneModel
	progressPane ProgressPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates a new TUI model.
// It subscribes to all events from the event bus using SubscribeAll.
func New(eventBus *events.EventBus, cfg *config.Config, globalPath, projectPath string) Model {
	m := Model{
		taskPane:     NewTaskPaneModel(),
		logPane:      NewLogPaneModel(),
		progressPane: NewProgressPaneModel(),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:  PaneTasks,
		eventSub:     eventBus.SubscribeAll(256),
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// busClosedMsg is sent once the event bus is closed.
type busClosedMsg struct{}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If settings panel is open, route all keys to it (modal behavior)
		if m.showSettings {
			if key.Matches(msg, keys.Close) {
				m.showSettings = false
				m.settingsPane.SetVisible(false)
				return m, nil
			}
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			// The pane hides itself after a save
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, cmd
		}

		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Settings):
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case key.Matches(msg, keys.Next):
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case key.Matches(msg, keys.Prev):
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case key.Matches(msg, keys.Tasks):
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case key.Matches(msg, keys.Log):
			m.focusedPane = PaneLog
			m.updateFocusStates()

		case key.Matches(msg, keys.Progress):
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			// Delegate to focused pane
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneTasks:
				m.taskPane, cmd = m.taskPane.Update(msg)
			case PaneLog:
				m.logPane, cmd = m.logPane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.TaskStatusEvent, events.AgentEvent, events.LogEvent, events.ProgressEvent, events.StageEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.logPane, cmd = m.logPane.Update(msg)
		cmds = append(cmds, cmd)
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd)
		// Also wait for next event
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		// The run is over; the dashboard stays up until the user quits

	default:
		// Form internals such as focus changes
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	rightPane := lipgloss.JoinVertical(lipgloss.Left, m.logPane.View(), m.progressPane.View())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), rightPane)

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 55) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar
	logHeight := (availableHeight * 60) / 100
	progressHeight := availableHeight - logHeight

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.logPane.SetSize(rightWidth, logHeight)
	m.progressPane.SetSize(rightWidth, progressHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.logPane.SetFocused(m.focusedPane == PaneLog)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
