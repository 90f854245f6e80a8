package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/events"
)

// maxLogLines bounds the log pane's memory.
const maxLogLines = 1000

// LogPaneModel is the scrolling pipeline log.
type LogPaneModel struct {
	lines    []string
	viewport viewport.Model
	follow   bool // stick to the bottom until the user scrolls up
	width    int
	height   int
	focused  bool
}

// NewLogPaneModel creates a new log pane model.
func NewLogPaneModel() LogPaneModel {
	return LogPaneModel{viewport: viewport.New(0, 0), follow: true}
}

// Update handles messages for the log pane.
func (m LogPaneModel) Update(msg tea.Msg) (LogPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch {
		case key.Matches(msg, keys.Down):
			m.viewport.ScrollDown(1)
		case key.Matches(msg, keys.Up):
			m.viewport.ScrollUp(1)
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}
		m.follow = m.viewport.AtBottom()

	case events.LogEvent:
		m.Append(FormatLog(msg))

	case events.StageEvent:
		m.Append(StyleActor.Render(fmt.Sprintf("%s == Stage: %s ==", msg.Timestamp.Format("15:04:05"), msg.To)))
	}

	return m, cmd
}

// Append adds a rendered line.
func (m *LogPaneModel) Append(line string) {
	m.lines = append(m.lines, line)
	if over := len(m.lines) - maxLogLines; over > 0 {
		m.lines = m.lines[over:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// Lines returns the number of buffered lines.
func (m LogPaneModel) Lines() int {
	return len(m.lines)
}

// FormatLog renders a log event as one styled line.
func FormatLog(e events.LogEvent) string {
	actor := string(e.Actor)
	if e.ActorName != "" {
		actor = e.ActorName
	}
	line := fmt.Sprintf("%s %s %s",
		StyleDim.Render(e.Timestamp.Format("15:04:05")),
		StyleActor.Render("["+actor+"]"),
		SeverityStyle(e.Severity).Render(e.Message),
	)
	if e.Task != "" {
		line += StyleDim.Render(" (" + e.Task + ")")
	}
	return line
}

// View renders the log pane.
func (m LogPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	title := StyleTitle.Render("Log")
	content := lipgloss.JoinVertical(lipgloss.Left, title, m.viewport.View())

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *LogPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(10, w-4)
	m.viewport.Height = max(3, h-3)
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// SetFocused updates the focus state.
func (m *LogPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
