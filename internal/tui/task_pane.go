package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/scheduler"
)

// TaskState is what the dashboard knows about one task.
type TaskState struct {
	ID         string
	Title      string
	Role       scheduler.Role
	Status     scheduler.TaskStatus
	RetryCount int
	Agent      string // name of the latest assigned agent
	Reused     bool
	Phase      string
	History    []string
}

// TaskPaneModel is the task list with the selected task's history.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // taskID -> state
	taskOrder   []string              // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch {
		case key.Matches(msg, keys.Down):
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case key.Matches(msg, keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStatusEvent:
		task := m.ensure(msg.ID)
		task.Title = msg.Title
		task.Role = msg.Role
		task.Status = msg.To
		task.RetryCount = msg.RetryCount
		line := fmt.Sprintf("%s %s -> %s", msg.Timestamp.Format("15:04:05"), statusLabel(msg.From), msg.To)
		if msg.Reason != "" {
			line += ": " + msg.Reason
		}
		task.History = append(task.History, line)
		cmd = m.refresh(msg.ID)

	case events.AgentEvent:
		task := m.ensure(msg.Task)
		task.Agent = msg.Name
		task.Reused = msg.Reused
		task.Phase = msg.Phase

	case events.LogEvent:
		if msg.Task == "" {
			break
		}
		task := m.ensure(msg.Task)
		line := fmt.Sprintf("%s [%s] %s", msg.Timestamp.Format("15:04:05"), msg.ActorName, msg.Message)
		task.History = append(task.History, SeverityStyle(msg.Severity).Render(line))
		if msg.Details != "" {
			task.History = append(task.History, StyleDim.Render(indent(msg.Details)))
		}
		cmd = m.refresh(msg.Task)

	case tickMsg:
		// Only update if this tick matches the current tag (debouncing)
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// ensure returns the state of a task, adding it on first sight.
func (m *TaskPaneModel) ensure(id string) *TaskState {
	task, ok := m.tasks[id]
	if !ok {
		task = &TaskState{ID: id, Title: id, Status: scheduler.TaskPending}
		m.tasks[id] = task
		m.taskOrder = append(m.taskOrder, id)
		// Auto-select first task
		if len(m.taskOrder) == 1 {
			m.selectedIdx = 0
			m.updateViewportContent()
		}
	}
	return task
}

// refresh schedules a debounced viewport update when id is selected.
func (m *TaskPaneModel) refresh(id string) tea.Cmd {
	if m.SelectedTaskID() != id {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := m.listWidth()
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
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

func (m TaskPaneModel) listWidth() int {
	return max(20, min(40, m.width/3))
}

// renderTaskList renders the task list column.
func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.taskOrder {
			b.WriteString(m.renderRow(m.tasks[id], width, i == m.selectedIdx))
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

func (m TaskPaneModel) renderRow(task *TaskState, width int, selected bool) string {
	label := task.Title
	if task.RetryCount > 0 {
		label += fmt.Sprintf(" (retry %d)", task.RetryCount)
	}
	if r := []rune(label); len(r) > width-4 {
		label = string(r[:max(0, width-7)]) + "..."
	}

	line := fmt.Sprintf("%s %s", StatusIcon(task.Status), label)
	if selected {
		line = StyleSelected.Render(line)
	}

	sub := task.Role.String()
	if task.Agent != "" {
		sub += " / " + task.Agent
		if task.Reused {
			sub += " (reused)"
		}
	}
	if r := []rune(sub); len(r) > width-2 {
		sub = string(r[:max(0, width-5)]) + "..."
	}
	return line + "\n  " + StyleDim.Render(sub)
}

// SelectedTaskID returns the ID of the selected task, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Task returns the state of a task.
func (m TaskPaneModel) Task(id string) (TaskState, bool) {
	task, ok := m.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	return *task, true
}

// updateViewportContent shows the selected task's history.
func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.tasks[m.SelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	header := StyleActor.Render(fmt.Sprintf("%s  %s", task.ID, task.Title))
	m.viewport.SetContent(header + "\n\n" + strings.Join(task.History, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(10, m.width-m.listWidth()-4)
	m.viewport.Height = max(5, m.height-4)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func statusLabel(s scheduler.TaskStatus) string {
	if s == "" {
		return "new"
	}
	return string(s)
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n    ")
}
