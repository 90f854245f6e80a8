package tui

import (
	"fmt"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/scheduler"
)

// agentLine is an active agent shown in the progress pane.
type agentLine struct {
	name  string
	task  string
	phase string
}

// ProgressPaneModel shows the stage, task counts and active agents.
type ProgressPaneModel struct {
	stage    string
	progress scheduler.Progress
	agents   map[string]agentLine // agentID -> line, active only
	order    []string
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel creates a new progress pane model.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{stage: "IDLE", agents: make(map[string]agentLine)}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.ProgressEvent:
		m.progress = msg.Progress

	case events.StageEvent:
		m.stage = msg.To

	case events.AgentEvent:
		if msg.Status != "active" {
			delete(m.agents, msg.AgentID)
			m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == msg.AgentID })
			break
		}
		if _, ok := m.agents[msg.AgentID]; !ok {
			m.order = append(m.order, msg.AgentID)
		}
		m.agents[msg.AgentID] = agentLine{name: msg.Name, task: msg.Task, phase: msg.Phase}
	}

	return m, nil
}

// Progress returns the last reported counts.
func (m ProgressPaneModel) Progress() scheduler.Progress {
	return m.progress
}

// Stage returns the last reported stage.
func (m ProgressPaneModel) Stage() string {
	return m.stage
}

// ActiveAgents returns the number of agents currently working.
func (m ProgressPaneModel) ActiveAgents() int {
	return len(m.agents)
}

// View renders the progress pane.
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

	p := m.progress
	fmt.Fprintf(&b, "Stage:     %s\n", StyleActor.Render(m.stage))
	fmt.Fprintf(&b, "Total:     %d\n", p.Total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", p.Completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", p.InProgress)))
	fmt.Fprintf(&b, "Reviewing: %s\n", StyleStatusReviewing.Render(fmt.Sprintf("%d", p.Reviewing)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", p.Failed)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", p.Pending)))
	b.WriteString("\n")

	if p.Total > 0 {
		barWidth := max(0, min(m.width-12, 40))
		completedWidth := (p.Completed * barWidth) / p.Total
		failedWidth := (p.Failed * barWidth) / p.Total
		runningWidth := ((p.InProgress + p.Reviewing) * barWidth) / p.Total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n\n", bar, p.Completed+p.Failed, p.Total)
	}

	if len(m.agents) > 0 {
		b.WriteString(StyleActor.Render("Active agents"))
		b.WriteString("\n")
		for _, id := range m.order {
			a, ok := m.agents[id]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  %s %s %s\n", a.name, StyleDim.Render(a.task), StyleStatusRunning.Render(a.phase))
		}
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

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
