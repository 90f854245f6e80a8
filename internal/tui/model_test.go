package tui

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/scheduler"
)

func newTestModel(t *testing.T) (Model, *events.EventBus) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	m := New(bus, cfg, filepath.Join(dir, "global.json"), filepath.Join(dir, "project.json"))
	return m, bus
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return model
}

// press builds the key message bubbletea delivers for s.
func press(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModelTracksTaskEvents(t *testing.T) {
	m, _ := newTestModel(t)
	now := time.Now()

	m = update(t, m, events.TaskStatusEvent{
		ID: "t1", Title: "Collect sources", Role: scheduler.RoleCollector,
		From: scheduler.TaskPending, To: scheduler.TaskInProgress, Reason: "attempt 1 started", Timestamp: now,
	})
	m = update(t, m, events.AgentEvent{Task: "t1", AgentID: "dyn_1", Name: "Collector Sub-Unit", Phase: "planning", Status: "active"})
	m = update(t, m, events.TaskStatusEvent{
		ID: "t1", Title: "Collect sources", Role: scheduler.RoleCollector,
		From: scheduler.TaskInProgress, To: scheduler.TaskPending, Reason: "result rejected", RetryCount: 1, Timestamp: now,
	})

	task, ok := m.taskPane.Task("t1")
	if !ok {
		t.Fatal("task t1 not tracked")
	}
	if task.Status != scheduler.TaskPending {
		t.Errorf("Status = %s, want pending", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", task.RetryCount)
	}
	if task.Agent != "Collector Sub-Unit" {
		t.Errorf("Agent = %q", task.Agent)
	}
	if len(task.History) != 2 {
		t.Fatalf("History has %d entries, want 2", len(task.History))
	}
	if !strings.Contains(task.History[1], "in-progress -> pending: result rejected") {
		t.Errorf("unexpected history line %q", task.History[1])
	}
	if m.progressPane.ActiveAgents() != 1 {
		t.Errorf("ActiveAgents = %d, want 1", m.progressPane.ActiveAgents())
	}

	m = update(t, m, events.AgentEvent{Task: "t1", AgentID: "dyn_1", Name: "Collector Sub-Unit", Status: "terminated"})
	if m.progressPane.ActiveAgents() != 0 {
		t.Errorf("terminated agent still active")
	}
}

func TestModelRoutesLogAndProgress(t *testing.T) {
	m, _ := newTestModel(t)

	m = update(t, m, events.StageEvent{From: "IDLE", To: "EXECUTING", Timestamp: time.Now()})
	m = update(t, m, events.LogEvent{Actor: events.ActorCritique, ActorName: "Sentinel", Message: "Plan rejected.", Severity: events.SeverityWarning, Task: "t2", Timestamp: time.Now()})
	m = update(t, m, events.LogEvent{Actor: events.ActorOrchestrator, ActorName: "System", Message: "Executing 2 tasks", Severity: events.SeverityInfo, Timestamp: time.Now()})
	m = update(t, m, events.ProgressEvent{Progress: scheduler.Progress{Total: 2, Completed: 1, Pending: 1}})

	if got := m.progressPane.Stage(); got != "EXECUTING" {
		t.Errorf("Stage = %q, want EXECUTING", got)
	}
	if got := m.progressPane.Progress(); got.Total != 2 || got.Completed != 1 {
		t.Errorf("Progress = %+v", got)
	}
	// Stage line plus two log lines
	if got := m.logPane.Lines(); got != 3 {
		t.Errorf("log lines = %d, want 3", got)
	}
	// Task-scoped log lines also show up in the task's history
	task, ok := m.taskPane.Task("t2")
	if !ok || len(task.History) != 1 || !strings.Contains(task.History[0], "Plan rejected.") {
		t.Errorf("task history = %+v", task.History)
	}
}

func TestModelQuit(t *testing.T) {
	m, _ := newTestModel(t)

	next, cmd := m.Update(press("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if view := next.(Model).View(); view != "Goodbye!\n" {
		t.Errorf("View after quit = %q", view)
	}
}

func TestModelFocusCycle(t *testing.T) {
	m, _ := newTestModel(t)
	if m.focusedPane != PaneTasks {
		t.Fatalf("initial focus = %d", m.focusedPane)
	}

	m = update(t, m, press("tab"))
	if m.focusedPane != PaneLog {
		t.Errorf("after tab focus = %d, want %d", m.focusedPane, PaneLog)
	}
	m = update(t, m, press("tab"))
	m = update(t, m, press("tab"))
	if m.focusedPane != PaneTasks {
		t.Errorf("tab should wrap, focus = %d", m.focusedPane)
	}

	m = update(t, m, press("3"))
	if m.focusedPane != PaneProgress {
		t.Errorf("3 should focus progress, focus = %d", m.focusedPane)
	}
}

func TestModelTaskSelection(t *testing.T) {
	m, _ := newTestModel(t)
	for _, id := range []string{"a", "b", "c"} {
		m = update(t, m, events.TaskStatusEvent{ID: id, Title: id, To: scheduler.TaskPending})
	}

	if got := m.taskPane.SelectedTaskID(); got != "a" {
		t.Fatalf("selected = %q, want first task", got)
	}
	m = update(t, m, press("j"))
	m = update(t, m, press("j"))
	m = update(t, m, press("j"))
	if got := m.taskPane.SelectedTaskID(); got != "c" {
		t.Errorf("selected = %q, want c (clamped)", got)
	}
	m = update(t, m, press("k"))
	if got := m.taskPane.SelectedTaskID(); got != "b" {
		t.Errorf("selected = %q, want b", got)
	}
}

func TestModelView(t *testing.T) {
	m, _ := newTestModel(t)
	if got := m.View(); got != "Initializing..." {
		t.Errorf("View before size = %q", got)
	}

	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, events.TaskStatusEvent{ID: "t1", Title: "Collect sources", To: scheduler.TaskCompleted})
	view := m.View()
	for _, want := range []string{"Tasks", "Log", "Progress", "Collect sources", "q: quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModelSettingsToggle(t *testing.T) {
	m, _ := newTestModel(t)
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	m = update(t, m, press("s"))
	if !m.showSettings || !m.settingsPane.IsVisible() {
		t.Fatal("s should open settings")
	}
	// Keys go to the form while it is open
	m = update(t, m, press("q"))
	if m.quitting {
		t.Error("q must not quit while settings are open")
	}

	m = update(t, m, press("esc"))
	if m.showSettings || m.settingsPane.IsVisible() {
		t.Error("esc should close settings")
	}
}

func TestHelpViewListsBindings(t *testing.T) {
	view := HelpView()
	for _, want := range []string{"tab", "cycle focus", "j/k", "settings", "quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("help bar %q is missing %q", view, want)
		}
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[scheduler.TaskStatus]string{
		scheduler.TaskPending:    "○",
		scheduler.TaskInProgress: "●",
		scheduler.TaskReviewing:  "◆",
		scheduler.TaskCompleted:  "✓",
		scheduler.TaskFailed:     "✗",
		"bogus":                  "○",
	}
	for status, want := range tests {
		if got := StatusIcon(status); !strings.Contains(got, want) {
			t.Errorf("StatusIcon(%q) = %q, want %q", status, got, want)
		}
	}
}
