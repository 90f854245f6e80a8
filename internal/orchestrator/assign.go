package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aristath/taskforge/internal/registry"
	"github.com/aristath/taskforge/internal/scheduler"
)

// AgentDirectory is the registry surface the orchestrator depends on.
// *registry.Registry implements it.
type AgentDirectory interface {
	FindMatch(task *scheduler.Task) (registry.AgentMatch, bool)
	Register(ctx context.Context, task *scheduler.Task, name, systemPrompt string) registry.RegisteredAgent
	UpdateMetrics(ctx context.Context, id string, success bool) bool
	All() []registry.RegisteredAgent
	Clear(ctx context.Context)
}

var _ AgentDirectory = (*registry.Registry)(nil)

// DefaultReuseThreshold is the inclusive minimum match score for reusing a
// registered agent.
const DefaultReuseThreshold = 0.5

// AgentPhase is what an active agent is doing.
type AgentPhase string

const (
	PhasePlanning  AgentPhase = "planning"
	PhaseExecuting AgentPhase = "executing"
	PhaseReviewing AgentPhase = "reviewing"
)

// AgentStatus is the lifecycle state of an active agent.
type AgentStatus string

const (
	AgentActive     AgentStatus = "active"
	AgentCompleted  AgentStatus = "completed"
	AgentTerminated AgentStatus = "terminated"
)

// Assignment is the agent working on one attempt of a task.
type Assignment struct {
	ID           string // Ephemeral, unique per attempt
	TaskID       string
	Name         string
	Role         scheduler.Role
	SystemPrompt string
	Reused       bool
	RegistryID   string  // Set when Reused
	Score        float64 // Match score, set when a match was found
	Reason       string
	Phase        AgentPhase
	Status       AgentStatus
}

// AgentConfig is the system prompt given to a synthesized agent.
func AgentConfig(name string, role scheduler.Role) string {
	return fmt.Sprintf("You are %s. Parent: %s.", name, role)
}

// assign picks a registered agent when its score reaches threshold,
// otherwise synthesizes a new one from the task.
func assign(dir AgentDirectory, task *scheduler.Task, threshold float64) Assignment {
	a := Assignment{
		ID:     "dyn_" + uuid.NewString(),
		TaskID: task.ID,
		Role:   task.Role,
		Phase:  PhasePlanning,
		Status: AgentActive,
	}

	match, found := dir.FindMatch(task)
	if found {
		a.Score = match.Score
		a.Reason = match.Reason
	}
	if found && match.Score >= threshold {
		a.Name = match.Agent.Name
		a.SystemPrompt = match.Agent.SystemPrompt
		a.Reused = true
		a.RegistryID = match.Agent.ID
		return a
	}

	a.Name = task.AgentNameHint
	if a.Name == "" {
		a.Name = task.Role.DefaultAgentLabel()
	}
	a.SystemPrompt = AgentConfig(a.Name, task.Role)
	return a
}

// agentTracker holds the assignments of the current run.
type agentTracker struct {
	mu     sync.Mutex
	agents map[string]Assignment
	seq    map[string]int // insertion order for stable snapshots
	next   int
}

func newAgentTracker() *agentTracker {
	return &agentTracker{agents: make(map[string]Assignment), seq: make(map[string]int)}
}

func (t *agentTracker) put(a Assignment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seq[a.ID]; !ok {
		t.seq[a.ID] = t.next
		t.next++
	}
	t.agents[a.ID] = a
}

func (t *agentTracker) update(id string, fn func(*Assignment)) (Assignment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.agents[id]
	if !ok {
		return Assignment{}, false
	}
	fn(&a)
	t.agents[id] = a
	return a, true
}

func (t *agentTracker) list() []Assignment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Assignment, 0, len(t.agents))
	for _, a := range t.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return t.seq[out[i].ID] < t.seq[out[j].ID] })
	return out
}

func (t *agentTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agents = make(map[string]Assignment)
	t.seq = make(map[string]int)
	t.next = 0
}
