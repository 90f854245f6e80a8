package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Role is one of the fixed base agent roles a task can be assigned to.
type Role int

const (
	RoleCollector      Role = iota // Gathers data and research
	RoleContextualizer                 // Maps, structures and clusters data
	RoleSynthesizer                    // Reasoning, coding, content creation
	RoleReflector                      // Final polishing and refinement
)

// Roles lists every base role in declaration order.
var Roles = []Role{RoleCollector, RoleContextualizer, RoleSynthesizer, RoleReflector}

// String returns the wire name of the role (e.g. "COLLECTOR").
func (r Role) String() string {
	switch r {
	case RoleCollector:
		return "COLLECTOR"
	case RoleContextualizer:
		return "CONTEXTUALIZER"
	case RoleSynthesizer:
		return "SYNTHESIZER"
	case RoleReflector:
		return "REFLECTOR"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// DefaultAgentLabel is the name given to a synthesized agent when the task
// carries no agent name hint.
func (r Role) DefaultAgentLabel() string {
	switch r {
	case RoleCollector:
		return "Collector Sub-Unit"
	case RoleContextualizer:
		return "Contextualizer Sub-Unit"
	case RoleSynthesizer:
		return "Synthesizer Sub-Unit"
	case RoleReflector:
		return "Reflector Sub-Unit"
	}
	return "Sub-Unit"
}

// ParseRole converts a wire name into a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COLLECTOR":
		return RoleCollector, nil
	case "CONTEXTUALIZER":
		return RoleContextualizer, nil
	case "SYNTHESIZER":
		return RoleSynthesizer, nil
	case "REFLECTOR":
		return RoleReflector, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RoleCollector, RoleContextualizer, RoleSynthesizer, RoleReflector:
		return []byte(r.String()), nil
	}
	return nil, fmt.Errorf("unknown role %d", int(r))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"     // Waiting for dependencies or a retry slot
	TaskInProgress TaskStatus = "in-progress" // Planning or executing
	TaskReviewing  TaskStatus = "reviewing"   // Result under critique
	TaskCompleted  TaskStatus = "completed"   // Finished successfully
	TaskFailed     TaskStatus = "failed"      // Permanently failed
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// InteractionRole identifies who produced an interaction.
type InteractionRole string

const (
	InteractionAgent    InteractionRole = "agent"
	InteractionCritique InteractionRole = "critique"
)

// Interaction is one entry of the agent/critique conversation for a task.
type Interaction struct {
	Role    InteractionRole `json:"role"`
	Content string          `json:"content"`
	At      time.Time       `json:"at"`
}

// Transition records a single status change and why it happened.
type Transition struct {
	From   TaskStatus `json:"from"`
	To     TaskStatus `json:"to"`
	Reason string     `json:"reason"`
	At     time.Time  `json:"at"`
}

// Task represents a unit of work in the DAG.
type Task struct {
	ID            string        // Unique identifier
	Title         string        // Short human-readable name
	Description   string        // What the task must achieve
	Role          Role          // Base role the task is assigned to
	Status        TaskStatus
	DependsOn     []string      // Task IDs this task depends on
	AgentNameHint string        // Optional specific agent name requested by decomposition
	Result        string        // Output from execution (populated after completion)
	Interactions  []Interaction // Agent/critique log, insertion ordered
	RetryCount    int           // Failed attempts so far
	Transitions   []Transition  // Status history
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Interactions != nil {
		cp.Interactions = append([]Interaction(nil), task.Interactions...)
	}
	if task.Transitions != nil {
		cp.Transitions = append([]Transition(nil), task.Transitions...)
	}
	return &cp
}
