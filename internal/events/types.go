package events

import (
	"time"

	"github.com/aristath/taskforge/internal/scheduler"
)

// Event is the base interface for all events. The bus routes each event to
// the subscribers of its Topic.
type Event interface {
	Topic() string
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicLog      = "log"
	TopicTask     = "task"
	TopicAgent    = "agent"
	TopicProgress = "progress"
	TopicStage    = "stage"
)

// Event type constants
const (
	EventTypeLog        = "log.entry"
	EventTypeTaskStatus = "task.status"
	EventTypeAgent      = "agent.update"
	EventTypeProgress   = "progress.update"
	EventTypeStage      = "stage.changed"
)

// Actor identifies who produced a log entry.
type Actor string

const (
	ActorCollector      Actor = "COLLECTOR"
	ActorContextualizer Actor = "CONTEXTUALIZER"
	ActorSynthesizer    Actor = "SYNTHESIZER"
	ActorReflector      Actor = "REFLECTOR"
	ActorOrchestrator   Actor = "ORCHESTRATOR"
	ActorCritique       Actor = "CRITIQUE"
	ActorDynamic        Actor = "DYNAMIC" // registry reuse and agent synthesis
)

// ActorForRole maps a base role to its actor.
func ActorForRole(role scheduler.Role) Actor {
	switch role {
	case scheduler.RoleCollector:
		return ActorCollector
	case scheduler.RoleContextualizer:
		return ActorContextualizer
	case scheduler.RoleSynthesizer:
		return ActorSynthesizer
	case scheduler.RoleReflector:
		return ActorReflector
	}
	return ActorDynamic
}

// Severity classifies a log entry for display.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritique Severity = "critique"
)

// LogEvent is a human-readable record of something the pipeline did.
type LogEvent struct {
	Actor     Actor
	ActorName string
	Message   string
	Severity  Severity
	Details   string // optional long text, e.g. a plan or a result
	Task      string // related task ID, may be empty
	Timestamp time.Time
}

func (e LogEvent) Topic() string     { return TopicLog }
func (e LogEvent) EventType() string { return EventTypeLog }
func (e LogEvent) TaskID() string    { return e.Task }

// TaskStatusEvent is published on every task status transition.
type TaskStatusEvent struct {
	ID         string
	Title      string
	Role       scheduler.Role
	From       scheduler.TaskStatus
	To         scheduler.TaskStatus
	Reason     string
	RetryCount int
	Timestamp  time.Time
}

func (e TaskStatusEvent) Topic() string     { return TopicTask }
func (e TaskStatusEvent) EventType() string { return EventTypeTaskStatus }
func (e TaskStatusEvent) TaskID() string    { return e.ID }

// AgentEvent is published when an agent is assigned to a task or changes phase.
type AgentEvent struct {
	Task       string
	AgentID    string
	Name       string
	Role       scheduler.Role
	Reused     bool
	RegistryID string  // set when Reused
	Score      float64 // match score when Reused
	Phase      string  // planning, executing, reviewing
	Status     string  // active, completed, terminated
	Timestamp  time.Time
}

func (e AgentEvent) Topic() string     { return TopicAgent }
func (e AgentEvent) EventType() string { return EventTypeAgent }
func (e AgentEvent) TaskID() string    { return e.Task }

// ProgressEvent is published when task counts change.
type ProgressEvent struct {
	scheduler.Progress
	Timestamp time.Time
}

func (e ProgressEvent) Topic() string     { return TopicProgress }
func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) TaskID() string    { return "" }

// StageEvent is published when the pipeline moves between stages.
type StageEvent struct {
	From      string
	To        string
	Timestamp time.Time
}

func (e StageEvent) Topic() string     { return TopicStage }
func (e StageEvent) EventType() string { return EventTypeStage }
func (e StageEvent) TaskID() string    { return "" }
