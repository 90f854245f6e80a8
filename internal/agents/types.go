// Package agents defines the language-model service the pipeline talks to
// and an implementation of it over a backend.
package agents

import (
	"context"

	"github.com/aristath/taskforge/internal/scheduler"
)

// RequirementsDoc is the structured result of the intake interview.
type RequirementsDoc struct {
	UserStory                 string   `json:"userStory"`
	SystemRequirements        []string `json:"systemRequirements"`
	FunctionalRequirements    []string `json:"functionalRequirements"`
	NonFunctionalRequirements []string `json:"nonFunctionalRequirements"`
	IsComplete                bool     `json:"isComplete"`
}

// Clone returns a deep copy of the document.
func (d RequirementsDoc) Clone() RequirementsDoc {
	d.SystemRequirements = append([]string(nil), d.SystemRequirements...)
	d.FunctionalRequirements = append([]string(nil), d.FunctionalRequirements...)
	d.NonFunctionalRequirements = append([]string(nil), d.NonFunctionalRequirements...)
	return d
}

// ChatRole identifies the speaker of a chat message.
type ChatRole string

const (
	ChatUser      ChatRole = "user"
	ChatAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of the intake conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
	Options []string `json:"options,omitempty"` // Multiple choice answers offered to the user
}

// DraftRequest asks the service to refine the requirements draft.
type DraftRequest struct {
	Transcript []ChatMessage
	Current    RequirementsDoc
	UserTurns  int
	MaxTurns   int
}

// DraftReply is the service's answer to one intake turn.
type DraftReply struct {
	Response     string          `json:"responseToUser"`
	Options      []string        `json:"options,omitempty"`
	Requirements RequirementsDoc `json:"requirements"`
}

// TaskDraft is one subtask as produced by decomposition.
type TaskDraft struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	AssignedTo       string   `json:"assignedTo"`
	Dependencies     []string `json:"dependencies"`
	DynamicAgentName string   `json:"dynamicAgentName,omitempty"`
}

// Draft converts the wire form into the sanitizer's input.
func (d TaskDraft) Draft() scheduler.Draft {
	return scheduler.Draft{
		ID:            d.ID,
		Title:         d.Title,
		Description:   d.Description,
		Role:          d.AssignedTo,
		DependsOn:     append([]string(nil), d.Dependencies...),
		AgentNameHint: d.DynamicAgentName,
	}
}

// Persona is the agent a plan or execution call speaks as.
type Persona struct {
	Name         string
	Role         scheduler.Role
	SystemPrompt string
}

// PlanRequest asks an agent for an execution plan.
type PlanRequest struct {
	Task      *scheduler.Task
	Persona   Persona
	Knowledge string // Already bounded by the caller
	Feedback  string // Critique of the previous plan, empty on the first attempt
}

// ExecuteRequest asks an agent to carry out an approved plan.
type ExecuteRequest struct {
	Task      *scheduler.Task
	Persona   Persona
	Plan      string
	Knowledge string
}

// Execution is the outcome of ExecuteTask.
type Execution struct {
	Result string `json:"result"`
	Logic  string `json:"logic"`
}

// Verdict is a critique decision.
type Verdict struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
	FailOpen bool   `json:"-"` // Set when the critique service was unavailable
}

// Service is everything the pipeline needs from a language model.
type Service interface {
	DraftRequirements(ctx context.Context, req DraftRequest) (DraftReply, error)
	DecomposeRequirements(ctx context.Context, doc RequirementsDoc) ([]TaskDraft, error)
	GeneratePlan(ctx context.Context, req PlanRequest) (string, error)
	CritiquePlan(ctx context.Context, task *scheduler.Task, plan string, persona Persona) (Verdict, error)
	ExecuteTask(ctx context.Context, req ExecuteRequest) (Execution, error)
	CritiqueResult(ctx context.Context, task *scheduler.Task, result string) (Verdict, error)
}
