// Package registry keeps the long-lived catalogue of specialized agents and
// matches incoming tasks against it.
package registry

import (
	"time"

	"github.com/aristath/taskforge/internal/scheduler"
)

// RegisteredAgent is a reusable agent that completed at least one task.
type RegisteredAgent struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ParentRole   scheduler.Role `json:"parentType"`
	TaskPattern  string         `json:"taskPattern"` // title of the task it was created for
	Capabilities []string       `json:"capabilities"`
	UsageCount   int            `json:"usageCount"`
	SuccessRate  float64        `json:"successRate"`
	LastUsedAt   time.Time      `json:"lastUsedAt"`
	SystemPrompt string         `json:"systemPrompt"`
}

func (a RegisteredAgent) clone() RegisteredAgent {
	a.Capabilities = append([]string(nil), a.Capabilities...)
	return a
}

// AgentMatch is the best registry candidate for a task. It is derived on
// every lookup and never stored.
type AgentMatch struct {
	Agent  RegisteredAgent
	Score  float64
	Reason string
}

// Thresholds tunes candidate filtering and scoring.
type Thresholds struct {
	MinSuccessRate   float64 // candidates below this rate are ignored
	MatchFloor       float64 // combined scores below this are not a match
	CapabilityWeight float64
	PatternWeight    float64
	CapabilityReason float64 // overlap above this is mentioned in the reason
	PatternReason    float64 // similarity above this is mentioned in the reason
}

// DefaultThresholds returns the stock scoring parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSuccessRate:   0.6,
		MatchFloor:       0.4,
		CapabilityWeight: 0.6,
		PatternWeight:    0.4,
		CapabilityReason: 0.5,
		PatternReason:    0.3,
	}
}
