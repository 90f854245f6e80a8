package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aristath/taskforge/internal/scheduler"
)

// Registry is the in-memory agent catalogue backed by a Store.
//
// The in-memory state is authoritative: storage failures are logged and
// otherwise ignored. Each mutation holds the lock across the write-through
// so concurrent callers cannot persist out of order.
type Registry struct {
	mu     sync.RWMutex
	agents []RegisteredAgent
	store  Store
	th     Thresholds
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Registry and loads the stored collection once. If loading
// fails the registry starts empty.
func New(ctx context.Context, store Store, th Thresholds, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		store:  store,
		th:     th,
		logger: logger,
		now:    time.Now,
	}

	if store == nil {
		return r
	}
	agents, err := store.Load(ctx)
	if err != nil {
		logger.Warn("Failed to load agent registry, starting empty", zap.Error(err))
		return r
	}
	r.agents = cloneAll(agents)
	logger.Debug("Agent registry loaded", zap.Int("agents", len(r.agents)))
	return r
}

// Register records a new agent built for task and persists the collection.
func (r *Registry) Register(ctx context.Context, task *scheduler.Task, name, systemPrompt string) RegisteredAgent {
	agent := RegisteredAgent{
		ID:           "agent_" + uuid.NewString(),
		Name:         name,
		ParentRole:   task.Role,
		TaskPattern:  task.Title,
		Capabilities: ExtractCapabilities(task.Title + " " + task.Description + " " + name),
		UsageCount:   1,
		SuccessRate:  1.0,
		LastUsedAt:   r.now(),
		SystemPrompt: systemPrompt,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = append(r.agents, agent)
	r.persist(ctx)

	r.logger.Info("Agent registered",
		zap.String("agent", agent.ID),
		zap.String("name", agent.Name),
		zap.String("role", agent.ParentRole.String()),
		zap.Strings("capabilities", agent.Capabilities))
	return agent.clone()
}

// FindMatch returns the highest scoring agent of the task's role, if any
// clears the match floor. Ties go to the earlier registered agent.
func (r *Registry) FindMatch(task *scheduler.Task) (AgentMatch, bool) {
	taskTags := ExtractCapabilities(task.Title + " " + task.Description)

	r.mu.RLock()
	var matches []AgentMatch
	for _, agent := range r.agents {
		if agent.ParentRole != task.Role || agent.SuccessRate < r.th.MinSuccessRate {
			continue
		}
		m := r.th.score(agent.clone(), taskTags, task.Title)
		if m.Score >= r.th.MatchFloor {
			matches = append(matches, m)
		}
	}
	r.mu.RUnlock()

	if len(matches) == 0 {
		return AgentMatch{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches[0], true
}

// UpdateMetrics folds one more outcome into the agent's running success
// rate. It returns false, and changes nothing, if id is unknown.
func (r *Registry) UpdateMetrics(ctx context.Context, id string, success bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(id)
	if i < 0 {
		r.logger.Debug("Metrics update for unknown agent ignored", zap.String("agent", id))
		return false
	}

	agent := &r.agents[i]
	outcome := 0.0
	if success {
		outcome = 1
	}
	oldCount := agent.UsageCount
	agent.UsageCount = oldCount + 1
	agent.SuccessRate = (agent.SuccessRate*float64(oldCount) + outcome) / float64(agent.UsageCount)
	agent.LastUsedAt = r.now()
	r.persist(ctx)

	r.logger.Debug("Agent metrics updated",
		zap.String("agent", id),
		zap.Bool("success", success),
		zap.Int("usage", agent.UsageCount),
		zap.Float64("success_rate", agent.SuccessRate))
	return true
}

// All returns every agent in registration order.
func (r *Registry) All() []RegisteredAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.agents)
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (RegisteredAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.index(id); i >= 0 {
		return r.agents[i].clone(), true
	}
	return RegisteredAgent{}, false
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Clear removes every agent and persists the empty collection.
func (r *Registry) Clear(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = nil
	r.persist(ctx)
	r.logger.Info("Agent registry cleared")
}

func (r *Registry) index(id string) int {
	for i := range r.agents {
		if r.agents[i].ID == id {
			return i
		}
	}
	return -1
}

// persist writes the collection through. Caller holds r.mu.
func (r *Registry) persist(ctx context.Context) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, cloneAll(r.agents)); err != nil {
		r.logger.Warn("Failed to persist agent registry", zap.Error(err), zap.Int("agents", len(r.agents)))
	}
}
