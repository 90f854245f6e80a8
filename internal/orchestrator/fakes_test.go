package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/registry"
	"github.com/aristath/taskforge/internal/scheduler"
)

// fakeService is a scripted agents.Service. Every hook is optional; the
// defaults approve everything and return deterministic text.
type fakeService struct {
	mu sync.Mutex

	draft          func(req agents.DraftRequest) (agents.DraftReply, error)
	decompose      func(doc agents.RequirementsDoc) ([]agents.TaskDraft, error)
	plan           func(ctx context.Context, req agents.PlanRequest) (string, error)
	critiquePlan   func(task *scheduler.Task, plan string) (agents.Verdict, error)
	execute        func(ctx context.Context, req agents.ExecuteRequest) (agents.Execution, error)
	critiqueResult func(task *scheduler.Task, result string) (agents.Verdict, error)

	calls        map[string]int // "<method>:<task id>" -> count
	planRequests []agents.PlanRequest
	execRequests []agents.ExecuteRequest
}

func newFakeService() *fakeService {
	return &fakeService{calls: make(map[string]int)}
}

func (f *fakeService) count(method, taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method+":"+taskID]++
}

func (f *fakeService) Calls(method, taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+":"+taskID]
}

func (f *fakeService) PlanRequests(taskID string) []agents.PlanRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []agents.PlanRequest
	for _, req := range f.planRequests {
		if req.Task.ID == taskID {
			out = append(out, req)
		}
	}
	return out
}

func (f *fakeService) DraftRequirements(ctx context.Context, req agents.DraftRequest) (agents.DraftReply, error) {
	f.count("draft", "")
	if f.draft != nil {
		return f.draft(req)
	}
	return agents.DraftReply{
		Response:     "Got it.",
		Requirements: completeDoc(),
	}, nil
}

func (f *fakeService) DecomposeRequirements(ctx context.Context, doc agents.RequirementsDoc) ([]agents.TaskDraft, error) {
	f.count("decompose", "")
	if f.decompose != nil {
		return f.decompose(doc)
	}
	return []agents.TaskDraft{
		{ID: "t1", Title: "Collect sources", Description: "Research the topic", AssignedTo: "COLLECTOR"},
		{ID: "t2", Title: "Write summary", Description: "Summarize findings", AssignedTo: "SYNTHESIZER", Dependencies: []string{"t1"}},
	}, nil
}

func (f *fakeService) GeneratePlan(ctx context.Context, req agents.PlanRequest) (string, error) {
	f.count("plan", req.Task.ID)
	f.mu.Lock()
	f.planRequests = append(f.planRequests, req)
	f.mu.Unlock()
	if f.plan != nil {
		return f.plan(ctx, req)
	}
	return "plan for " + req.Task.ID, nil
}

func (f *fakeService) CritiquePlan(ctx context.Context, task *scheduler.Task, plan string, persona agents.Persona) (agents.Verdict, error) {
	f.count("critique-plan", task.ID)
	if f.critiquePlan != nil {
		return f.critiquePlan(task, plan)
	}
	return agents.Verdict{Approved: true}, nil
}

func (f *fakeService) ExecuteTask(ctx context.Context, req agents.ExecuteRequest) (agents.Execution, error) {
	f.count("execute", req.Task.ID)
	f.mu.Lock()
	f.execRequests = append(f.execRequests, req)
	f.mu.Unlock()
	if f.execute != nil {
		return f.execute(ctx, req)
	}
	return agents.Execution{Result: "result of " + req.Task.ID, Logic: "done"}, nil
}

func (f *fakeService) CritiqueResult(ctx context.Context, task *scheduler.Task, result string) (agents.Verdict, error) {
	f.count("critique-result", task.ID)
	if f.critiqueResult != nil {
		return f.critiqueResult(task, result)
	}
	return agents.Verdict{Approved: true}, nil
}

func completeDoc() agents.RequirementsDoc {
	return agents.RequirementsDoc{
		UserStory:              "As a user I want a report",
		FunctionalRequirements: []string{"Produce a report"},
		IsComplete:             true,
	}
}

// fakeDirectory is an AgentDirectory with a fixed match.
type fakeDirectory struct {
	mu         sync.Mutex
	match      *registry.AgentMatch
	registered []string // agent names
	updates    []bool
	cleared    int
}

func (d *fakeDirectory) FindMatch(task *scheduler.Task) (registry.AgentMatch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.match == nil {
		return registry.AgentMatch{}, false
	}
	return *d.match, true
}

func (d *fakeDirectory) Register(ctx context.Context, task *scheduler.Task, name, systemPrompt string) registry.RegisteredAgent {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registered = append(d.registered, name)
	return registry.RegisteredAgent{ID: "agent_fake", Name: name, ParentRole: task.Role, SystemPrompt: systemPrompt, LastUsedAt: time.Now()}
}

func (d *fakeDirectory) UpdateMetrics(ctx context.Context, id string, success bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, success)
	return true
}

func (d *fakeDirectory) All() []registry.RegisteredAgent { return nil }

func (d *fakeDirectory) Clear(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared++
}

func (d *fakeDirectory) Registered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.registered...)
}

func (d *fakeDirectory) Updates() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.updates...)
}

func reusableMatch(score float64) *registry.AgentMatch {
	return &registry.AgentMatch{
		Agent: registry.RegisteredAgent{
			ID:           "agent_known",
			Name:         "Veteran Researcher",
			ParentRole:   scheduler.RoleCollector,
			SystemPrompt: "You are Veteran Researcher.",
		},
		Score:  score,
		Reason: "Strong capability overlap",
	}
}

// fakeJournal records the last saved state of every task.
type fakeJournal struct {
	mu    sync.Mutex
	saves int
	last  map[string]*scheduler.Task
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{last: make(map[string]*scheduler.Task)}
}

func (j *fakeJournal) SaveTask(ctx context.Context, runID string, task *scheduler.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saves++
	cp := *task
	j.last[task.ID] = &cp
	return nil
}

func (j *fakeJournal) Last(id string) (*scheduler.Task, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.last[id]
	return t, ok
}
