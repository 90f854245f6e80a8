package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/intake"
	"github.com/aristath/taskforge/internal/persistence"
	"github.com/aristath/taskforge/internal/registry"
	"github.com/aristath/taskforge/internal/scheduler"
)

type testPipeline struct {
	orch  *Orchestrator
	svc   *fakeService
	reg   *registry.Registry
	store *persistence.SQLiteStore
	bus   *events.EventBus
}

func newTestPipeline(t *testing.T, svc *fakeService) *testPipeline {
	t.Helper()
	ctx := context.Background()

	store, err := persistence.NewMemoryStore(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewEventBus()
	t.Cleanup(bus.Close)

	reg := registry.New(ctx, registry.NewMemoryStore(), registry.DefaultThresholds(), nil)
	orch := New(Config{
		Service: svc,
		Gateway: GatewayConfig{Retry: fastRetry(0), CallTimeout: time.Second},
		Agents:  reg,
		Bus:     bus,
		Journal: store,
		Options: DefaultOptions(),
	})
	return &testPipeline{orch: orch, svc: svc, reg: reg, store: store, bus: bus}
}

func TestOrchestratorFullPipeline(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, newFakeService())
	stages := p.bus.Subscribe(events.TopicStage, 10)

	assert.Equal(t, StageIdle, p.orch.Stage())
	assert.Equal(t, intake.Greeting, p.orch.Greeting())

	reply, err := p.orch.Submit(ctx, "I need a research report")
	require.NoError(t, err)
	assert.True(t, reply.IsComplete)
	assert.Equal(t, StageOrchestrating, p.orch.Stage())

	require.NoError(t, p.orch.Plan(ctx))
	assert.Equal(t, StageExecuting, p.orch.Stage())

	snap := p.orch.Snapshot()
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "t1", snap.Tasks[0].ID)
	assert.Equal(t, []string{"t1"}, snap.Tasks[1].DependsOn)
	assert.Equal(t, scheduler.RoleSynthesizer, snap.Tasks[1].Role)
	assert.Regexp(t, `^run_`, snap.RunID)
	assert.Equal(t, "As a user I want a report", snap.Requirements.UserStory)

	summary, err := p.orch.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, StageFinished, p.orch.Stage())

	snap = p.orch.Snapshot()
	assert.Equal(t, 2, snap.Progress.Completed)
	assert.NotEmpty(t, snap.Registry)
	assert.Len(t, snap.ActiveAgents, 2)
	assert.Contains(t, snap.Knowledge, "Result: result of t1")
	require.Len(t, snap.Transcript, 3)
	assert.Equal(t, intake.Greeting, snap.Transcript[0].Content)

	// Journal
	run, err := p.store.GetRun(ctx, snap.RunID)
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.Equal(t, 2, run.Completed)
	assert.Zero(t, run.Failed)
	var doc agents.RequirementsDoc
	require.NoError(t, json.Unmarshal([]byte(run.Requirements), &doc))
	assert.True(t, doc.IsComplete)

	tasks, err := p.store.ListTasks(ctx, snap.RunID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, scheduler.TaskCompleted, task.Status)
	}

	var seen []string
	for len(stages) > 0 {
		seen = append(seen, (<-stages).(events.StageEvent).To)
	}
	assert.Equal(t, []string{"REFLECTING", "ORCHESTRATING", "EXECUTING", "FINISHED"}, seen)
}

func TestOrchestratorSubmitContinuesInterview(t *testing.T) {
	svc := newFakeService()
	svc.draft = func(req agents.DraftRequest) (agents.DraftReply, error) {
		return agents.DraftReply{
			Response:     "Which audience?",
			Options:      []string{"Engineers", "Managers"},
			Requirements: agents.RequirementsDoc{UserStory: "draft"},
		}, nil
	}
	p := newTestPipeline(t, svc)

	reply, err := p.orch.Submit(context.Background(), "a report")
	require.NoError(t, err)
	assert.False(t, reply.IsComplete)
	assert.Equal(t, []string{"Engineers", "Managers"}, reply.Options)
	assert.Equal(t, StageReflecting, p.orch.Stage())

	err = p.orch.Plan(context.Background())
	assert.ErrorIs(t, err, ErrRequirementsIncomplete)
	assert.Zero(t, svc.Calls("decompose", ""))
}

func TestOrchestratorSubmitServiceFailure(t *testing.T) {
	svc := newFakeService()
	svc.draft = func(agents.DraftRequest) (agents.DraftReply, error) {
		return agents.DraftReply{}, errServiceDown
	}
	p := newTestPipeline(t, svc)

	reply, err := p.orch.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, intake.FallbackReply, reply.Text)
	assert.Equal(t, StageReflecting, p.orch.Stage())
}

func TestOrchestratorSubmitWrongStage(t *testing.T) {
	p := newTestPipeline(t, newFakeService())
	require.NoError(t, p.orch.PlanFrom(context.Background(), completeDoc()))

	_, err := p.orch.Submit(context.Background(), "more")
	assert.ErrorIs(t, err, ErrWrongStage)
}

func TestOrchestratorPlanFrom(t *testing.T) {
	t.Run("incomplete document", func(t *testing.T) {
		p := newTestPipeline(t, newFakeService())
		doc := completeDoc()
		doc.IsComplete = false

		err := p.orch.PlanFrom(context.Background(), doc)
		assert.ErrorIs(t, err, ErrRequirementsIncomplete)
		assert.Equal(t, StageIdle, p.orch.Stage())
	})

	t.Run("complete document", func(t *testing.T) {
		p := newTestPipeline(t, newFakeService())
		require.NoError(t, p.orch.PlanFrom(context.Background(), completeDoc()))
		assert.Equal(t, StageExecuting, p.orch.Stage())
		assert.Len(t, p.orch.Snapshot().Tasks, 2)
	})
}

func TestOrchestratorPlanErrors(t *testing.T) {
	tests := []struct {
		name      string
		decompose func(agents.RequirementsDoc) ([]agents.TaskDraft, error)
		wantErr   error
	}{
		{
			name: "service failure",
			decompose: func(agents.RequirementsDoc) ([]agents.TaskDraft, error) {
				return nil, errServiceDown
			},
			wantErr: ErrDecomposition,
		},
		{
			name: "no tasks",
			decompose: func(agents.RequirementsDoc) ([]agents.TaskDraft, error) {
				return []agents.TaskDraft{}, nil
			},
			wantErr: ErrDecomposition,
		},
		{
			name: "dependency cycle",
			decompose: func(agents.RequirementsDoc) ([]agents.TaskDraft, error) {
				return []agents.TaskDraft{
					{ID: "a", Title: "A", AssignedTo: "COLLECTOR", Dependencies: []string{"b"}},
					{ID: "b", Title: "B", AssignedTo: "COLLECTOR", Dependencies: []string{"a"}},
				}, nil
			},
			wantErr: scheduler.ErrInvalidGraph,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.decompose = tt.decompose
			p := newTestPipeline(t, svc)

			err := p.orch.PlanFrom(context.Background(), completeDoc())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StageOrchestrating, p.orch.Stage(), "failed planning keeps the stage")
			assert.Empty(t, p.orch.Snapshot().Tasks)

			runs, err := p.store.ListRuns(context.Background())
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestOrchestratorPlanRepairsDrafts(t *testing.T) {
	svc := newFakeService()
	svc.decompose = func(agents.RequirementsDoc) ([]agents.TaskDraft, error) {
		return []agents.TaskDraft{
			{ID: "a", Title: "Gather", AssignedTo: "collector"},
			{ID: "b", Title: "Write", AssignedTo: "WIZARD", Dependencies: []string{"a", "ghost"}},
		}, nil
	}
	p := newTestPipeline(t, svc)
	logs := p.bus.Subscribe(events.TopicLog, 50)

	require.NoError(t, p.orch.PlanFrom(context.Background(), completeDoc()))

	tasks := p.orch.Snapshot().Tasks
	require.Len(t, tasks, 2)
	assert.Equal(t, scheduler.RoleCollector, tasks[0].Role)
	assert.Equal(t, scheduler.RoleSynthesizer, tasks[1].Role)
	assert.Equal(t, []string{"a"}, tasks[1].DependsOn)

	warnings := 0
	for len(logs) > 0 {
		if entry := (<-logs).(events.LogEvent); entry.Severity == events.SeverityWarning {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestOrchestratorExecuteWrongStage(t *testing.T) {
	p := newTestPipeline(t, newFakeService())
	_, err := p.orch.Execute(context.Background())
	assert.ErrorIs(t, err, ErrWrongStage)
}

func TestOrchestratorExecuteResumesAfterCancel(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	block := true
	var mu sync.Mutex

	svc := newFakeService()
	svc.execute = func(ctx context.Context, req agents.ExecuteRequest) (agents.Execution, error) {
		mu.Lock()
		wait := block
		mu.Unlock()
		if wait {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return agents.Execution{}, ctx.Err()
		}
		return agents.Execution{Result: "done " + req.Task.ID}, nil
	}
	p := newTestPipeline(t, svc)
	require.NoError(t, p.orch.PlanFrom(context.Background(), completeDoc()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := p.orch.Execute(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StageExecuting, p.orch.Stage())

	mu.Lock()
	block = false
	mu.Unlock()

	summary, err := p.orch.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, StageFinished, p.orch.Stage())

	for _, task := range p.orch.Snapshot().Tasks {
		assert.Zero(t, task.RetryCount)
	}
}

func TestOrchestratorReset(t *testing.T) {
	tests := []struct {
		name          string
		opts          ResetOptions
		wantKnowledge bool
		wantRegistry  bool
	}{
		{"clear everything", ResetOptions{}, false, false},
		{"keep knowledge", ResetOptions{KeepKnowledge: true}, true, false},
		{"keep registry", ResetOptions{KeepRegistry: true}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p := newTestPipeline(t, newFakeService())
			require.NoError(t, p.orch.PlanFrom(ctx, completeDoc()))
			_, err := p.orch.Execute(ctx)
			require.NoError(t, err)

			p.orch.Reset(ctx, tt.opts)

			snap := p.orch.Snapshot()
			assert.Equal(t, StageReflecting, snap.Stage)
			assert.Empty(t, snap.Tasks)
			assert.Empty(t, snap.RunID)
			assert.Empty(t, snap.ActiveAgents)
			assert.False(t, snap.Requirements.IsComplete)
			require.Len(t, snap.Transcript, 1, "fresh interview holds only the greeting")
			assert.Equal(t, tt.wantKnowledge, snap.Knowledge != "")
			assert.Equal(t, tt.wantRegistry, len(snap.Registry) > 0)

			// The interview can start over
			reply, err := p.orch.Submit(ctx, "again")
			require.NoError(t, err)
			assert.True(t, reply.IsComplete)
			assert.Equal(t, StageOrchestrating, p.orch.Stage())
		})
	}
}

func TestOrchestratorResetCancelsExecution(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	svc := newFakeService()
	svc.execute = func(ctx context.Context, req agents.ExecuteRequest) (agents.Execution, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return agents.Execution{}, ctx.Err()
	}
	p := newTestPipeline(t, svc)
	require.NoError(t, p.orch.PlanFrom(context.Background(), completeDoc()))

	errc := make(chan error, 1)
	go func() {
		_, err := p.orch.Execute(context.Background())
		errc <- err
	}()

	<-started
	p.orch.Reset(context.Background(), ResetOptions{})

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after Reset")
	}
	assert.Equal(t, StageReflecting, p.orch.Stage())
	assert.Empty(t, p.orch.Snapshot().Tasks)
}

func TestOrchestratorInstancesAreIndependent(t *testing.T) {
	ctx := context.Background()
	first := newTestPipeline(t, newFakeService())
	second := newTestPipeline(t, newFakeService())

	require.NoError(t, first.orch.PlanFrom(ctx, completeDoc()))
	assert.Equal(t, StageExecuting, first.orch.Stage())
	assert.Equal(t, StageIdle, second.orch.Stage())
	assert.Empty(t, second.orch.Snapshot().Tasks)
}
