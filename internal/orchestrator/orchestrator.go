// Package orchestrator runs the pipeline: requirements intake, decomposition
// into a task graph, and execution of every task through a
// plan/critique/execute/critique cycle with retries and agent reuse.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/intake"
	"github.com/aristath/taskforge/internal/persistence"
	"github.com/aristath/taskforge/internal/registry"
	"github.com/aristath/taskforge/internal/scheduler"
)

var (
	// ErrRequirementsIncomplete is returned when planning starts without a
	// finalized requirements document.
	ErrRequirementsIncomplete = errors.New("requirements incomplete")

	// ErrWrongStage is returned when an operation is not valid in the
	// current stage.
	ErrWrongStage = errors.New("operation not valid in current stage")
)

// Stage is the pipeline position.
type Stage string

const (
	StageIdle          Stage = "IDLE"
	StageReflecting    Stage = "REFLECTING"    // Requirements intake
	StageOrchestrating Stage = "ORCHESTRATING" // Decomposition
	StageExecuting     Stage = "EXECUTING"
	StageFinished      Stage = "FINISHED"
)

// RunJournal persists runs and their tasks. *persistence.SQLiteStore
// implements it.
type RunJournal interface {
	TaskJournal
	CreateRun(ctx context.Context, run persistence.Run) error
	FinishRun(ctx context.Context, runID string, completed, failed int) error
}

var _ RunJournal = (*persistence.SQLiteStore)(nil)

// Config wires an Orchestrator.
type Config struct {
	Service        agents.Service // Wrapped in a Gateway
	Gateway        GatewayConfig  // Bus and Logger are filled in from this Config
	Agents         AgentDirectory
	Bus            *events.EventBus // Optional
	Journal        RunJournal       // Optional
	Knowledge      *KnowledgeBase   // Optional, starts empty
	Options        Options
	MaxIntakeTurns int
	Logger         *zap.Logger
}

// ResetOptions chooses what survives a Reset.
type ResetOptions struct {
	KeepKnowledge bool
	KeepRegistry  bool
}

// Snapshot is a read-only view of the pipeline.
type Snapshot struct {
	Stage        Stage
	RunID        string
	Requirements agents.RequirementsDoc
	Transcript   []agents.ChatMessage
	Tasks        []*scheduler.Task
	Progress     scheduler.Progress
	Registry     []registry.RegisteredAgent
	ActiveAgents []Assignment
	Knowledge    string
}

// Orchestrator owns one pipeline. Instances share nothing.
type Orchestrator struct {
	mu       sync.Mutex
	stage    Stage
	gw       *Gateway
	dir      AgentDirectory
	bus      *events.EventBus
	journal  RunJournal
	opts     Options
	maxTurns int
	logger   *zap.Logger

	intake *intake.Loop
	doc    agents.RequirementsDoc
	dag    *scheduler.DAG
	kb     *KnowledgeBase
	sched  *Scheduler
	runID  string

	cancel   context.CancelFunc // cancels the running Execute
	execDone chan struct{}      // closed when the running Execute returns
}

// New creates an orchestrator in StageIdle.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	gwCfg := cfg.Gateway
	gwCfg.Bus = cfg.Bus
	gwCfg.Logger = cfg.Logger.Named("gateway")
	gw := NewGateway(cfg.Service, gwCfg)
	if cfg.Knowledge == nil {
		cfg.Knowledge = NewKnowledgeBase("")
	}

	o := &Orchestrator{
		stage:    StageIdle,
		gw:       gw,
		dir:      cfg.Agents,
		bus:      cfg.Bus,
		journal:  cfg.Journal,
		opts:     cfg.Options.withDefaults(),
		maxTurns: cfg.MaxIntakeTurns,
		logger:   cfg.Logger.Named("orchestrator"),
		dag:      scheduler.NewDAG(),
		kb:       cfg.Knowledge,
	}
	o.intake = intake.New(gw, o.maxTurns, cfg.Logger)
	return o
}

// Stage returns the current stage.
func (o *Orchestrator) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// Knowledge returns the knowledge base shared by every run of this instance.
func (o *Orchestrator) Knowledge() *KnowledgeBase {
	return o.kb
}

// setStage must be called with o.mu held.
func (o *Orchestrator) setStage(to Stage) {
	if o.stage == to {
		return
	}
	from := o.stage
	o.stage = to
	o.logger.Info("Stage changed", zap.String("from", string(from)), zap.String("to", string(to)))
	o.bus.Publish(events.StageEvent{From: string(from), To: string(to), Timestamp: time.Now()})
}

func (o *Orchestrator) log(actor events.Actor, name string, severity events.Severity, msg, details string) {
	o.bus.Publish(events.LogEvent{
		Actor:     actor,
		ActorName: name,
		Message:   msg,
		Severity:  severity,
		Details:   details,
		Timestamp: time.Now(),
	})
}

// Greeting returns the opening line of the intake interview.
func (o *Orchestrator) Greeting() string {
	return intake.Greeting
}

// Submit runs one intake turn. When the requirements are complete the
// pipeline moves to StageOrchestrating.
func (o *Orchestrator) Submit(ctx context.Context, userMessage string) (intake.Reply, error) {
	o.mu.Lock()
	switch o.stage {
	case StageIdle:
		o.setStage(StageReflecting)
	case StageReflecting:
	default:
		stage := o.stage
		o.mu.Unlock()
		return intake.Reply{}, fmt.Errorf("%w: submit in %s", ErrWrongStage, stage)
	}
	loop := o.intake
	o.mu.Unlock()

	o.log(events.ActorReflector, "Requirements Engineer", events.SeverityInfo,
		fmt.Sprintf("Processing user input: %q", preview(userMessage, 30)), "")

	reply, err := loop.Turn(ctx, userMessage)
	if err != nil {
		return intake.Reply{}, err
	}

	switch {
	case reply.Fallback:
		o.log(events.ActorReflector, "Requirements Engineer", events.SeverityError, "Error connecting to the requirements service.", "")
	case !reply.IsComplete:
		o.log(events.ActorReflector, "Requirements Engineer", events.SeverityInfo, "Updated requirements draft. Continuing interview.", "")
	}
	if !reply.IsComplete {
		return reply, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.intake != loop || o.stage != StageReflecting {
		// Reset during the turn
		return reply, nil
	}
	o.doc = reply.Requirements.Clone()
	o.log(events.ActorReflector, "Requirements Engineer", events.SeveritySuccess, "Requirements finalized. Handing over to Orchestrator.", "")
	o.setStage(StageOrchestrating)
	return reply, nil
}

// PlanFrom skips the interview and plans from a complete document.
func (o *Orchestrator) PlanFrom(ctx context.Context, doc agents.RequirementsDoc) error {
	if !doc.IsComplete {
		return ErrRequirementsIncomplete
	}

	o.mu.Lock()
	switch o.stage {
	case StageIdle, StageReflecting, StageOrchestrating:
	default:
		o.mu.Unlock()
		return fmt.Errorf("%w: plan in %s", ErrWrongStage, o.stage)
	}
	o.doc = doc.Clone()
	o.setStage(StageOrchestrating)
	o.mu.Unlock()

	return o.Plan(ctx)
}

// Plan decomposes the finalized requirements into the task graph and moves
// to StageExecuting. Errors wrap ErrRequirementsIncomplete, ErrDecomposition
// or scheduler.ErrInvalidGraph; on error the stage does not change.
func (o *Orchestrator) Plan(ctx context.Context) error {
	o.mu.Lock()
	if o.stage != StageOrchestrating || !o.doc.IsComplete {
		o.mu.Unlock()
		return ErrRequirementsIncomplete
	}
	doc := o.doc.Clone()
	o.mu.Unlock()

	o.log(events.ActorOrchestrator, "Master Planner", events.SeverityInfo, "Breaking down requirements into tasks...", "")

	drafts, err := o.gw.DecomposeRequirements(ctx, doc)
	if err != nil {
		o.log(events.ActorOrchestrator, "Master Planner", events.SeverityError, "Decomposition failed.", err.Error())
		return err
	}
	if len(drafts) == 0 {
		o.log(events.ActorOrchestrator, "Master Planner", events.SeverityError, "Decomposition returned no tasks.", "")
		return fmt.Errorf("%w: no tasks returned", ErrDecomposition)
	}

	input := make([]scheduler.Draft, len(drafts))
	for i, d := range drafts {
		input[i] = d.Draft()
	}
	tasks, warnings := scheduler.SanitizeDrafts(input)
	for _, w := range warnings {
		o.logger.Warn("Repaired task draft", zap.String("warning", w))
		o.log(events.ActorOrchestrator, "Master Planner", events.SeverityWarning, w, "")
	}

	dag := scheduler.NewDAG()
	if err := dag.AddTasks(tasks); err != nil {
		o.log(events.ActorOrchestrator, "Master Planner", events.SeverityError, "Task graph rejected.", err.Error())
		return err
	}

	details, _ := json.MarshalIndent(drafts, "", "  ")
	o.log(events.ActorOrchestrator, "Master Planner", events.SeveritySuccess,
		fmt.Sprintf("Created %d high-level tasks.", len(tasks)), string(details))

	runID := "run_" + uuid.NewString()
	if o.journal != nil {
		reqJSON, _ := json.Marshal(doc)
		if err := o.journal.CreateRun(ctx, persistence.Run{ID: runID, Requirements: string(reqJSON), StartedAt: time.Now()}); err != nil {
			o.logger.Warn("Failed to journal run", zap.String("run", runID), zap.Error(err))
		} else {
			for _, task := range dag.Tasks() {
				if err := o.journal.SaveTask(ctx, runID, task); err != nil {
					o.logger.Warn("Failed to journal task", zap.String("task", task.ID), zap.Error(err))
				}
			}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stage != StageOrchestrating {
		// Reset while decomposing
		return fmt.Errorf("%w: pipeline was reset", ErrWrongStage)
	}
	o.dag = dag
	o.runID = runID
	o.sched = nil
	o.setStage(StageExecuting)
	return nil
}

// Execute runs the scheduler over the planned graph and moves to
// StageFinished. If ctx is cancelled the stage stays StageExecuting and a
// later Execute resumes the pending tasks.
func (o *Orchestrator) Execute(ctx context.Context) (Summary, error) {
	o.mu.Lock()
	if o.stage != StageExecuting {
		o.mu.Unlock()
		return Summary{}, fmt.Errorf("%w: execute in %s", ErrWrongStage, o.stage)
	}
	if o.execDone != nil {
		o.mu.Unlock()
		return Summary{}, fmt.Errorf("%w: already executing", ErrWrongStage)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.cancel = cancel
	o.execDone = done

	sched := NewScheduler(SchedulerConfig{
		DAG:       o.dag,
		Service:   o.gw,
		Agents:    o.dir,
		Knowledge: o.kb,
		Bus:       o.bus,
		Journal:   journalOrNil(o.journal),
		RunID:     o.runID,
		Options:   o.opts,
		Logger:    o.logger,
	})
	o.sched = sched
	runID := o.runID
	o.mu.Unlock()

	summary, err := sched.Run(runCtx)

	o.mu.Lock()
	defer o.mu.Unlock()
	cancel()
	close(done)
	o.cancel = nil
	o.execDone = nil

	if err != nil {
		return summary, err
	}
	if o.journal != nil {
		if jerr := o.journal.FinishRun(context.WithoutCancel(ctx), runID, summary.Completed, summary.Failed); jerr != nil {
			o.logger.Warn("Failed to finish run in journal", zap.String("run", runID), zap.Error(jerr))
		}
	}
	if o.stage == StageExecuting {
		o.setStage(StageFinished)
	}
	return summary, nil
}

// journalOrNil avoids a typed nil inside the TaskJournal interface.
func journalOrNil(j RunJournal) TaskJournal {
	if j == nil {
		return nil
	}
	return j
}

// Reset cancels a running execution and returns to StageReflecting with a
// fresh interview and an empty graph.
func (o *Orchestrator) Reset(ctx context.Context, opts ResetOptions) {
	o.mu.Lock()
	cancel, done := o.cancel, o.execDone
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.intake = intake.New(o.gw, o.maxTurns, o.logger)
	o.doc = agents.RequirementsDoc{}
	o.dag = scheduler.NewDAG()
	o.sched = nil
	o.runID = ""
	if !opts.KeepKnowledge {
		o.kb.Reset()
	}
	if !opts.KeepRegistry {
		o.dir.Clear(ctx)
	}
	o.logger.Info("Pipeline reset",
		zap.Bool("keep_knowledge", opts.KeepKnowledge),
		zap.Bool("keep_registry", opts.KeepRegistry),
	)
	o.setStage(StageReflecting)
}

// Snapshot returns a copy of the pipeline state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Stage:        o.stage,
		RunID:        o.runID,
		Requirements: o.doc.Clone(),
		Transcript:   o.intake.Transcript(),
		Tasks:        o.dag.Tasks(),
		Progress:     o.dag.Progress(),
		Registry:     o.dir.All(),
		Knowledge:    o.kb.String(),
	}
	if o.sched != nil {
		snap.ActiveAgents = o.sched.ActiveAgents()
	}
	return snap
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
