package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/scheduler"
)

// ErrStalled is returned when unresolved tasks remain but none can run.
var ErrStalled = errors.New("scheduler stalled")

// Options tunes the run loop and the per-task lifecycle.
type Options struct {
	ReuseThreshold      float64 // Inclusive match score for agent reuse
	MaxPlanAttempts     int
	MaxTaskRetries      int
	Workers             int // Concurrent task attempts
	PlanContextLimit    int // Knowledge base runes given to planning
	ExecuteContextLimit int // Knowledge base runes given to execution
}

// DefaultOptions returns the stock pipeline limits.
func DefaultOptions() Options {
	return Options{
		ReuseThreshold:      DefaultReuseThreshold,
		MaxPlanAttempts:     3,
		MaxTaskRetries:      2,
		Workers:             1,
		PlanContextLimit:    5000,
		ExecuteContextLimit: 10000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxPlanAttempts <= 0 {
		o.MaxPlanAttempts = d.MaxPlanAttempts
	}
	if o.MaxTaskRetries <= 0 {
		o.MaxTaskRetries = d.MaxTaskRetries
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.PlanContextLimit <= 0 {
		o.PlanContextLimit = d.PlanContextLimit
	}
	if o.ExecuteContextLimit <= 0 {
		o.ExecuteContextLimit = d.ExecuteContextLimit
	}
	return o
}

// TaskJournal records task state as it changes.
type TaskJournal interface {
	SaveTask(ctx context.Context, runID string, task *scheduler.Task) error
}

// SchedulerConfig wires a Scheduler.
type SchedulerConfig struct {
	DAG       *scheduler.DAG
	Service   agents.Service // Normally a *Gateway
	Agents    AgentDirectory
	Knowledge *KnowledgeBase
	Bus       *events.EventBus // Optional
	Journal   TaskJournal      // Optional
	RunID     string
	Options   Options
	Logger    *zap.Logger
}

// Summary is the outcome of a run.
type Summary struct {
	Total        int
	Completed    int
	Failed       int
	CompletedIDs []string
	FailedIDs    []string
}

// Scheduler drives every task of a DAG to a terminal state.
type Scheduler struct {
	dag     *scheduler.DAG
	svc     agents.Service
	dir     AgentDirectory
	kb      *KnowledgeBase
	bus     *events.EventBus
	journal TaskJournal
	runID   string
	opts    Options
	logger  *zap.Logger
	agents  *agentTracker
}

// NewScheduler creates a scheduler. A nil Knowledge starts empty.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Knowledge == nil {
		cfg.Knowledge = NewKnowledgeBase("")
	}
	return &Scheduler{
		dag:     cfg.DAG,
		svc:     cfg.Service,
		dir:     cfg.Agents,
		kb:      cfg.Knowledge,
		bus:     cfg.Bus,
		journal: cfg.Journal,
		runID:   cfg.RunID,
		opts:    cfg.Options.withDefaults(),
		logger:  cfg.Logger.With(zap.String("run", cfg.RunID)),
		agents:  newAgentTracker(),
	}
}

// ActiveAgents returns the assignments made during the run, oldest first.
func (s *Scheduler) ActiveAgents() []Assignment {
	return s.agents.list()
}

// Run claims ready tasks in insertion order, at most Options.Workers at a
// time, until every task is completed or failed. On cancellation no new
// task is claimed, in-flight attempts are released back to pending, and
// ctx.Err() is returned.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	workers := s.opts.Workers

	var g errgroup.Group
	g.SetLimit(workers)
	done := make(chan string, workers)
	running := 0

	s.log(events.ActorOrchestrator, "System", events.SeverityInfo, "",
		fmt.Sprintf("Executing %d tasks with %d worker(s)", s.dag.Len(), workers), "")
	s.publishProgress()

	for {
		s.failBlocked(ctx)

		if s.dag.IsResolved() {
			break
		}

		if ctx.Err() == nil {
			for _, task := range s.dag.FindReady() {
				if running >= workers {
					break
				}
				claimed, err := s.dag.Claim(task.ID, fmt.Sprintf("attempt %d started", task.RetryCount+1))
				if err != nil {
					s.logger.Debug("Claim lost", zap.String("task", task.ID), zap.Error(err))
					continue
				}
				s.record(ctx, claimed.ID)
				running++
				g.Go(func() error {
					defer func() { done <- claimed.ID }()
					s.runTask(ctx, claimed)
					return nil
				})
			}
		}

		if running == 0 {
			if err := ctx.Err(); err != nil {
				return s.summary(), err
			}
			p := s.dag.Progress()
			return s.summary(), fmt.Errorf("%w: %d pending, %d in progress", ErrStalled, p.Pending, p.InProgress)
		}

		select {
		case <-done:
			running--
		case <-ctx.Done():
			s.logger.Info("Run cancelled, waiting for in-flight attempts", zap.Int("running", running))
			_ = g.Wait()
			return s.summary(), ctx.Err()
		}
	}

	_ = g.Wait()
	summary := s.summary()
	s.log(events.ActorOrchestrator, "System", events.SeveritySuccess, "",
		fmt.Sprintf("All tasks execution cycle finished: %d completed, %d failed", summary.Completed, summary.Failed), "")
	return summary, nil
}

// failBlocked fails every pending task that can no longer run.
func (s *Scheduler) failBlocked(ctx context.Context) {
	for _, task := range s.dag.FailBlocked() {
		reason := task.Transitions[len(task.Transitions)-1].Reason
		if _, err := s.dag.AppendInteraction(task.ID, scheduler.InteractionCritique, "Task failed: "+reason); err != nil {
			s.logger.Error("Failed to append interaction", zap.String("task", task.ID), zap.Error(err))
		}
		s.log(events.ActorOrchestrator, "System", events.SeverityError, task.ID,
			fmt.Sprintf("Task %s blocked by failed dependency. Marking failed.", task.Title), reason)
		s.record(ctx, task.ID)
	}
}

func (s *Scheduler) summary() Summary {
	var sum Summary
	for _, task := range s.dag.Tasks() {
		sum.Total++
		switch task.Status {
		case scheduler.TaskCompleted:
			sum.Completed++
			sum.CompletedIDs = append(sum.CompletedIDs, task.ID)
		case scheduler.TaskFailed:
			sum.Failed++
			sum.FailedIDs = append(sum.FailedIDs, task.ID)
		}
	}
	return sum
}

// record publishes the latest transition of a task and journals it.
func (s *Scheduler) record(ctx context.Context, taskID string) {
	task, ok := s.dag.Get(taskID)
	if !ok {
		return
	}
	if n := len(task.Transitions); n > 0 {
		last := task.Transitions[n-1]
		s.logger.Debug("Task transition",
			zap.String("task", task.ID),
			zap.String("from", string(last.From)),
			zap.String("to", string(last.To)),
			zap.String("reason", last.Reason),
		)
		s.bus.Publish(events.TaskStatusEvent{
			ID:         task.ID,
			Title:      task.Title,
			Role:       task.Role,
			From:       last.From,
			To:         last.To,
			Reason:     last.Reason,
			RetryCount: task.RetryCount,
			Timestamp:  last.At,
		})
	}
	s.journalTask(ctx, task)
	s.publishProgress()
}

func (s *Scheduler) journalTask(ctx context.Context, task *scheduler.Task) {
	if s.journal == nil {
		return
	}
	// Journal writes outlive cancellation so the final state is kept.
	if err := s.journal.SaveTask(context.WithoutCancel(ctx), s.runID, task); err != nil {
		s.logger.Warn("Failed to journal task", zap.String("task", task.ID), zap.Error(err))
	}
}

func (s *Scheduler) publishProgress() {
	s.bus.Publish(events.ProgressEvent{Progress: s.dag.Progress(), Timestamp: time.Now()})
}

func (s *Scheduler) log(actor events.Actor, name string, severity events.Severity, taskID, msg, details string) {
	s.bus.Publish(events.LogEvent{
		Actor:     actor,
		ActorName: name,
		Message:   msg,
		Severity:  severity,
		Details:   details,
		Task:      taskID,
		Timestamp: time.Now(),
	})
}
