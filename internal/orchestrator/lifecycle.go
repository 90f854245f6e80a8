package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/scheduler"
)

// Interaction texts recorded on the task log.
const (
	planApprovedText   = "Plan Approved. Proceed with execution."
	resultApprovedText = "Result Validated."
)

// runTask drives one claimed attempt through plan, critique, execution and
// review, and resolves it with Complete, Retry or Release.
func (s *Scheduler) runTask(ctx context.Context, task *scheduler.Task) {
	a := assign(s.dir, task, s.opts.ReuseThreshold)
	s.agents.put(a)
	s.publishAgent(a)

	if a.Reused {
		s.log(events.ActorOrchestrator, "Registry", events.SeveritySuccess, task.ID,
			fmt.Sprintf("Reusing agent: %s (%.0f%% match)", a.Name, a.Score*100), "Reason: "+a.Reason)
	} else {
		label := ""
		if task.RetryCount > 0 {
			label = fmt.Sprintf(" (Retry #%d)", task.RetryCount)
		}
		s.log(events.ActorForRole(task.Role), "System", events.SeverityInfo, task.ID,
			fmt.Sprintf("Spawning new agent: %s%s", a.Name, label), "")
	}

	result, failure := s.attempt(ctx, task, a)

	// A cancelled attempt is discarded even if every call it made returned.
	switch {
	case ctx.Err() != nil:
		s.abandon(ctx, task, a)
	case failure == "":
		s.succeed(ctx, task, a, result)
	default:
		s.fail(ctx, task, a, failure)
	}
}

// attempt returns the validated result, or a non-empty failure reason.
func (s *Scheduler) attempt(ctx context.Context, task *scheduler.Task, a Assignment) (string, string) {
	persona := agents.Persona{Name: a.Name, Role: task.Role, SystemPrompt: a.SystemPrompt}
	logger := s.logger.With(zap.String("task", task.ID), zap.String("agent", a.Name))

	s.log(events.ActorDynamic, a.Name, events.SeverityInfo, task.ID, "Drafting execution plan...", "")

	var (
		plan     string
		feedback string
		approved bool
	)
	for n := 1; n <= s.opts.MaxPlanAttempts && !approved; n++ {
		p, err := s.svc.GeneratePlan(ctx, agents.PlanRequest{
			Task:      task,
			Persona:   persona,
			Knowledge: s.kb.Excerpt(s.opts.PlanContextLimit),
			Feedback:  feedback,
		})
		if err != nil {
			logger.Warn("Plan generation failed", zap.Int("plan_attempt", n), zap.Error(err))
			return "", fmt.Sprintf("plan generation failed: %v", err)
		}
		plan = p
		s.interact(ctx, task.ID, scheduler.InteractionAgent, fmt.Sprintf("Proposed Plan (v%d):\n%s", n, plan))

		s.log(events.ActorCritique, "Sentinel", events.SeverityCritique, task.ID, fmt.Sprintf("Reviewing plan v%d...", n), "")
		verdict, err := s.svc.CritiquePlan(ctx, task, plan, persona)
		if err != nil {
			return "", fmt.Sprintf("plan critique failed: %v", err)
		}

		if verdict.Approved {
			s.interact(ctx, task.ID, scheduler.InteractionCritique, planApprovedText)
			approved = true
			continue
		}
		s.interact(ctx, task.ID, scheduler.InteractionCritique, "Plan Rejected. Issues: "+verdict.Feedback)
		s.log(events.ActorCritique, "Sentinel", events.SeverityWarning, task.ID, "Plan rejected. Requesting revision.", verdict.Feedback)
		feedback = verdict.Feedback
	}

	if !approved {
		reason := fmt.Sprintf("no approved plan after %d attempts", s.opts.MaxPlanAttempts)
		s.log(events.ActorCritique, "Sentinel", events.SeverityError, task.ID, "Task failed: "+reason, "")
		return "", reason
	}

	s.setPhase(a.ID, PhaseExecuting)
	s.log(events.ActorDynamic, a.Name, events.SeverityInfo, task.ID, "Executing approved plan...", "")
	exec, err := s.svc.ExecuteTask(ctx, agents.ExecuteRequest{
		Task:      task,
		Persona:   persona,
		Plan:      plan,
		Knowledge: s.kb.Excerpt(s.opts.ExecuteContextLimit),
	})
	if err != nil {
		logger.Warn("Execution failed", zap.Error(err))
		return "", fmt.Sprintf("execution failed: %v", err)
	}
	s.interact(ctx, task.ID, scheduler.InteractionAgent, "Execution Result:\n"+exec.Result)

	if err := s.dag.MarkReviewing(task.ID, "result under review"); err != nil {
		logger.Error("Failed to mark task reviewing", zap.Error(err))
		return "", fmt.Sprintf("review transition failed: %v", err)
	}
	s.record(ctx, task.ID)
	s.setPhase(a.ID, PhaseReviewing)

	s.log(events.ActorCritique, "Sentinel", events.SeverityInfo, task.ID, "Reviewing execution result...", "")
	verdict, err := s.svc.CritiqueResult(ctx, task, exec.Result)
	if err != nil {
		return "", fmt.Sprintf("result critique failed: %v", err)
	}
	if !verdict.Approved {
		s.interact(ctx, task.ID, scheduler.InteractionCritique, "Result Unsatisfactory: "+verdict.Feedback)
		s.log(events.ActorCritique, "Sentinel", events.SeverityError, task.ID, "Result sub-par.", verdict.Feedback)
		return "", "result rejected: " + verdict.Feedback
	}
	s.interact(ctx, task.ID, scheduler.InteractionCritique, resultApprovedText)
	s.log(events.ActorCritique, "Sentinel", events.SeveritySuccess, task.ID, "Result validated.", exec.Logic)
	return exec.Result, ""
}

func (s *Scheduler) succeed(ctx context.Context, task *scheduler.Task, a Assignment, result string) {
	if err := s.dag.Complete(task.ID, result, "result validated"); err != nil {
		s.logger.Error("Failed to complete task", zap.String("task", task.ID), zap.Error(err))
		return
	}
	s.kb.Append(task.Title, result)
	s.record(ctx, task.ID)

	if a.Reused {
		if s.dir.UpdateMetrics(ctx, a.RegistryID, true) {
			s.log(events.ActorOrchestrator, "Registry", events.SeverityInfo, task.ID, "Updated metrics for: "+a.Name, "")
		}
	} else {
		reg := s.dir.Register(ctx, task, a.Name, a.SystemPrompt)
		s.log(events.ActorOrchestrator, "Registry", events.SeveritySuccess, task.ID, "Registered new agent: "+reg.Name, "")
	}

	s.finishAgent(a.ID, AgentCompleted)
}

func (s *Scheduler) fail(ctx context.Context, task *scheduler.Task, a Assignment, reason string) {
	if a.Reused {
		s.dir.UpdateMetrics(ctx, a.RegistryID, false)
	}
	s.interact(ctx, task.ID, scheduler.InteractionCritique, "Attempt failed: "+reason)

	status, err := s.dag.Retry(task.ID, reason, s.opts.MaxTaskRetries)
	if err != nil {
		s.logger.Error("Failed to record retry", zap.String("task", task.ID), zap.Error(err))
		return
	}
	s.record(ctx, task.ID)

	if status == scheduler.TaskPending {
		current, _ := s.dag.Get(task.ID)
		s.log(events.ActorOrchestrator, "System", events.SeverityWarning, task.ID,
			fmt.Sprintf("Task failed. Initiating retry (%d/%d)...", current.RetryCount, s.opts.MaxTaskRetries), reason)
	} else {
		s.log(events.ActorOrchestrator, "System", events.SeverityError, task.ID,
			fmt.Sprintf("Task failed after %d attempts. Marking as permanently failed.", s.opts.MaxTaskRetries), reason)
	}

	s.finishAgent(a.ID, AgentTerminated)
}

// abandon puts a cancelled attempt back to pending without counting it.
func (s *Scheduler) abandon(ctx context.Context, task *scheduler.Task, a Assignment) {
	if err := s.dag.Release(task.ID, "attempt cancelled"); err != nil {
		s.logger.Error("Failed to release task", zap.String("task", task.ID), zap.Error(err))
	}
	s.record(ctx, task.ID)
	s.finishAgent(a.ID, AgentTerminated)
}

func (s *Scheduler) interact(ctx context.Context, taskID string, role scheduler.InteractionRole, content string) {
	if _, err := s.dag.AppendInteraction(taskID, role, content); err != nil {
		s.logger.Error("Failed to append interaction", zap.String("task", taskID), zap.Error(err))
		return
	}
	if task, ok := s.dag.Get(taskID); ok {
		s.journalTask(ctx, task)
	}
}

func (s *Scheduler) setPhase(agentID string, phase AgentPhase) {
	if a, ok := s.agents.update(agentID, func(a *Assignment) { a.Phase = phase }); ok {
		s.publishAgent(a)
	}
}

func (s *Scheduler) finishAgent(agentID string, status AgentStatus) {
	if a, ok := s.agents.update(agentID, func(a *Assignment) { a.Status = status }); ok {
		s.publishAgent(a)
	}
}

func (s *Scheduler) publishAgent(a Assignment) {
	s.bus.Publish(events.AgentEvent{
		Task:       a.TaskID,
		AgentID:    a.ID,
		Name:       a.Name,
		Role:       a.Role,
		Reused:     a.Reused,
		RegistryID: a.RegistryID,
		Score:      a.Score,
		Phase:      string(a.Phase),
		Status:     string(a.Status),
		Timestamp:  time.Now(),
	})
}
