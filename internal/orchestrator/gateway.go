package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/scheduler"
)

// ErrDecomposition is returned when requirements could not be turned into
// task drafts.
var ErrDecomposition = errors.New("requirements decomposition failed")

// Call kinds, one circuit breaker each.
const (
	callDraft          = "draft-requirements"
	callDecompose      = "decompose-requirements"
	callPlan           = "generate-plan"
	callCritiquePlan   = "critique-plan"
	callExecute        = "execute-task"
	callCritiqueResult = "critique-result"
)

// DefaultCallTimeout bounds a single service call attempt.
const DefaultCallTimeout = 2 * time.Minute

// Feedback attached to verdicts issued when the critique service is down.
const (
	planFailOpenFeedback   = "Critique service unavailable, proceeding."
	resultFailOpenFeedback = "Critique service unavailable."
)

// Gateway wraps an agents.Service with timeouts, retries, circuit breakers
// and the fallback policy of each call.
type Gateway struct {
	svc      agents.Service
	breakers *CircuitBreakerRegistry
	retry    RetryConfig
	timeout  time.Duration
	bus      *events.EventBus
	logger   *zap.Logger
}

// GatewayConfig configures a Gateway. Zero values pick the defaults.
type GatewayConfig struct {
	Retry       RetryConfig
	CallTimeout time.Duration
	Bus         *events.EventBus
	Logger      *zap.Logger
}

// NewGateway creates a gateway in front of svc.
func NewGateway(svc agents.Service, cfg GatewayConfig) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Gateway{
		svc:      svc,
		breakers: NewCircuitBreakerRegistry(cfg.Logger),
		retry:    cfg.Retry,
		timeout:  cfg.CallTimeout,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
	}
}

var _ agents.Service = (*Gateway)(nil)

func call[T any](ctx context.Context, g *Gateway, kind string, fn func(context.Context) (T, error)) (T, error) {
	return callWithRetry(ctx, g.breakers.Get(kind), g.retry, g.timeout, fn)
}

// DraftRequirements returns the service error as is; the intake loop
// applies its own fallback.
func (g *Gateway) DraftRequirements(ctx context.Context, req agents.DraftRequest) (agents.DraftReply, error) {
	return call(ctx, g, callDraft, func(ctx context.Context) (agents.DraftReply, error) {
		return g.svc.DraftRequirements(ctx, req)
	})
}

// DecomposeRequirements wraps any failure in ErrDecomposition.
func (g *Gateway) DecomposeRequirements(ctx context.Context, doc agents.RequirementsDoc) ([]agents.TaskDraft, error) {
	drafts, err := call(ctx, g, callDecompose, func(ctx context.Context) ([]agents.TaskDraft, error) {
		return g.svc.DecomposeRequirements(ctx, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecomposition, err)
	}
	return drafts, nil
}

// GeneratePlan fails the attempt on error.
func (g *Gateway) GeneratePlan(ctx context.Context, req agents.PlanRequest) (string, error) {
	return call(ctx, g, callPlan, func(ctx context.Context) (string, error) {
		return g.svc.GeneratePlan(ctx, req)
	})
}

// ExecuteTask fails the attempt on error.
func (g *Gateway) ExecuteTask(ctx context.Context, req agents.ExecuteRequest) (agents.Execution, error) {
	return call(ctx, g, callExecute, func(ctx context.Context) (agents.Execution, error) {
		return g.svc.ExecuteTask(ctx, req)
	})
}

// CritiquePlan only fails when ctx is done: an unavailable critique
// approves the plan.
func (g *Gateway) CritiquePlan(ctx context.Context, task *scheduler.Task, plan string, persona agents.Persona) (agents.Verdict, error) {
	v, err := call(ctx, g, callCritiquePlan, func(ctx context.Context) (agents.Verdict, error) {
		return g.svc.CritiquePlan(ctx, task, plan, persona)
	})
	if err != nil {
		return g.failOpen(ctx, task, callCritiquePlan, planFailOpenFeedback, err)
	}
	return v, nil
}

// CritiqueResult only fails when ctx is done: an unavailable critique
// approves the result.
func (g *Gateway) CritiqueResult(ctx context.Context, task *scheduler.Task, result string) (agents.Verdict, error) {
	v, err := call(ctx, g, callCritiqueResult, func(ctx context.Context) (agents.Verdict, error) {
		return g.svc.CritiqueResult(ctx, task, result)
	})
	if err != nil {
		return g.failOpen(ctx, task, callCritiqueResult, resultFailOpenFeedback, err)
	}
	return v, nil
}

// failOpen approves on a service outage. A cancelled run is not an outage
// and is never approved.
func (g *Gateway) failOpen(ctx context.Context, task *scheduler.Task, kind, feedback string, err error) (agents.Verdict, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return agents.Verdict{}, ctxErr
	}
	g.logger.Warn("Critique unavailable, approving",
		zap.String("call", kind),
		zap.String("task", task.ID),
		zap.Error(err),
	)
	g.bus.Publish(events.LogEvent{
		Actor:     events.ActorCritique,
		ActorName: "Sentinel",
		Message:   "Critique service unavailable, approving by default",
		Severity:  events.SeverityWarning,
		Details:   err.Error(),
		Task:      task.ID,
		Timestamp: time.Now(),
	})
	return agents.Verdict{Approved: true, Feedback: feedback, FailOpen: true}, nil
}
