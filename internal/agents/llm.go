package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aristath/taskforge/internal/backend"
	"github.com/aristath/taskforge/internal/scheduler"
)

// ErrMalformedResponse is returned when a structured answer cannot be decoded.
var ErrMalformedResponse = errors.New("malformed model response")

// LLMService implements Service over a backend.Backend.
type LLMService struct {
	backend backend.Backend
	logger  *zap.Logger
}

// NewLLMService creates a service that sends every call to b.
func NewLLMService(b backend.Backend, logger *zap.Logger) *LLMService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMService{backend: b, logger: logger.Named("agents")}
}

var _ Service = (*LLMService)(nil)

func (s *LLMService) send(ctx context.Context, call, system, prompt string, asJSON bool) (string, error) {
	resp, err := s.backend.Send(ctx, backend.Message{System: system, Content: prompt, JSON: asJSON})
	if err != nil {
		return "", fmt.Errorf("%s: %w", call, err)
	}
	s.logger.Debug("Model call finished",
		zap.String("call", call),
		zap.String("backend", s.backend.Name()),
		zap.Int("response_bytes", len(resp.Content)),
	)
	return resp.Content, nil
}

// DraftRequirements runs one intake turn.
func (s *LLMService) DraftRequirements(ctx context.Context, req DraftRequest) (DraftReply, error) {
	system := fmt.Sprintf(reflectorSystem, req.MaxTurns, req.UserTurns)
	raw, err := s.send(ctx, "draft requirements", system, draftPrompt(req), true)
	if err != nil {
		return DraftReply{}, err
	}
	var reply DraftReply
	if err := decodeJSON(raw, &reply); err != nil {
		return DraftReply{}, fmt.Errorf("draft requirements: %w", err)
	}
	return reply, nil
}

// DecomposeRequirements breaks a finalized document into task drafts.
func (s *LLMService) DecomposeRequirements(ctx context.Context, doc RequirementsDoc) ([]TaskDraft, error) {
	raw, err := s.send(ctx, "decompose requirements", orchestratorSystem, decomposePrompt(doc), true)
	if err != nil {
		return nil, err
	}
	var drafts []TaskDraft
	if err := decodeJSON(raw, &drafts); err != nil {
		return nil, fmt.Errorf("decompose requirements: %w", err)
	}
	return drafts, nil
}

// GeneratePlan asks the persona for a plan. An empty answer becomes DefaultPlan.
func (s *LLMService) GeneratePlan(ctx context.Context, req PlanRequest) (string, error) {
	raw, err := s.send(ctx, "generate plan", planSystem(req.Persona), planPrompt(req), false)
	if err != nil {
		return "", err
	}
	plan := strings.TrimSpace(raw)
	if plan == "" {
		return DefaultPlan, nil
	}
	return plan, nil
}

// CritiquePlan reviews a proposed plan.
func (s *LLMService) CritiquePlan(ctx context.Context, task *scheduler.Task, plan string, persona Persona) (Verdict, error) {
	raw, err := s.send(ctx, "critique plan", planCritiqueSystem, planCritiquePrompt(task, plan, persona), true)
	if err != nil {
		return Verdict{}, err
	}
	var v Verdict
	if err := decodeJSON(raw, &v); err != nil {
		return Verdict{}, fmt.Errorf("critique plan: %w", err)
	}
	return v, nil
}

// ExecuteTask carries out an approved plan.
func (s *LLMService) ExecuteTask(ctx context.Context, req ExecuteRequest) (Execution, error) {
	raw, err := s.send(ctx, "execute task", executeSystem(req.Persona, req.Task), executePrompt(req), true)
	if err != nil {
		return Execution{}, err
	}
	var exec Execution
	if err := decodeJSON(raw, &exec); err != nil {
		return Execution{}, fmt.Errorf("execute task: %w", err)
	}
	return exec, nil
}

// CritiqueResult reviews the final output of a task.
func (s *LLMService) CritiqueResult(ctx context.Context, task *scheduler.Task, result string) (Verdict, error) {
	raw, err := s.send(ctx, "critique result", resultCritiqueSystem, resultCritiquePrompt(task, result), true)
	if err != nil {
		return Verdict{}, err
	}
	var v Verdict
	if err := decodeJSON(raw, &v); err != nil {
		return Verdict{}, fmt.Errorf("critique result: %w", err)
	}
	return v, nil
}

// decodeJSON unmarshals a model answer into v. Markdown code fences and
// prose around the JSON value are tolerated.
func decodeJSON(response string, v any) error {
	response = strings.TrimSpace(response)

	// Handle markdown code blocks
	if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimPrefix(response, "```")
		if idx := strings.LastIndex(response, "```"); idx != -1 {
			response = response[:idx]
		}
		response = strings.TrimSpace(response)
	}

	start := strings.IndexAny(response, "{[")
	if start == -1 {
		return fmt.Errorf("%w: no JSON value found", ErrMalformedResponse)
	}
	closer := "}"
	if response[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(response, closer)
	if end < start {
		return fmt.Errorf("%w: unterminated JSON value", ErrMalformedResponse)
	}

	if err := json.Unmarshal([]byte(response[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
