// Package intake runs the bounded requirements interview that precedes
// decomposition.
package intake

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aristath/taskforge/internal/agents"
)

// DefaultMaxTurns is the number of user turns after which the draft is
// finalized regardless of the service's opinion.
const DefaultMaxTurns = 5

// Greeting opens every transcript.
const Greeting = "Hello. I am the Reflector Agent. Please describe the task or software you wish to build."

// FallbackReply is shown when the requirements service fails.
const FallbackReply = "Sorry, I could not reach the requirements service. Please repeat or extend your last answer."

// ErrFinalized is returned by Turn once the requirements are complete.
var ErrFinalized = errors.New("requirements already finalized")

// Drafter refines a requirements draft from the conversation so far.
type Drafter interface {
	DraftRequirements(ctx context.Context, req agents.DraftRequest) (agents.DraftReply, error)
}

// Reply is what the user sees after a turn.
type Reply struct {
	Text         string
	Options      []string
	IsComplete   bool
	Requirements agents.RequirementsDoc
	Fallback     bool // The service failed and Text is FallbackReply
}

// Loop is one requirements interview. It is safe for concurrent use, but
// turns are processed one at a time.
type Loop struct {
	mu         sync.Mutex
	svc        Drafter
	maxTurns   int
	logger     *zap.Logger
	transcript []agents.ChatMessage
	draft      agents.RequirementsDoc
	userTurns  int
	done       bool
}

// New starts an interview. maxTurns <= 0 means DefaultMaxTurns.
func New(svc Drafter, maxTurns int, logger *zap.Logger) *Loop {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		svc:        svc,
		maxTurns:   maxTurns,
		logger:     logger.Named("intake"),
		transcript: []agents.ChatMessage{{Role: agents.ChatAssistant, Content: Greeting}},
	}
}

// Turn records a user message and returns the assistant's reply. Once the
// turn ceiling is reached the reply is complete even if the service
// disagrees. A service failure still consumes the turn.
func (l *Loop) Turn(ctx context.Context, msg string) (Reply, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return Reply{}, ErrFinalized
	}

	l.transcript = append(l.transcript, agents.ChatMessage{Role: agents.ChatUser, Content: msg})
	l.userTurns++

	req := agents.DraftRequest{
		Transcript: cloneTranscript(l.transcript),
		Current:    l.draft.Clone(),
		UserTurns:  l.userTurns,
		MaxTurns:   l.maxTurns,
	}

	var reply Reply
	resp, err := l.svc.DraftRequirements(ctx, req)
	if err != nil {
		l.logger.Warn("Requirements service failed",
			zap.Int("turn", l.userTurns),
			zap.Error(err),
		)
		reply = Reply{Text: FallbackReply, Fallback: true}
	} else {
		l.draft = resp.Requirements.Clone()
		reply = Reply{
			Text:    resp.Response,
			Options: append([]string(nil), resp.Options...),
		}
	}

	if l.userTurns >= l.maxTurns && !l.draft.IsComplete {
		l.logger.Info("Turn limit reached, finalizing requirements", zap.Int("turns", l.userTurns))
		l.draft.IsComplete = true
	}
	l.done = l.draft.IsComplete

	reply.IsComplete = l.done
	reply.Requirements = l.draft.Clone()
	l.transcript = append(l.transcript, agents.ChatMessage{
		Role:    agents.ChatAssistant,
		Content: reply.Text,
		Options: append([]string(nil), reply.Options...),
	})
	return reply, nil
}

// Requirements returns the finalized document. ok is false while the
// interview is still running.
func (l *Loop) Requirements() (doc agents.RequirementsDoc, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.done {
		return agents.RequirementsDoc{}, false
	}
	return l.draft.Clone(), true
}

// Draft returns the current draft, complete or not.
func (l *Loop) Draft() agents.RequirementsDoc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draft.Clone()
}

// Transcript returns a copy of the conversation, greeting first.
func (l *Loop) Transcript() []agents.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneTranscript(l.transcript)
}

// UserTurns returns how many user messages were processed.
func (l *Loop) UserTurns() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userTurns
}

// Complete reports whether the requirements are finalized.
func (l *Loop) Complete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func cloneTranscript(msgs []agents.ChatMessage) []agents.ChatMessage {
	out := make([]agents.ChatMessage, len(msgs))
	for i, m := range msgs {
		m.Options = append([]string(nil), m.Options...)
		out[i] = m
	}
	return out
}
