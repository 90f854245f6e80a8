// Package backend adapts language-model providers to a single Send call.
package backend

import (
	"context"
	"fmt"
)

// Backend defines the interface that all backend adapters must implement.
type Backend interface {
	// Send sends a message to the model and returns its answer.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases resources held by the adapter.
	Close() error

	// Name identifies the adapter in logs.
	Name() string
}

// New creates a new backend based on the provided configuration.
// This factory function switches on cfg.Type and returns the appropriate adapter.
func New(ctx context.Context, cfg Config, pm *ProcessManager) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Type {
	case "gemini":
		b, err = NewGeminiAdapter(ctx, cfg)
	case "anthropic":
		b, err = NewAnthropicAdapter(cfg)
	case "claude-cli":
		b, err = NewClaudeAdapter(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
