package backend

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when Config.Model is empty.
const DefaultAnthropicModel = anthropic.ModelClaudeSonnet4_20250514

// AnthropicAdapter implements the Backend interface for the Anthropic Messages API.
type AnthropicAdapter struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicAdapter creates an Anthropic backend. An API key is required.
func NewAnthropicAdapter(cfg Config) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic backend requires an API key")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := DefaultAnthropicModel
	if cfg.Model != "" {
		model = anthropic.Model(cfg.Model)
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicAdapter{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Send makes a single Messages call without tools.
func (a *AnthropicAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)),
		},
	}
	if system := systemFor(msg); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var result string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			result += variant.Text
		}
	}
	return Response{Content: result}, nil
}

// Close is a no-op for the HTTP client.
func (a *AnthropicAdapter) Close() error {
	return nil
}

// Name returns "anthropic/<model>".
func (a *AnthropicAdapter) Name() string {
	return "anthropic/" + string(a.model)
}
