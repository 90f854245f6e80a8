package backend

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when Config.Model is empty.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiAdapter implements the Backend interface for the Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

// NewGeminiAdapter creates a Gemini backend. An API key is required.
func NewGeminiAdapter(ctx context.Context, cfg Config) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini backend requires an API key")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiAdapter{client: client, model: model}, nil
}

// Send issues one GenerateContent call.
func (a *GeminiAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	gc := &genai.GenerateContentConfig{}
	if msg.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(msg.System, genai.RoleUser)
	}
	if msg.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(msg.Content), gc)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate content: %w", err)
	}

	// An empty candidate is a valid answer; callers decide what it means.
	return Response{Content: resp.Text()}, nil
}

// Close is a no-op, the GenAI client holds no resources that need releasing.
func (a *GeminiAdapter) Close() error {
	return nil
}

// Name returns "gemini/<model>".
func (a *GeminiAdapter) Name() string {
	return "gemini/" + a.model
}
