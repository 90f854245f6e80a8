package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ClaudeAdapter implements the Backend interface for the Claude Code CLI.
// Every Send is an independent one-shot invocation.
type ClaudeAdapter struct {
	command string
	workDir string
	model   string
	procMgr *ProcessManager
}

// claudeResponse represents the JSON structure returned by `claude -p --output-format json`.
// Current CLI versions return the text in "result" directly; older ones nested
// it as {"result": {"content": [{"type": "text", "text": "..."}]}}.
type claudeResponse struct {
	IsError bool            `json:"is_error"`
	Result  json.RawMessage `json:"result"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeAdapter creates a new Claude Code CLI backend adapter.
// The ProcessManager is optional - if nil, subprocesses won't be tracked.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*ClaudeAdapter, error) {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &ClaudeAdapter{
		command: command,
		workDir: workDir,
		model:   cfg.Model,
		procMgr: procMgr,
	}, nil
}

// Send runs the CLI once and returns its answer.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.command, a.buildArgs(msg)...)
	cmd.Dir = a.workDir

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{}, fmt.Errorf("claude command failed: %w", err)
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{}, fmt.Errorf("failed to parse claude response: %w (stderr: %s)", err, string(stderr))
	}
	return resp, nil
}

// Close is a no-op for Claude Code (subprocess-per-invocation model).
func (a *ClaudeAdapter) Close() error {
	return nil
}

// Name returns "claude-cli", with the model when one is set.
func (a *ClaudeAdapter) Name() string {
	if a.model == "" {
		return "claude-cli"
	}
	return "claude-cli/" + a.model
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (a *ClaudeAdapter) buildArgs(msg Message) []string {
	args := []string{"-p", msg.Content, "--output-format", "json"}

	// Add optional model override
	if a.model != "" {
		args = append(args, "--model", a.model)
	}

	// Add optional system prompt
	if system := systemFor(msg); system != "" {
		args = append(args, "--system-prompt", system)
	}

	return args
}

// parseClaudeResponse parses the JSON output from Claude Code CLI.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var content string
	var text string
	if err := json.Unmarshal(cr.Result, &text); err == nil {
		content = text
	} else {
		var nested claudeContent
		if err := json.Unmarshal(cr.Result, &nested); err != nil {
			return Response{}, fmt.Errorf("unexpected result shape: %w", err)
		}
		// Extract text content from the content array
		for _, item := range nested.Content {
			if item.Type == "text" {
				content += item.Text
			}
		}
	}

	if cr.IsError {
		return Response{}, fmt.Errorf("claude reported an error: %s", strings.TrimSpace(content))
	}
	return Response{Content: content}, nil
}
