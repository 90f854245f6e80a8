// Package config loads taskforge settings from defaults, JSON files, and the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// LLMConfig selects the language-model backend.
type LLMConfig struct {
	Backend string `json:"backend" mapstructure:"backend"`           // "gemini", "anthropic", or "claude-cli"
	Model   string `json:"model,omitempty" mapstructure:"model"`     // Model override, empty for the backend default
	APIKey  string `json:"api_key,omitempty" mapstructure:"api_key"` // Falls back to the backend's vendor variable
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url"`
	Command string `json:"command,omitempty" mapstructure:"command"` // Binary for claude-cli
}

// ThresholdsConfig tunes agent reuse.
type ThresholdsConfig struct {
	ReuseScore       float64 `json:"reuse_score" mapstructure:"reuse_score"` // Inclusive
	MatchFloor       float64 `json:"match_floor" mapstructure:"match_floor"`
	MinSuccessRate   float64 `json:"min_success_rate" mapstructure:"min_success_rate"`
	CapabilityWeight float64 `json:"capability_weight" mapstructure:"capability_weight"`
	PatternWeight    float64 `json:"pattern_weight" mapstructure:"pattern_weight"`
}

// LimitsConfig bounds the pipeline loops.
type LimitsConfig struct {
	MaxPlanAttempts     int `json:"max_plan_attempts" mapstructure:"max_plan_attempts"`
	MaxTaskRetries      int `json:"max_task_retries" mapstructure:"max_task_retries"`
	MaxIntakeTurns      int `json:"max_intake_turns" mapstructure:"max_intake_turns"`
	Workers             int `json:"workers" mapstructure:"workers"`
	PlanContextChars    int `json:"plan_context_chars" mapstructure:"plan_context_chars"`
	ExecuteContextChars int `json:"execute_context_chars" mapstructure:"execute_context_chars"`
}

// TimeoutsConfig holds per-call deadlines.
type TimeoutsConfig struct {
	Call time.Duration `json:"call" mapstructure:"call"`
}

// MarshalJSON writes durations in their string form ("2m0s").
func (t TimeoutsConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Call string `json:"call"`
	}{t.Call.String()})
}

// RetryConfig controls backoff of transient service errors.
type RetryConfig struct {
	InitialInterval time.Duration `json:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" mapstructure:"max_interval"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
}

// MarshalJSON writes durations in their string form.
func (r RetryConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		InitialInterval string `json:"initial_interval"`
		MaxInterval     string `json:"max_interval"`
		MaxRetries      int    `json:"max_retries"`
	}{r.InitialInterval.String(), r.MaxInterval.String(), r.MaxRetries})
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LogConfig configures operator diagnostics.
type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
	File  string `json:"file,omitempty" mapstructure:"file"` // Used in TUI mode, empty means stderr
}

// Config is the top-level configuration.
type Config struct {
	LLM        LLMConfig        `json:"llm" mapstructure:"llm"`
	Thresholds ThresholdsConfig `json:"thresholds" mapstructure:"thresholds"`
	Limits     LimitsConfig     `json:"limits" mapstructure:"limits"`
	Timeouts   TimeoutsConfig   `json:"timeouts" mapstructure:"timeouts"`
	Retry      RetryConfig      `json:"retry" mapstructure:"retry"`
	Storage    StorageConfig    `json:"storage" mapstructure:"storage"`
	Log        LogConfig        `json:"log" mapstructure:"log"`
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Backend {
	case "gemini", "anthropic", "claude-cli":
	default:
		return fmt.Errorf("llm.backend: unknown backend %q", c.LLM.Backend)
	}

	weights := []struct {
		key string
		val float64
	}{
		{"thresholds.reuse_score", c.Thresholds.ReuseScore},
		{"thresholds.match_floor", c.Thresholds.MatchFloor},
		{"thresholds.min_success_rate", c.Thresholds.MinSuccessRate},
		{"thresholds.capability_weight", c.Thresholds.CapabilityWeight},
		{"thresholds.pattern_weight", c.Thresholds.PatternWeight},
	}
	for _, w := range weights {
		if w.val < 0 || w.val > 1 {
			return fmt.Errorf("%s: %v is outside [0,1]", w.key, w.val)
		}
	}

	limits := []struct {
		key string
		val int
	}{
		{"limits.max_plan_attempts", c.Limits.MaxPlanAttempts},
		{"limits.max_task_retries", c.Limits.MaxTaskRetries},
		{"limits.max_intake_turns", c.Limits.MaxIntakeTurns},
		{"limits.workers", c.Limits.Workers},
		{"limits.plan_context_chars", c.Limits.PlanContextChars},
		{"limits.execute_context_chars", c.Limits.ExecuteContextChars},
	}
	for _, l := range limits {
		if l.val <= 0 {
			return fmt.Errorf("%s: must be positive, got %d", l.key, l.val)
		}
	}

	if c.Timeouts.Call <= 0 {
		return fmt.Errorf("timeouts.call: must be positive, got %s", c.Timeouts.Call)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries: must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry: invalid intervals %s..%s", c.Retry.InitialInterval, c.Retry.MaxInterval)
	}
	return nil
}
