package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Backend: "gemini",
			Command: "claude",
		},
		Thresholds: ThresholdsConfig{
			ReuseScore:       0.5,
			MatchFloor:       0.4,
			MinSuccessRate:   0.6,
			CapabilityWeight: 0.6,
			PatternWeight:    0.4,
		},
		Limits: LimitsConfig{
			MaxPlanAttempts:     3,
			MaxTaskRetries:      2,
			MaxIntakeTurns:      5,
			Workers:             1,
			PlanContextChars:    5000,
			ExecuteContextChars: 10000,
		},
		Timeouts: TimeoutsConfig{
			Call: 2 * time.Minute,
		},
		Retry: RetryConfig{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			MaxRetries:      2,
		},
		Storage: StorageConfig{
			Path: ".taskforge/taskforge.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// setDefaults registers every key with viper so environment overrides are
// picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("llm.backend", d.LLM.Backend)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.command", d.LLM.Command)

	v.SetDefault("thresholds.reuse_score", d.Thresholds.ReuseScore)
	v.SetDefault("thresholds.match_floor", d.Thresholds.MatchFloor)
	v.SetDefault("thresholds.min_success_rate", d.Thresholds.MinSuccessRate)
	v.SetDefault("thresholds.capability_weight", d.Thresholds.CapabilityWeight)
	v.SetDefault("thresholds.pattern_weight", d.Thresholds.PatternWeight)

	v.SetDefault("limits.max_plan_attempts", d.Limits.MaxPlanAttempts)
	v.SetDefault("limits.max_task_retries", d.Limits.MaxTaskRetries)
	v.SetDefault("limits.max_intake_turns", d.Limits.MaxIntakeTurns)
	v.SetDefault("limits.workers", d.Limits.Workers)
	v.SetDefault("limits.plan_context_chars", d.Limits.PlanContextChars)
	v.SetDefault("limits.execute_context_chars", d.Limits.ExecuteContextChars)

	v.SetDefault("timeouts.call", d.Timeouts.Call.String())

	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval.String())
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval.String())
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)

	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}
