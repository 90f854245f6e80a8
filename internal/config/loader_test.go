package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		global  string
		project string
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "No config files - returns defaults",
			check: func(t *testing.T, cfg *Config) {
				if cfg.LLM.Backend != "gemini" {
					t.Errorf("backend = %q, want gemini", cfg.LLM.Backend)
				}
				if cfg.Thresholds.ReuseScore != 0.5 {
					t.Errorf("reuse score = %v, want 0.5", cfg.Thresholds.ReuseScore)
				}
				if cfg.Limits.MaxPlanAttempts != 3 || cfg.Limits.MaxTaskRetries != 2 || cfg.Limits.MaxIntakeTurns != 5 {
					t.Errorf("limits = %+v", cfg.Limits)
				}
				if cfg.Limits.PlanContextChars != 5000 || cfg.Limits.ExecuteContextChars != 10000 {
					t.Errorf("context limits = %+v", cfg.Limits)
				}
				if cfg.Timeouts.Call != 2*time.Minute {
					t.Errorf("call timeout = %s, want 2m", cfg.Timeouts.Call)
				}
			},
		},
		{
			name:   "Global only - overrides one key",
			global: `{"limits": {"workers": 3}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Limits.Workers != 3 {
					t.Errorf("workers = %d, want 3", cfg.Limits.Workers)
				}
				// Sibling keys keep their defaults
				if cfg.Limits.MaxPlanAttempts != 3 {
					t.Errorf("max plan attempts = %d, want 3", cfg.Limits.MaxPlanAttempts)
				}
			},
		},
		{
			name:    "Project overrides global - project wins",
			global:  `{"llm": {"backend": "anthropic", "model": "model-x"}, "log": {"level": "debug"}}`,
			project: `{"llm": {"model": "model-y"}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.LLM.Backend != "anthropic" {
					t.Errorf("backend = %q, want anthropic", cfg.LLM.Backend)
				}
				if cfg.LLM.Model != "model-y" {
					t.Errorf("model = %q, want model-y", cfg.LLM.Model)
				}
				if cfg.Log.Level != "debug" {
					t.Errorf("log level = %q, want debug", cfg.Log.Level)
				}
			},
		},
		{
			name:    "Durations parsed from strings",
			project: `{"timeouts": {"call": "30s"}, "retry": {"initial_interval": "1s", "max_interval": "5s"}}`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Timeouts.Call != 30*time.Second {
					t.Errorf("call timeout = %s, want 30s", cfg.Timeouts.Call)
				}
				if cfg.Retry.InitialInterval != time.Second || cfg.Retry.MaxInterval != 5*time.Second {
					t.Errorf("retry = %+v", cfg.Retry)
				}
			},
		},
		{
			name:    "Environment overrides files",
			project: `{"limits": {"workers": 2}, "thresholds": {"reuse_score": 0.7}}`,
			env: map[string]string{
				"TASKFORGE_LIMITS_WORKERS":         "6",
				"TASKFORGE_THRESHOLDS_REUSE_SCORE": "0.9",
				"TASKFORGE_STORAGE_PATH":           "/tmp/tf.db",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Limits.Workers != 6 {
					t.Errorf("workers = %d, want 6", cfg.Limits.Workers)
				}
				if cfg.Thresholds.ReuseScore != 0.9 {
					t.Errorf("reuse score = %v, want 0.9", cfg.Thresholds.ReuseScore)
				}
				if cfg.Storage.Path != "/tmp/tf.db" {
					t.Errorf("storage path = %q", cfg.Storage.Path)
				}
			},
		},
		{
			name: "Provider API key variable",
			env:  map[string]string{"GEMINI_API_KEY": "g-key", "ANTHROPIC_API_KEY": "", "TASKFORGE_LLM_API_KEY": ""},
			check: func(t *testing.T, cfg *Config) {
				if cfg.LLM.APIKey != "g-key" {
					t.Errorf("api key = %q, want g-key", cfg.LLM.APIKey)
				}
			},
		},
		{
			name:    "Provider key follows the backend",
			project: `{"llm": {"backend": "anthropic"}}`,
			env:     map[string]string{"GEMINI_API_KEY": "g-key", "ANTHROPIC_API_KEY": "a-key", "TASKFORGE_LLM_API_KEY": ""},
			check: func(t *testing.T, cfg *Config) {
				if cfg.LLM.APIKey != "a-key" {
					t.Errorf("api key = %q, want a-key", cfg.LLM.APIKey)
				}
			},
		},
		{
			name:    "Configured key beats vendor variable",
			project: `{"llm": {"backend": "gemini", "api_key": "file-key"}}`,
			env:     map[string]string{"GEMINI_API_KEY": "g-key", "TASKFORGE_LLM_API_KEY": ""},
			check: func(t *testing.T, cfg *Config) {
				if cfg.LLM.APIKey != "file-key" {
					t.Errorf("api key = %q, want file-key", cfg.LLM.APIKey)
				}
			},
		},
		{
			name:    "CLI backend reads no vendor key",
			project: `{"llm": {"backend": "claude-cli"}}`,
			env:     map[string]string{"GEMINI_API_KEY": "g-key", "ANTHROPIC_API_KEY": "a-key", "TASKFORGE_LLM_API_KEY": ""},
			check: func(t *testing.T, cfg *Config) {
				if cfg.LLM.APIKey != "" {
					t.Errorf("api key = %q, want empty", cfg.LLM.APIKey)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			for key, val := range tt.env {
				t.Setenv(key, val)
			}

			globalPath := filepath.Join(tmpDir, "global.json")
			if tt.global != "" {
				writeFile(t, globalPath, tt.global)
			}
			projectPath := filepath.Join(tmpDir, "project", "config.json")
			if tt.project != "" {
				writeFile(t, projectPath, tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global.json")
	writeFile(t, globalPath, "{invalid json")

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}

	// Error should mention the file
	if !strings.Contains(err.Error(), globalPath) {
		t.Errorf("expected error to name %s, got: %v", globalPath, err)
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.LLM.Backend = "openai" }, "llm.backend"},
		{"weight above one", func(c *Config) { c.Thresholds.PatternWeight = 1.5 }, "thresholds.pattern_weight"},
		{"negative score", func(c *Config) { c.Thresholds.ReuseScore = -0.1 }, "thresholds.reuse_score"},
		{"zero workers", func(c *Config) { c.Limits.Workers = 0 }, "limits.workers"},
		{"zero plan attempts", func(c *Config) { c.Limits.MaxPlanAttempts = 0 }, "limits.max_plan_attempts"},
		{"zero timeout", func(c *Config) { c.Timeouts.Call = 0 }, "timeouts.call"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"inverted intervals", func(c *Config) { c.Retry.MaxInterval = time.Millisecond }, "retry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
