package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TASKFORGE_LIMITS_WORKERS for limits.workers.
const EnvPrefix = "TASKFORGE"

// providerKeyEnv maps a backend to the vendor variable read when no API key
// is configured through TASKFORGE_LLM_API_KEY or a config file.
var providerKeyEnv = map[string]string{
	"gemini":    "GEMINI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed JSON
// returns an error naming the file.
func Load(globalPath, projectPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("json")

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(v, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists
	if projectPath != "" {
		if err := mergeConfigFile(v, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	// Environment variable overrides (highest precedence)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		if name, ok := providerKeyEnv[cfg.LLM.Backend]; ok {
			cfg.LLM.APIKey = os.Getenv(name)
		}
	}
	return cfg, nil
}

// GlobalPath returns ~/.taskforge/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".taskforge", "config.json"), nil
}

// ProjectPath returns .taskforge/config.json relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".taskforge", "config.json")
}

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*Config, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath())
}

// mergeConfigFile merges a JSON config file into v.
// Missing files are silently skipped.
func mergeConfigFile(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
