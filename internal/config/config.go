// Package config handles configuration loading and management for Conveyor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Conveyor.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// SchedulerConfig holds scheduling settings.
type SchedulerConfig struct {
	// Workers is the fixed worker pool size shared across levels.
	Workers int `mapstructure:"workers"`
	// MaxContextSize bounds one assembled context in bytes.
	MaxContextSize int `mapstructure:"max_context_size"`
	// DefaultTimeout applies to tasks without their own timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// DefaultMaxAttempts applies to tasks without their own limit.
	DefaultMaxAttempts int `mapstructure:"default_max_attempts"`
	// DefaultMode is the strategy used when the caller picks none.
	DefaultMode string `mapstructure:"default_mode"`
}

// ArtifactsConfig holds artifact store settings.
type ArtifactsConfig struct {
	// Root is the store root directory. Empty selects the XDG default.
	Root string `mapstructure:"root"`
	// MaxAge is the age ceiling applied by cleanup. Zero disables it.
	MaxAge time.Duration `mapstructure:"max_age"`
	// MaxCount is the count ceiling applied by cleanup. Zero disables it.
	MaxCount int `mapstructure:"max_count"`
}

// AnthropicConfig holds settings for the default executor collaborator.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Empty falls back to the environment.
	APIKey string `mapstructure:"api_key"`
	// Model is the default model when an executor has no mapping.
	Model string `mapstructure:"model"`
	// Executors maps executor IDs to model names.
	Executors map[string]string `mapstructure:"executors"`
	// UseAWSBedrock routes calls through AWS Bedrock instead of direct API.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string `mapstructure:"aws_profile"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.conveyor.yaml in current directory or parent)
// 3. User config (~/.config/conveyor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("CONVEYOR")

	// Map specific environment variables
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// setDefaults registers built-in defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.workers", 10)
	v.SetDefault("scheduler.max_context_size", 8192)
	v.SetDefault("scheduler.default_timeout", 5*time.Minute)
	v.SetDefault("scheduler.default_max_attempts", 3)
	v.SetDefault("scheduler.default_mode", "adaptive")
	v.SetDefault("artifacts.root", "")
	v.SetDefault("artifacts.max_age", 0)
	v.SetDefault("artifacts.max_count", 0)
	v.SetDefault("anthropic.model", "")
}

// getUserConfigDir returns the XDG config directory for Conveyor.
func getUserConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "conveyor")
}

// findProjectConfig walks up from the working directory looking for a
// .conveyor.yaml file.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".conveyor.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a config value.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}
