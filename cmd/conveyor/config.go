package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jshapiro/conveyor/internal/artifact"
	"github.com/jshapiro/conveyor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show configuration",
	Long: `Show the effective configuration.

Without arguments, displays all configuration values.
With one argument (key), displays the value for that key.

Configuration is read from ~/.config/conveyor/config.yaml, overridden by
.conveyor.yaml in the current directory or a parent, then by environment
variables.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		if len(args) == 0 {
			displayAllConfig(cfg)
			return
		}

		value, err := getConfigValue(cfg, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(value)
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	// Mask API key if set
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	root := cfg.Artifacts.Root
	if root == "" {
		root = artifact.DefaultRoot()
	}

	fmt.Printf("scheduler.workers: %d\n", cfg.Scheduler.Workers)
	fmt.Printf("scheduler.max_context_size: %d\n", cfg.Scheduler.MaxContextSize)
	fmt.Printf("scheduler.default_timeout: %s\n", cfg.Scheduler.DefaultTimeout)
	fmt.Printf("scheduler.default_max_attempts: %d\n", cfg.Scheduler.DefaultMaxAttempts)
	fmt.Printf("scheduler.default_mode: %s\n", cfg.Scheduler.DefaultMode)
	fmt.Printf("artifacts.root: %s\n", root)
	fmt.Printf("artifacts.max_age: %s\n", cfg.Artifacts.MaxAge)
	fmt.Printf("artifacts.max_count: %d\n", cfg.Artifacts.MaxCount)
	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	for executor, model := range cfg.Anthropic.Executors {
		fmt.Printf("anthropic.executors.%s: %s\n", executor, model)
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "scheduler.workers":
		return strconv.Itoa(cfg.Scheduler.Workers), nil
	case "scheduler.max_context_size":
		return strconv.Itoa(cfg.Scheduler.MaxContextSize), nil
	case "scheduler.default_timeout":
		return cfg.Scheduler.DefaultTimeout.String(), nil
	case "scheduler.default_max_attempts":
		return strconv.Itoa(cfg.Scheduler.DefaultMaxAttempts), nil
	case "scheduler.default_mode":
		return cfg.Scheduler.DefaultMode, nil
	case "artifacts.root":
		if cfg.Artifacts.Root == "" {
			return artifact.DefaultRoot(), nil
		}
		return cfg.Artifacts.Root, nil
	case "artifacts.max_age":
		return cfg.Artifacts.MaxAge.String(), nil
	case "artifacts.max_count":
		return strconv.Itoa(cfg.Artifacts.MaxCount), nil
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_aws_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseAWSBedrock), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}
