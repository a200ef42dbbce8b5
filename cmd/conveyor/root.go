package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "conveyor",
	Short: "Task scheduler with artifact caching",
	Long: `Conveyor schedules batches of executor tasks, resolves their
dependencies into parallel levels, and caches every completed result as a
summarized artifact that later tasks can pull into their context.

Core capabilities:
- Resolves task dependencies into levels (cycles are flagged, not fatal)
- Runs each level on a bounded worker pool with retries and timeouts
- Persists completed results as compressed, summarized artifacts
- Assembles size-bounded context for tasks from prior artifacts
- Reports parallel efficiency and optimization suggestions per run`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
