package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jshapiro/conveyor/internal/graph"
)

var validateCmd = &cobra.Command{
	Use:   "validate <batch.yaml>",
	Short: "Check a batch file without running it",
	Long: `Validate a batch file and report dependency problems.

Missing dependencies and cycles are reported but are not fatal when
running: missing dependencies are treated as satisfied, and cyclic tasks
are forced into a final level.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := loadBatch(args[0])
		if err != nil {
			return err
		}

		report := graph.Validate(batch.Tasks)
		if report.OK() {
			color.Green("✓ %d tasks, dependencies resolve cleanly", len(batch.Tasks))
			return nil
		}

		for taskID, missing := range report.MissingDependencies {
			color.Yellow("⚠ task %s depends on unknown tasks %v", taskID, missing)
		}
		if report.HasCycle {
			color.Yellow("⚠ dependency cycle detected, cyclic tasks would run in a final level")
		}
		fmt.Printf("%d tasks checked\n", len(batch.Tasks))
		return nil
	},
}
