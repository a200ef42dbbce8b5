package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jshapiro/conveyor/internal/api"
	"github.com/jshapiro/conveyor/internal/artifact"
	"github.com/jshapiro/conveyor/internal/config"
	"github.com/jshapiro/conveyor/internal/scheduler"
	"github.com/jshapiro/conveyor/internal/tui"
	"github.com/jshapiro/conveyor/pkg/models"
)

// timeRounding keeps durations in the report readable.
const timeRounding = time.Millisecond

var (
	runMode    string
	runWorkers int
	runTUI     bool
	runDebug   bool
)

var runCmd = &cobra.Command{
	Use:   "run <batch.yaml>",
	Short: "Run a batch of tasks",
	Long: `Run a batch of tasks described by a YAML file.

Dependencies between tasks are resolved into levels; independent tasks
within a level run in parallel on a bounded worker pool. Completed results
are stored as artifacts, and tasks listing required_context get a
size-bounded context assembled from prior artifacts.

Execution modes (--mode):
  - adaptive:   pick a strategy from batch shape (default)
  - parallel:   run the whole batch as one level
  - sequential: run tasks one at a time in dependency order
  - hybrid:     run level by level, parallel within each level

Example batch file:
  tasks:
    - id: analyze
      executor: reviewer
      payload: "Review the attached diff"
    - id: summarize
      executor: writer
      payload: "Summarize the review"
      depends_on: [analyze]

Examples:
  conveyor run batch.yaml
  conveyor run batch.yaml --mode hybrid --workers 4
  conveyor run batch.yaml --tui`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "Execution mode: adaptive, parallel, sequential, or hybrid")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Worker pool size (0 uses the configured default)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live progress in a TUI")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Write a debug log under the artifact root")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	batch, err := loadBatch(args[0])
	if err != nil {
		return err
	}

	mode := resolveRequestedMode(batch, cfg)
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", mode)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	invoker, err := api.NewClient(api.ClientConfig{
		APIKey:        cfg.Anthropic.APIKey,
		Model:         cfg.Anthropic.Model,
		Executors:     cfg.Anthropic.Executors,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return err
	}

	schedCfg := scheduler.Config{
		Workers:            cfg.Scheduler.Workers,
		MaxContextSize:     cfg.Scheduler.MaxContextSize,
		DefaultTimeout:     cfg.Scheduler.DefaultTimeout,
		DefaultMaxAttempts: cfg.Scheduler.DefaultMaxAttempts,
	}
	if runWorkers > 0 {
		schedCfg.Workers = runWorkers
	}
	if runDebug {
		schedCfg.DebugLogger = scheduler.NewDebugLoggerForRoot(store.Root())
	}

	sched, err := scheduler.New(store, invoker, schedCfg)
	if err != nil {
		return err
	}

	// Surface dependency problems before running. Neither is fatal:
	// unknown dependencies are treated as satisfied, cycles are forced.
	report := sched.Validate(batch.Tasks)
	if !report.OK() {
		warn := color.New(color.FgYellow)
		for taskID, missing := range report.MissingDependencies {
			warn.Fprintf(os.Stderr, "warning: task %s depends on unknown tasks %v\n", taskID, missing)
		}
		if report.HasCycle {
			warn.Fprintln(os.Stderr, "warning: dependency cycle detected, cyclic tasks will run in a final level")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result *models.WorkflowOptimizationResult
	if runTUI {
		result, err = runWithTUI(ctx, sched, batch.Tasks, mode)
	} else {
		result, err = runWithPrinter(ctx, sched, batch.Tasks, mode)
	}
	if err != nil {
		return err
	}

	printReport(result)

	if result.FailedTasks > 0 {
		os.Exit(1)
	}
	return nil
}

// resolveRequestedMode picks the mode from flag, batch file, then config.
func resolveRequestedMode(batch *batchFile, cfg *config.Config) models.Mode {
	if runMode != "" {
		return models.Mode(runMode)
	}
	if batch.Mode != "" {
		return models.Mode(batch.Mode)
	}
	if cfg.Scheduler.DefaultMode != "" {
		return models.Mode(cfg.Scheduler.DefaultMode)
	}
	return models.ModeAdaptive
}

// openStore opens the artifact store at the configured root.
func openStore(cfg *config.Config) (*artifact.Store, error) {
	root := cfg.Artifacts.Root
	if root == "" {
		root = artifact.DefaultRoot()
	}
	store, err := artifact.Open(root)
	if err != nil {
		return nil, fmt.Errorf("open artifact store at %s: %w", root, err)
	}
	return store, nil
}

// runWithPrinter runs the batch while printing progress events to stdout.
func runWithPrinter(ctx context.Context, sched *scheduler.Scheduler, tasks []*models.Task, mode models.Mode) (*models.WorkflowOptimizationResult, error) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		printEvents(sched.Events())
	}()

	result, err := sched.Run(ctx, tasks, mode)
	sched.CloseEvents()
	wg.Wait()
	return result, err
}

// runWithTUI runs the batch behind a live progress view.
func runWithTUI(ctx context.Context, sched *scheduler.Scheduler, tasks []*models.Task, mode models.Mode) (*models.WorkflowOptimizationResult, error) {
	program := tea.NewProgram(tui.NewProgressModel(sched.Events()))

	var (
		result *models.WorkflowOptimizationResult
		runErr error
		wg     sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, runErr = sched.Run(ctx, tasks, mode)
		sched.CloseEvents()
	}()

	if _, err := program.Run(); err != nil {
		return nil, fmt.Errorf("progress view: %w", err)
	}
	wg.Wait()
	return result, runErr
}

// printEvents renders scheduler events as log lines.
func printEvents(events <-chan scheduler.Event) {
	completed := color.New(color.FgGreen)
	failed := color.New(color.FgRed)
	dim := color.New(color.Faint)

	for event := range events {
		switch event.Type {
		case scheduler.EventRunStarted:
			fmt.Printf("run %s started with %d tasks\n", event.RunID, event.LevelSize)
		case scheduler.EventLevelStarted:
			dim.Printf("level %d: %d tasks\n", event.Level, event.LevelSize)
		case scheduler.EventTaskStatus:
			switch event.Status {
			case models.TaskStatusRunning:
				fmt.Printf("  %s running\n", event.TaskID)
			case models.TaskStatusCompleted:
				completed.Printf("  %s completed\n", event.TaskID)
			case models.TaskStatusFailed:
				failed.Printf("  %s failed\n", event.TaskID)
			case models.TaskStatusCancelled:
				dim.Printf("  %s cancelled\n", event.TaskID)
			}
		case scheduler.EventRunFinished:
			fmt.Printf("run %s finished\n", event.RunID)
		}
	}
}

// printReport prints the run report.
func printReport(result *models.WorkflowOptimizationResult) {
	fmt.Println()
	fmt.Printf("Run %s (%s mode)\n", result.RunID, result.Mode)
	fmt.Printf("  Tasks:      %d completed, %d failed", result.CompletedTasks, result.FailedTasks)
	if result.CancelledTasks > 0 {
		fmt.Printf(", %d cancelled", result.CancelledTasks)
	}
	fmt.Printf(" (of %d)\n", result.TotalTasks)
	fmt.Printf("  Duration:   %s\n", result.TotalDuration.Round(timeRounding))
	fmt.Printf("  Efficiency: %.0f%%\n", result.ParallelEfficiency*100)
	fmt.Printf("  Context:    %d cache hits, %d misses, %d artifacts stored\n",
		result.CacheStats.ContextHits, result.CacheStats.ContextMisses, result.CacheStats.ArtifactsStored)
	if result.HadCycle {
		color.Yellow("  Cycle:      dependency cycle was forced into a final level")
	}
	for _, suggestion := range result.Suggestions {
		color.Yellow("  Hint:       %s", suggestion)
	}
}
