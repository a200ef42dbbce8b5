package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jshapiro/conveyor/internal/artifact"
	"github.com/jshapiro/conveyor/internal/assemble"
	"github.com/jshapiro/conveyor/internal/executor"
	"github.com/jshapiro/conveyor/internal/graph"
	"github.com/jshapiro/conveyor/pkg/models"
)

// adaptiveParallelMin is the smallest dependency-free batch that runs as a
// single parallel level under adaptive mode.
const adaptiveParallelMin = 3

// adaptiveHybridMin is the smallest dependency-bearing batch that runs
// hybrid rather than sequential under adaptive mode.
const adaptiveHybridMin = 6

// ErrNoInvoker indicates a scheduler was built without an executor
// collaborator. This is a precondition violation and fatal to the call.
var ErrNoInvoker = errors.New("no executor invoker configured")

// Config contains tunables for one Scheduler.
type Config struct {
	// Workers is the fixed worker pool size shared across all levels of a
	// call. Zero selects the executor default.
	Workers int
	// MaxContextSize bounds one assembled context in bytes.
	MaxContextSize int
	// DefaultTimeout applies to tasks that carry none.
	DefaultTimeout time.Duration
	// DefaultMaxAttempts applies to tasks that carry none.
	DefaultMaxAttempts int
	// DebugLogger receives scheduler debug output. Nil disables it.
	DebugLogger *DebugLogger
}

// Scheduler coordinates dependency resolution, context assembly, bounded
// execution, and result persistence for one batch at a time.
type Scheduler struct {
	store   *artifact.Store
	invoker executor.Invoker
	cfg     Config
	emitter *EventEmitter
}

// New creates a Scheduler. The invoker is a hard precondition: without it
// the scheduler cannot run anything.
func New(store *artifact.Store, invoker executor.Invoker, cfg Config) (*Scheduler, error) {
	if invoker == nil {
		return nil, ErrNoInvoker
	}
	if cfg.MaxContextSize <= 0 {
		cfg.MaxContextSize = 8192
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 1
	}
	if cfg.DebugLogger != nil {
		setPackageLogger(cfg.DebugLogger)
	}
	return &Scheduler{
		store:   store,
		invoker: invoker,
		cfg:     cfg,
		emitter: NewEventEmitter(256),
	}, nil
}

// Events returns the scheduler's progress event stream.
func (s *Scheduler) Events() <-chan Event {
	return s.emitter.Events()
}

// CloseEvents closes the event stream. Call after the last Run.
func (s *Scheduler) CloseEvents() {
	s.emitter.Close()
}

// Run executes a batch under the given mode and returns its report.
// Task failures are contained and reported; only infrastructure failures
// (artifact persistence) surface as an error.
func (s *Scheduler) Run(ctx context.Context, tasks []*models.Task, mode models.Mode) (*models.WorkflowOptimizationResult, error) {
	runID := uuid.New().String()[:8]
	start := time.Now()

	s.prepare(tasks)

	g := graph.New()
	g.SetDebugLog(debugLog)
	g.Build(tasks)

	resolved := resolveMode(tasks, mode)
	debugLog("[scheduler] run %s: %d tasks, mode %s (requested %s)", runID, len(tasks), resolved, mode)

	var plan *graph.LevelPlan
	if resolved == models.ModeParallel {
		// Pure parallel: the whole batch is one level.
		level := make([]string, 0, len(tasks))
		for _, task := range tasks {
			level = append(level, task.ID)
		}
		plan = &graph.LevelPlan{Levels: [][]string{level}}
	} else {
		plan = g.Levels()
	}

	// Tasks beyond the first level wait on their dependencies.
	for i, level := range plan.Levels {
		if i == 0 {
			continue
		}
		for _, id := range level {
			if task := g.GetTask(id); task != nil {
				task.Status = models.TaskStatusWaiting
			}
		}
	}

	assembler := assemble.New(s.store)
	assembler.SetDebugLog(debugLog)

	workers := s.cfg.Workers
	if resolved == models.ModeSequential {
		workers = 1
	}
	exec := executor.New(s.invoker, workers)
	exec.SetDebugLog(debugLog)
	exec.SetNotify(func(taskID string, status models.TaskStatus) {
		s.emitter.Emit(Event{Type: EventTaskStatus, RunID: runID, TaskID: taskID, Status: status})
	})

	s.emitter.Emit(Event{Type: EventRunStarted, RunID: runID, LevelSize: len(tasks)})

	result := &models.WorkflowOptimizationResult{
		RunID:      runID,
		Mode:       resolved,
		TotalTasks: len(tasks),
		HadCycle:   plan.HadCycle,
	}

	var sequentialTime time.Duration

	for i, level := range plan.Levels {
		levelTasks := make([]*models.Task, 0, len(level))
		contexts := make(map[string]string, len(level))
		for _, id := range level {
			task := g.GetTask(id)
			if task == nil {
				continue
			}
			task.Status = models.TaskStatusPending
			if assembled, ok := assembler.Assemble(task, s.cfg.MaxContextSize); ok {
				contexts[task.ID] = assembled
			}
			levelTasks = append(levelTasks, task)
		}

		s.emitter.Emit(Event{Type: EventLevelStarted, RunID: runID, Level: i, LevelSize: len(levelTasks)})
		debugLog("[scheduler] run %s: level %d with %d tasks", runID, i, len(levelTasks))

		// Blocks until every task in the level reaches a terminal state.
		outcomes := exec.ExecuteBatch(ctx, levelTasks, contexts)

		for _, outcome := range outcomes {
			switch outcome.Status {
			case models.TaskStatusCompleted:
				result.CompletedTasks++
				sequentialTime += outcome.Elapsed
				if err := s.persist(runID, g.GetTask(outcome.TaskID), outcome.Result); err != nil {
					return nil, err
				}
				result.CacheStats.ArtifactsStored++
			case models.TaskStatusFailed:
				result.FailedTasks++
			case models.TaskStatusCancelled:
				result.CancelledTasks++
			}
		}
	}

	result.TotalDuration = time.Since(start)
	result.ParallelEfficiency = parallelEfficiency(sequentialTime, result.TotalDuration)
	result.CacheStats.ContextHits, result.CacheStats.ContextMisses = assembler.Stats()
	result.Suggestions = buildSuggestions(result)

	s.emitter.Emit(Event{Type: EventRunFinished, RunID: runID})
	debugLog("[scheduler] run %s: %d completed, %d failed, efficiency %.2f",
		runID, result.CompletedTasks, result.FailedTasks, result.ParallelEfficiency)

	return result, nil
}

// Validate reports dependency problems in a batch without running it.
func (s *Scheduler) Validate(tasks []*models.Task) *graph.ValidationReport {
	return graph.Validate(tasks)
}

// prepare applies defaults and resets per-run task state.
func (s *Scheduler) prepare(tasks []*models.Task) {
	now := time.Now()
	for _, task := range tasks {
		task.Status = models.TaskStatusPending
		task.Attempt = 0
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		if task.MaxAttempts <= 0 {
			task.MaxAttempts = s.cfg.DefaultMaxAttempts
		}
		if task.Timeout <= 0 {
			task.Timeout = s.cfg.DefaultTimeout
		}
	}
}

// persist stores a completed task's result as an artifact. A failed write
// must never silently appear to succeed, so errors propagate.
func (s *Scheduler) persist(runID string, task *models.Task, result string) error {
	if task == nil {
		return nil
	}
	tags := []string{"run:" + runID, "task:" + task.ID}
	id, err := s.store.Store(task.ExecutorID, task.Description, result, tags, 0)
	if err != nil {
		return fmt.Errorf("persist result for task %s: %w", task.ID, err)
	}
	debugLog("[scheduler] run %s: task %s result stored as artifact %s", runID, task.ID, id)
	return nil
}

// resolveMode maps adaptive to a concrete strategy from batch shape.
func resolveMode(tasks []*models.Task, mode models.Mode) models.Mode {
	if mode != models.ModeAdaptive && mode.Valid() {
		return mode
	}

	hasDeps := false
	for _, task := range tasks {
		if len(task.Dependencies) > 0 {
			hasDeps = true
			break
		}
	}

	switch {
	case hasDeps && len(tasks) >= adaptiveHybridMin:
		return models.ModeHybrid
	case hasDeps:
		return models.ModeSequential
	case len(tasks) >= adaptiveParallelMin:
		return models.ModeParallel
	default:
		return models.ModeSequential
	}
}

// parallelEfficiency is theoretical sequential time over actual elapsed
// time, capped at 1.0. With nothing completed there is nothing to measure,
// so the ratio degenerates to 1.0 to stay within (0, 1].
func parallelEfficiency(sequential, elapsed time.Duration) float64 {
	if sequential <= 0 || elapsed <= 0 {
		return 1.0
	}
	eff := float64(sequential) / float64(elapsed)
	if eff > 1.0 {
		return 1.0
	}
	return eff
}

// buildSuggestions emits threshold-based optimization hints.
func buildSuggestions(result *models.WorkflowOptimizationResult) []string {
	var suggestions []string

	if result.SuccessRate() < 0.8 {
		suggestions = append(suggestions,
			"success rate below 80%: inspect task and dependency definitions")
	}
	if result.ParallelEfficiency < 0.5 && result.Mode != models.ModeSequential {
		suggestions = append(suggestions,
			"parallel efficiency below 50%: reduce inter-task dependencies or raise the worker budget")
	}
	if result.HadCycle {
		suggestions = append(suggestions,
			"dependency cycle forced into a final level: review depends_on entries")
	}
	if result.CancelledTasks > 0 {
		suggestions = append(suggestions,
			fmt.Sprintf("%d tasks cancelled before starting: the batch was aborted early", result.CancelledTasks))
	}

	return suggestions
}
