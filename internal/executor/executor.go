// Package executor runs ready tasks on a bounded worker pool.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jshapiro/conveyor/pkg/models"
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 10

// Invoker is the executor-invocation collaborator. Given an executor ID,
// a payload, and an assembled context, it returns a result or signals
// failure. The call is opaque, synchronous, and retryable; it cannot be
// safely pre-empted mid-execution.
type Invoker interface {
	Invoke(ctx context.Context, executorID, payload, assembledContext string) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, executorID, payload, assembledContext string) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, executorID, payload, assembledContext string) (string, error) {
	return f(ctx, executorID, payload, assembledContext)
}

// Outcome is the per-task result of a batch execution.
type Outcome struct {
	// TaskID is the ID of the task.
	TaskID string
	// Status is the task's terminal state.
	Status models.TaskStatus
	// Result contains the executor output on success.
	Result string
	// Err contains the last error on failure or cancellation.
	Err error
	// Attempts is the number of executor calls made.
	Attempts int
	// Elapsed is the task's own wall-clock time.
	Elapsed time.Duration
}

// Executor dispatches level tasks to a fixed-size worker pool.
type Executor struct {
	invoker Invoker
	workers int
	// notify is an optional callback fired on task status changes.
	notify func(taskID string, status models.TaskStatus)
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates an executor over the given invoker. A workers value of zero
// or less selects DefaultWorkers.
func New(invoker Invoker, workers int) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Executor{
		invoker:  invoker,
		workers:  workers,
		notify:   func(string, models.TaskStatus) {},
		debugLog: func(format string, args ...interface{}) {},
	}
}

// Workers returns the pool size.
func (e *Executor) Workers() int {
	return e.workers
}

// SetNotify sets a callback fired on every task status change.
func (e *Executor) SetNotify(fn func(taskID string, status models.TaskStatus)) {
	if fn != nil {
		e.notify = fn
	}
}

// SetDebugLog sets the debug logging function.
func (e *Executor) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		e.debugLog = fn
	}
}

// ExecuteBatch submits every task in a level to the worker pool and waits
// for all of them to reach a terminal state. One task's failure never
// aborts its siblings. Outcomes are returned in submission order.
func (e *Executor) ExecuteBatch(ctx context.Context, tasks []*models.Task, contexts map[string]string) []Outcome {
	if len(tasks) == 0 {
		return nil
	}

	// Dispatch higher-priority tasks first. Stable so equal priorities keep
	// their batch order.
	ordered := make([]*models.Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	e.debugLog("[executor] dispatching %d tasks on %d workers", len(ordered), e.workers)

	sem := make(chan struct{}, e.workers)
	outcomes := make(map[string]Outcome, len(ordered))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, task := range ordered {
		wg.Add(1)
		go func(task *models.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := e.runTask(ctx, task, contexts[task.ID])
			mu.Lock()
			outcomes[task.ID] = outcome
			mu.Unlock()
		}(task)
	}
	wg.Wait()

	// Report in the caller's order.
	out := make([]Outcome, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, outcomes[task.ID])
	}
	return out
}

// runTask drives one task through its state machine until terminal.
// Cancellation is cooperative: the flag is checked between attempts, never
// mid-call.
func (e *Executor) runTask(ctx context.Context, task *models.Task, assembledContext string) Outcome {
	start := time.Now()
	maxAttempts := task.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			// Batch aborted while the task was still pending.
			task.Status = models.TaskStatusCancelled
			e.notify(task.ID, task.Status)
			lastErr = err
			break
		}

		task.Attempt++
		task.Status = models.TaskStatusRunning
		if task.StartedAt == nil {
			now := time.Now()
			task.StartedAt = &now
		}
		e.notify(task.ID, task.Status)
		e.debugLog("[executor] task %s attempt %d/%d (executor=%s)", task.ID, task.Attempt, maxAttempts, task.ExecutorID)

		callCtx := ctx
		var cancel context.CancelFunc
		if task.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		}
		result, err := e.invoker.Invoke(callCtx, task.ExecutorID, task.Payload, assembledContext)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			task.Status = models.TaskStatusCompleted
			task.Result = result
			e.notify(task.ID, task.Status)
			break
		}

		lastErr = err
		e.debugLog("[executor] task %s attempt %d failed: %v", task.ID, task.Attempt, err)

		if task.Attempt >= maxAttempts {
			task.Status = models.TaskStatusFailed
			task.Error = err.Error()
			e.notify(task.ID, task.Status)
			break
		}

		// Non-fatal failure: back to pending for redispatch.
		task.Status = models.TaskStatusPending
		e.notify(task.ID, task.Status)
	}

	now := time.Now()
	task.FinishedAt = &now

	outcome := Outcome{
		TaskID:   task.ID,
		Status:   task.Status,
		Result:   task.Result,
		Attempts: task.Attempt,
		Elapsed:  time.Since(start),
	}
	if task.Status != models.TaskStatusCompleted {
		outcome.Err = lastErr
	}
	return outcome
}
