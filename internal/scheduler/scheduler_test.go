package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jshapiro/conveyor/internal/artifact"
	"github.com/jshapiro/conveyor/internal/executor"
	"github.com/jshapiro/conveyor/pkg/models"
)

// recordingInvoker records invocation order and simulates work.
type recordingInvoker struct {
	mu    sync.Mutex
	order []string
	fail  map[string]bool
	delay time.Duration
}

func (r *recordingInvoker) Invoke(ctx context.Context, executorID, payload, _ string) (string, error) {
	r.mu.Lock()
	r.order = append(r.order, payload)
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail[payload] {
		return "", errors.New("executor rejected " + payload)
	}
	return "result for " + payload, nil
}

func (r *recordingInvoker) indexOf(payload string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.order {
		if p == payload {
			return i
		}
	}
	return -1
}

func newTestScheduler(t *testing.T, invoker executor.Invoker, cfg Config) *Scheduler {
	t.Helper()
	store, err := artifact.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s, err := New(store, invoker, cfg)
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	return s
}

func TestNewRequiresInvoker(t *testing.T) {
	store, err := artifact.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if _, err := New(store, nil, Config{}); !errors.Is(err, ErrNoInvoker) {
		t.Errorf("expected ErrNoInvoker, got %v", err)
	}
}

// Scenario 1: 3 independent tasks, pool size 10: one parallel level,
// all 3 completed.
func TestRunIndependentTasks(t *testing.T) {
	invoker := &recordingInvoker{}
	s := newTestScheduler(t, invoker, Config{Workers: 10})

	tasks := []*models.Task{
		{ID: "t1", ExecutorID: "w", Payload: "one"},
		{ID: "t2", ExecutorID: "w", Payload: "two"},
		{ID: "t3", ExecutorID: "w", Payload: "three"},
	}

	result, err := s.Run(context.Background(), tasks, models.ModeAdaptive)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Mode != models.ModeParallel {
		t.Errorf("expected adaptive to pick parallel, got %s", result.Mode)
	}
	if result.CompletedTasks != 3 {
		t.Errorf("expected 3 completed, got %d", result.CompletedTasks)
	}
	if result.FailedTasks != 0 {
		t.Errorf("expected 0 failed, got %d", result.FailedTasks)
	}
}

// Scenario 2: B depends on A: B starts only after A is terminal.
func TestRunRespectsDependencies(t *testing.T) {
	invoker := &recordingInvoker{delay: 5 * time.Millisecond}
	s := newTestScheduler(t, invoker, Config{Workers: 4})

	tasks := []*models.Task{
		{ID: "b", ExecutorID: "w", Payload: "b", Dependencies: []string{"a"}},
		{ID: "a", ExecutorID: "w", Payload: "a"},
	}

	result, err := s.Run(context.Background(), tasks, models.ModeHybrid)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.CompletedTasks != 2 {
		t.Fatalf("expected 2 completed, got %d", result.CompletedTasks)
	}
	if invoker.indexOf("a") > invoker.indexOf("b") {
		t.Error("expected a to be invoked before its dependent b")
	}
}

// Scenario 3: cycle a<->b plus independent c: c runs at its normal level,
// the cycle is forced into a final level, and the report flags it.
func TestRunCycleForcedAndFlagged(t *testing.T) {
	invoker := &recordingInvoker{}
	s := newTestScheduler(t, invoker, Config{Workers: 4})

	tasks := []*models.Task{
		{ID: "a", ExecutorID: "w", Payload: "a", Dependencies: []string{"b"}},
		{ID: "b", ExecutorID: "w", Payload: "b", Dependencies: []string{"a"}},
		{ID: "c", ExecutorID: "w", Payload: "c"},
	}

	result, err := s.Run(context.Background(), tasks, models.ModeHybrid)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.HadCycle {
		t.Error("expected cycle flag in report")
	}
	if result.CompletedTasks != 3 {
		t.Errorf("expected all 3 tasks forced to completion, got %d", result.CompletedTasks)
	}
	if invoker.indexOf("c") != 0 {
		t.Errorf("expected independent task c invoked first, got order %v", invoker.order)
	}
}

// Scenario 5: max_attempts = 2 with an always-failing executor: exactly two
// attempts, then Failed with the error set.
func TestRunRetryBound(t *testing.T) {
	invoker := &recordingInvoker{fail: map[string]bool{"doomed": true}}
	s := newTestScheduler(t, invoker, Config{Workers: 2})

	task := &models.Task{ID: "t1", ExecutorID: "w", Payload: "doomed", MaxAttempts: 2}
	result, err := s.Run(context.Background(), []*models.Task{task}, models.ModeSequential)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.FailedTasks != 1 {
		t.Errorf("expected 1 failed task, got %d", result.FailedTasks)
	}
	if task.Attempt != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", task.Attempt)
	}
	if task.Status != models.TaskStatusFailed {
		t.Errorf("expected failed status, got %s", task.Status)
	}
	if task.Error == "" {
		t.Error("expected task error to be set")
	}
	if len(invoker.order) != 2 {
		t.Errorf("expected 2 executor calls, got %d", len(invoker.order))
	}
}

// A dependency's failure does not block dependents from being attempted.
func TestRunFailedDependencyDoesNotBlockDependent(t *testing.T) {
	invoker := &recordingInvoker{fail: map[string]bool{"a": true}}
	s := newTestScheduler(t, invoker, Config{Workers: 2})

	tasks := []*models.Task{
		{ID: "a", ExecutorID: "w", Payload: "a"},
		{ID: "b", ExecutorID: "w", Payload: "b", Dependencies: []string{"a"}},
	}

	result, err := s.Run(context.Background(), tasks, models.ModeHybrid)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.FailedTasks != 1 || result.CompletedTasks != 1 {
		t.Errorf("expected 1 failed and 1 completed, got %d and %d",
			result.FailedTasks, result.CompletedTasks)
	}
}

// Efficiency bound: parallel_efficiency always lies in (0, 1].
func TestRunEfficiencyBound(t *testing.T) {
	invoker := &recordingInvoker{delay: 2 * time.Millisecond}
	s := newTestScheduler(t, invoker, Config{Workers: 4})

	var tasks []*models.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, &models.Task{
			ID:         fmt.Sprintf("t%d", i),
			ExecutorID: "w",
			Payload:    fmt.Sprintf("p%d", i),
		})
	}

	result, err := s.Run(context.Background(), tasks, models.ModeParallel)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.ParallelEfficiency <= 0 || result.ParallelEfficiency > 1 {
		t.Errorf("efficiency %f outside (0, 1]", result.ParallelEfficiency)
	}
}

// Completed results are persisted as artifacts tagged with the run.
func TestRunPersistsResults(t *testing.T) {
	invoker := &recordingInvoker{}
	store, err := artifact.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	s, err := New(store, invoker, Config{Workers: 2})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	tasks := []*models.Task{
		{ID: "t1", ExecutorID: "w1", Description: "first", Payload: "one"},
		{ID: "t2", ExecutorID: "w1", Description: "second", Payload: "two"},
	}

	result, err := s.Run(context.Background(), tasks, models.ModeParallel)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	ids, err := store.Find(artifact.FindQuery{Tags: []string{"run:" + result.RunID}})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 persisted artifacts, got %d", len(ids))
	}
	if result.CacheStats.ArtifactsStored != 2 {
		t.Errorf("expected 2 artifacts in stats, got %d", result.CacheStats.ArtifactsStored)
	}

	content, err := store.Load(ids[0])
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, ok := content.(string); !ok {
		t.Errorf("expected string result content, got %T", content)
	}
}

// A failed artifact write must never silently appear to succeed: the
// persistence error surfaces from Run even though the task itself ran.
func TestRunSurfacesPersistFailure(t *testing.T) {
	invoker := &recordingInvoker{}
	store, err := artifact.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	s, err := New(store, invoker, Config{Workers: 2})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	// Break the store out from under the scheduler.
	store.Close()

	task := &models.Task{ID: "t1", ExecutorID: "w", Payload: "one"}
	result, err := s.Run(context.Background(), []*models.Task{task}, models.ModeSequential)
	if err == nil {
		t.Fatalf("expected persistence error, got result %+v", result)
	}
	if !strings.Contains(err.Error(), "persist result for task t1") {
		t.Errorf("expected wrapped persist error naming the task, got %v", err)
	}
	if len(invoker.order) != 1 {
		t.Errorf("expected the task to have run once before persisting, got %d calls", len(invoker.order))
	}
}

// An aborted batch reports its cancellations and never calls the executor.
func TestRunCancelledBatchReported(t *testing.T) {
	invoker := &recordingInvoker{}
	s := newTestScheduler(t, invoker, Config{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []*models.Task{
		{ID: "a", ExecutorID: "w", Payload: "a"},
		{ID: "b", ExecutorID: "w", Payload: "b"},
	}
	result, err := s.Run(ctx, tasks, models.ModeParallel)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.CancelledTasks != 2 {
		t.Errorf("expected 2 cancelled tasks, got %d", result.CancelledTasks)
	}
	if result.CompletedTasks != 0 {
		t.Errorf("expected 0 completed tasks, got %d", result.CompletedTasks)
	}
	if len(invoker.order) != 0 {
		t.Errorf("expected no executor calls, got %d", len(invoker.order))
	}

	found := false
	for _, suggestion := range result.Suggestions {
		if strings.Contains(suggestion, "cancelled") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a cancellation suggestion, got %v", result.Suggestions)
	}
}

// Later tasks can consume earlier results through required_context.
func TestRunAssemblesContextFromEarlierArtifacts(t *testing.T) {
	var gotContext string
	invoker := executor.InvokerFunc(func(ctx context.Context, executorID, payload, assembledContext string) (string, error) {
		if payload == "consumer" {
			gotContext = assembledContext
		}
		return `{"status": "ok", "step": "` + payload + `"}`, nil
	})

	store, err := artifact.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	s, err := New(store, invoker, Config{Workers: 2, MaxContextSize: 2048})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	// First run produces an artifact.
	producer := &models.Task{ID: "p", ExecutorID: "w1", Description: "produce", Payload: "producer"}
	first, err := s.Run(context.Background(), []*models.Task{producer}, models.ModeSequential)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	ids, err := store.Find(artifact.FindQuery{Tags: []string{"run:" + first.RunID}})
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected 1 artifact from first run, got %v (%v)", ids, err)
	}

	// Second run consumes it as context.
	consumer := &models.Task{ID: "c", ExecutorID: "w2", Payload: "consumer", RequiredContext: ids}
	if _, err := s.Run(context.Background(), []*models.Task{consumer}, models.ModeSequential); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if gotContext == "" {
		t.Fatal("expected assembled context to reach the invoker")
	}
	if len(gotContext) > 2048 {
		t.Errorf("context length %d exceeds configured bound", len(gotContext))
	}
}

func TestResolveMode(t *testing.T) {
	deps := []string{"x"}
	tests := []struct {
		name     string
		tasks    []*models.Task
		mode     models.Mode
		expected models.Mode
	}{
		{"explicit parallel", []*models.Task{{ID: "a"}}, models.ModeParallel, models.ModeParallel},
		{"explicit hybrid", []*models.Task{{ID: "a"}}, models.ModeHybrid, models.ModeHybrid},
		{"adaptive no deps large", tasksN(3, nil), models.ModeAdaptive, models.ModeParallel},
		{"adaptive no deps small", tasksN(2, nil), models.ModeAdaptive, models.ModeSequential},
		{"adaptive deps small", tasksN(4, deps), models.ModeAdaptive, models.ModeSequential},
		{"adaptive deps large", tasksN(7, deps), models.ModeAdaptive, models.ModeHybrid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveMode(tt.tasks, tt.mode); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

// tasksN builds n tasks; when deps is non-nil the last task depends on the
// first.
func tasksN(n int, deps []string) []*models.Task {
	var tasks []*models.Task
	for i := 0; i < n; i++ {
		tasks = append(tasks, &models.Task{ID: fmt.Sprintf("t%d", i)})
	}
	if deps != nil && n > 1 {
		tasks[n-1].Dependencies = []string{tasks[0].ID}
	}
	return tasks
}

func TestParallelEfficiencyBounds(t *testing.T) {
	tests := []struct {
		sequential time.Duration
		elapsed    time.Duration
	}{
		{0, 0},
		{0, time.Second},
		{time.Second, time.Second},
		{10 * time.Second, time.Second},
		{time.Millisecond, time.Hour},
	}

	for _, tt := range tests {
		eff := parallelEfficiency(tt.sequential, tt.elapsed)
		if eff <= 0 || eff > 1 {
			t.Errorf("parallelEfficiency(%v, %v) = %f outside (0, 1]", tt.sequential, tt.elapsed, eff)
		}
	}
}

func TestBuildSuggestions(t *testing.T) {
	result := &models.WorkflowOptimizationResult{
		Mode:               models.ModeHybrid,
		TotalTasks:         10,
		CompletedTasks:     5,
		FailedTasks:        5,
		ParallelEfficiency: 0.3,
		HadCycle:           true,
	}

	suggestions := buildSuggestions(result)
	if len(suggestions) != 3 {
		t.Fatalf("expected 3 suggestions, got %d: %v", len(suggestions), suggestions)
	}
}
