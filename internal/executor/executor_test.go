package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jshapiro/conveyor/pkg/models"
)

var errBoom = errors.New("boom")

func TestExecuteBatchAllSucceed(t *testing.T) {
	e := New(InvokerFunc(func(ctx context.Context, executorID, payload, _ string) (string, error) {
		return "done: " + payload, nil
	}), 4)

	tasks := []*models.Task{
		{ID: "t1", ExecutorID: "w", Payload: "one", MaxAttempts: 1},
		{ID: "t2", ExecutorID: "w", Payload: "two", MaxAttempts: 1},
	}

	outcomes := e.ExecuteBatch(context.Background(), tasks, nil)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Status != models.TaskStatusCompleted {
			t.Errorf("outcome %d: expected completed, got %s", i, o.Status)
		}
		if o.Attempts != 1 {
			t.Errorf("outcome %d: expected 1 attempt, got %d", i, o.Attempts)
		}
	}
	if outcomes[0].Result != "done: one" {
		t.Errorf("expected result preserved, got %q", outcomes[0].Result)
	}
}

// Retry bound: a task whose executor call always fails reaches Failed after
// exactly MaxAttempts attempts, never more.
func TestRetryBound(t *testing.T) {
	var calls atomic.Int32
	e := New(InvokerFunc(func(ctx context.Context, executorID, payload, _ string) (string, error) {
		calls.Add(1)
		return "", errBoom
	}), 2)

	task := &models.Task{ID: "t1", ExecutorID: "w", MaxAttempts: 2}
	outcomes := e.ExecuteBatch(context.Background(), []*models.Task{task}, nil)

	if calls.Load() != 2 {
		t.Errorf("expected exactly 2 executor calls, got %d", calls.Load())
	}
	if outcomes[0].Status != models.TaskStatusFailed {
		t.Errorf("expected failed, got %s", outcomes[0].Status)
	}
	if outcomes[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", outcomes[0].Attempts)
	}
	if !errors.Is(outcomes[0].Err, errBoom) {
		t.Errorf("expected last error surfaced, got %v", outcomes[0].Err)
	}
	if task.Error == "" {
		t.Error("expected task error to be set")
	}
}

func TestRetryThenSucceed(t *testing.T) {
	var calls atomic.Int32
	e := New(InvokerFunc(func(ctx context.Context, executorID, payload, _ string) (string, error) {
		if calls.Add(1) == 1 {
			return "", errBoom
		}
		return "recovered", nil
	}), 2)

	task := &models.Task{ID: "t1", ExecutorID: "w", MaxAttempts: 3}
	outcomes := e.ExecuteBatch(context.Background(), []*models.Task{task}, nil)

	if outcomes[0].Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s", outcomes[0].Status)
	}
	if outcomes[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", outcomes[0].Attempts)
	}
	if outcomes[0].Result != "recovered" {
		t.Errorf("expected result from second attempt, got %q", outcomes[0].Result)
	}
}

// One task's failure never aborts its siblings in the same level.
func TestFailureDoesNotAbortSiblings(t *testing.T) {
	e := New(InvokerFunc(func(ctx context.Context, executorID, payload, _ string) (string, error) {
		if payload == "bad" {
			return "", errBoom
		}
		return "ok", nil
	}), 4)

	tasks := []*models.Task{
		{ID: "t1", ExecutorID: "w", Payload: "bad", MaxAttempts: 1},
		{ID: "t2", ExecutorID: "w", Payload: "good", MaxAttempts: 1},
		{ID: "t3", ExecutorID: "w", Payload: "good", MaxAttempts: 1},
	}

	outcomes := e.ExecuteBatch(context.Background(), tasks, nil)
	if outcomes[0].Status != models.TaskStatusFailed {
		t.Errorf("expected t1 failed, got %s", outcomes[0].Status)
	}
	if outcomes[1].Status != models.TaskStatusCompleted || outcomes[2].Status != models.TaskStatusCompleted {
		t.Errorf("expected siblings completed, got %s and %s", outcomes[1].Status, outcomes[2].Status)
	}
}

func TestTimeoutFailsTask(t *testing.T) {
	e := New(InvokerFunc(func(ctx context.Context, executorID, payload, _ string) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}), 1)

	task := &models.Task{ID: "t1", ExecutorID: "w", MaxAttempts: 1, Timeout: 20 * time.Millisecond}
	outcomes := e.ExecuteBatch(context.Background(), []*models.Task{task}, nil)

	if outcomes[0].Status != models.TaskStatusFailed {
		t.Errorf("expected failed on timeout, got %s", outcomes[0].Status)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(InvokerFunc(func(ctx context.Context, executorID, payload, _ string) (string, error) {
		return "unreachable", nil
	}), 1)

	task := &models.Task{ID: "t1", ExecutorID: "w", MaxAttempts: 1}
	outcomes := e.ExecuteBatch(ctx, []*models.Task{task}, nil)

	if outcomes[0].Status != models.TaskStatusCancelled {
		t.Errorf("expected cancelled, got %s", outcomes[0].Status)
	}
	if outcomes[0].Attempts != 0 {
		t.Errorf("expected no attempts, got %d", outcomes[0].Attempts)
	}
}

func TestBoundedConcurrency(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0

	e := New(InvokerFunc(func(ctx context.Context, executorID, payload, _ string) (string, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return "ok", nil
	}), 2)

	var tasks []*models.Task
	for i := 0; i < 8; i++ {
		tasks = append(tasks, &models.Task{ID: string(rune('a' + i)), ExecutorID: "w", MaxAttempts: 1})
	}

	e.ExecuteBatch(context.Background(), tasks, nil)

	if peak > 2 {
		t.Errorf("expected at most 2 concurrent tasks, observed %d", peak)
	}
}

func TestAssembledContextReachesInvoker(t *testing.T) {
	var got string
	e := New(InvokerFunc(func(ctx context.Context, executorID, payload, assembledContext string) (string, error) {
		got = assembledContext
		return "ok", nil
	}), 1)

	task := &models.Task{ID: "t1", ExecutorID: "w", MaxAttempts: 1}
	e.ExecuteBatch(context.Background(), []*models.Task{task}, map[string]string{"t1": "the context"})

	if got != "the context" {
		t.Errorf("expected assembled context passed through, got %q", got)
	}
}
