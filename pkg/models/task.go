package models

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusWaiting indicates the task is blocked on an unresolved dependency.
	TaskStatusWaiting TaskStatus = "waiting"
	// TaskStatusRunning indicates the task has been dispatched to a worker.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task exhausted its attempts or hit a fatal error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the batch was aborted before the task started.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusWaiting, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Priority orders tasks within a level for dispatch.
type Priority int

const (
	// PriorityLow is for background work that can wait.
	PriorityLow Priority = iota
	// PriorityNormal is the default priority.
	PriorityNormal
	// PriorityHigh is for tasks that should be dispatched early.
	PriorityHigh
	// PriorityCritical is for tasks that must be dispatched first.
	PriorityCritical
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority.
// Unknown names map to PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// UnmarshalYAML decodes a priority from its string name in batch files.
func (p *Priority) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	*p = ParsePriority(name)
	return nil
}

// Task represents a unit of work in a batch.
// Tasks are owned by the calling batch and mutated only by the scheduler
// during its own run; only the result is persisted, as an artifact.
type Task struct {
	// ID is the unique identifier for this task within the batch.
	ID string `json:"id" yaml:"id"`
	// ExecutorID names the capability that must process this task.
	ExecutorID string `json:"executor_id" yaml:"executor"`
	// Description is the short description of the task.
	Description string `json:"description,omitempty" yaml:"description"`
	// Payload contains opaque instructions for the executor.
	Payload string `json:"payload,omitempty" yaml:"payload"`
	// Priority orders dispatch within a level.
	Priority Priority `json:"priority" yaml:"priority"`
	// Dependencies lists task IDs that must reach a terminal state first.
	Dependencies []string `json:"dependencies,omitempty" yaml:"depends_on"`
	// Timeout bounds a single executor call. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	// MaxAttempts is the maximum number of executor calls before failing.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts"`
	// RequiredContext lists artifact IDs to assemble into the task's context.
	RequiredContext []string `json:"required_context,omitempty" yaml:"required_context"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"-"`
	// Attempt is the number of executor calls made so far.
	Attempt int `json:"attempt,omitempty" yaml:"-"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	// StartedAt is when the task was first dispatched, if it was.
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"-"`
	// FinishedAt is when the task reached a terminal state, if it did.
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"-"`
	// Result contains the executor output. Set only when completed.
	Result string `json:"result,omitempty" yaml:"-"`
	// Error contains the last error message. Set only when failed.
	Error string `json:"error,omitempty" yaml:"-"`
}

// UnmarshalYAML decodes a task from a batch file entry. Timeouts are
// written as duration strings, e.g. "30s".
func (t *Task) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		ID              string   `yaml:"id"`
		ExecutorID      string   `yaml:"executor"`
		Description     string   `yaml:"description"`
		Payload         string   `yaml:"payload"`
		Priority        Priority `yaml:"priority"`
		Dependencies    []string `yaml:"depends_on"`
		Timeout         string   `yaml:"timeout"`
		MaxAttempts     int      `yaml:"max_attempts"`
		RequiredContext []string `yaml:"required_context"`
	}
	// Absent and unknown priority names agree on normal.
	raw.Priority = PriorityNormal
	if err := unmarshal(&raw); err != nil {
		return err
	}

	t.ID = raw.ID
	t.ExecutorID = raw.ExecutorID
	t.Description = raw.Description
	t.Payload = raw.Payload
	t.Priority = raw.Priority
	t.Dependencies = raw.Dependencies
	t.MaxAttempts = raw.MaxAttempts
	t.RequiredContext = raw.RequiredContext
	t.Status = TaskStatusPending

	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("task %s: invalid timeout %q: %w", raw.ID, raw.Timeout, err)
		}
		t.Timeout = d
	}
	return nil
}
