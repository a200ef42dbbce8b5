package models

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, status := range terminal {
		if !status.Terminal() {
			t.Errorf("expected %s to be terminal", status)
		}
	}

	active := []TaskStatus{TaskStatusPending, TaskStatusWaiting, TaskStatusRunning}
	for _, status := range active {
		if status.Terminal() {
			t.Errorf("expected %s to be non-terminal", status)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !(PriorityLow < PriorityNormal && PriorityNormal < PriorityHigh && PriorityHigh < PriorityCritical) {
		t.Error("priority constants are not ordered")
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"low":      PriorityLow,
		"normal":   PriorityNormal,
		"high":     PriorityHigh,
		"critical": PriorityCritical,
		"bogus":    PriorityNormal,
		"":         PriorityNormal,
	}
	for name, want := range cases {
		if got := ParsePriority(name); got != want {
			t.Errorf("ParsePriority(%q) = %s, want %s", name, got, want)
		}
	}
}

// Absent and unknown priority names both decode to normal; explicit names
// are honored.
func TestTaskYAMLPriorityDefaults(t *testing.T) {
	cases := []struct {
		doc  string
		want Priority
	}{
		{"id: a\nexecutor: w\n", PriorityNormal},
		{"id: a\nexecutor: w\npriority: bogus\n", PriorityNormal},
		{"id: a\nexecutor: w\npriority: low\n", PriorityLow},
		{"id: a\nexecutor: w\npriority: critical\n", PriorityCritical},
	}
	for _, tt := range cases {
		var task Task
		if err := yaml.Unmarshal([]byte(tt.doc), &task); err != nil {
			t.Fatalf("unmarshal failed for %q: %v", tt.doc, err)
		}
		if task.Priority != tt.want {
			t.Errorf("document %q: expected priority %s, got %s", tt.doc, tt.want, task.Priority)
		}
	}
}

func TestModeValid(t *testing.T) {
	for _, mode := range []Mode{ModeAdaptive, ModeParallel, ModeSequential, ModeHybrid} {
		if !mode.Valid() {
			t.Errorf("expected %s to be valid", mode)
		}
	}
	if Mode("turbo").Valid() {
		t.Error("expected unknown mode to be invalid")
	}
}

func TestSuccessRate(t *testing.T) {
	r := &WorkflowOptimizationResult{TotalTasks: 4, CompletedTasks: 3}
	if got := r.SuccessRate(); got != 0.75 {
		t.Errorf("expected 0.75, got %f", got)
	}

	empty := &WorkflowOptimizationResult{}
	if got := empty.SuccessRate(); got != 1.0 {
		t.Errorf("expected 1.0 for empty batch, got %f", got)
	}
}
