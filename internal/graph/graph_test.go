package graph

import (
	"testing"

	"github.com/jshapiro/conveyor/pkg/models"
)

func levelOf(plan *LevelPlan, id string) int {
	for i, level := range plan.Levels {
		for _, got := range level {
			if got == id {
				return i
			}
		}
	}
	return -1
}

func TestLevelsIndependentTasks(t *testing.T) {
	g := New()
	g.Build([]*models.Task{
		{ID: "a"},
		{ID: "b"},
		{ID: "c"},
	})

	plan := g.Levels()
	if plan.HadCycle {
		t.Fatal("expected no cycle")
	}
	if len(plan.Levels) != 1 {
		t.Fatalf("expected 1 level, got %d", len(plan.Levels))
	}
	if len(plan.Levels[0]) != 3 {
		t.Errorf("expected 3 tasks in level 0, got %d", len(plan.Levels[0]))
	}
}

func TestLevelsChain(t *testing.T) {
	g := New()
	g.Build([]*models.Task{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	})

	plan := g.Levels()
	if plan.HadCycle {
		t.Fatal("expected no cycle")
	}
	if len(plan.Levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(plan.Levels))
	}
	for i, want := range []string{"a", "b", "c"} {
		if levelOf(plan, want) != i {
			t.Errorf("expected %s at level %d, got %d", want, i, levelOf(plan, want))
		}
	}
}

// Topological validity: every dependency's level index is strictly less
// than its dependent's.
func TestLevelsTopologicalValidity(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "d", Dependencies: []string{"b", "c"}},
		{ID: "e", Dependencies: []string{"a", "d"}},
		{ID: "f"},
	}

	g := New()
	g.Build(tasks)
	plan := g.Levels()

	if plan.HadCycle {
		t.Fatal("expected no cycle")
	}

	total := 0
	for _, level := range plan.Levels {
		total += len(level)
	}
	if total != len(tasks) {
		t.Fatalf("levels do not partition the batch: %d tasks emitted, want %d", total, len(tasks))
	}

	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if levelOf(plan, dep) >= levelOf(plan, task.ID) {
				t.Errorf("dependency %s (level %d) not before %s (level %d)",
					dep, levelOf(plan, dep), task.ID, levelOf(plan, task.ID))
			}
		}
	}
}

// Cycle containment: a cycle among a subset does not prevent unrelated
// acyclic tasks from being scheduled at their correct earlier levels.
func TestLevelsCycleForcedIntoFinalLevel(t *testing.T) {
	g := New()
	g.Build([]*models.Task{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c"},
	})

	plan := g.Levels()
	if !plan.HadCycle {
		t.Fatal("expected cycle flag to be set")
	}
	if len(plan.Levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(plan.Levels))
	}
	if levelOf(plan, "c") != 0 {
		t.Errorf("expected independent task c at level 0, got %d", levelOf(plan, "c"))
	}
	if len(plan.Forced) != 2 {
		t.Fatalf("expected 2 forced tasks, got %d", len(plan.Forced))
	}
	if levelOf(plan, "a") != 1 || levelOf(plan, "b") != 1 {
		t.Errorf("expected cyclic tasks a and b in final level, got %d and %d",
			levelOf(plan, "a"), levelOf(plan, "b"))
	}
}

func TestHasCycle(t *testing.T) {
	g := New()
	g.Build([]*models.Task{
		{ID: "a", Dependencies: []string{"c"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	})

	if !g.HasCycle() {
		t.Error("expected cycle to be detected")
	}
}

func TestBuildRecordsMissingDependencies(t *testing.T) {
	g := New()
	g.Build([]*models.Task{
		{ID: "a", Dependencies: []string{"ghost"}},
		{ID: "b", Dependencies: []string{"a"}},
	})

	missing := g.MissingDependencies()
	if len(missing) != 1 {
		t.Fatalf("expected 1 task with missing deps, got %d", len(missing))
	}
	if got := missing["a"]; len(got) != 1 || got[0] != "ghost" {
		t.Errorf("expected missing dep ghost for task a, got %v", got)
	}

	// The unknown dependency is treated as satisfied for scheduling.
	plan := g.Levels()
	if levelOf(plan, "a") != 0 {
		t.Errorf("expected task a schedulable at level 0, got %d", levelOf(plan, "a"))
	}
}

func TestValidate(t *testing.T) {
	report := Validate([]*models.Task{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a", "ghost"}},
	})

	if !report.HasCycle {
		t.Error("expected cycle in report")
	}
	if len(report.MissingDependencies["b"]) != 1 {
		t.Errorf("expected missing dependency for b, got %v", report.MissingDependencies)
	}
	if report.OK() {
		t.Error("expected report not OK")
	}
}

func TestValidateClean(t *testing.T) {
	report := Validate([]*models.Task{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	})

	if !report.OK() {
		t.Errorf("expected clean report, got %+v", report)
	}
}
