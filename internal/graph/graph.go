// Package graph provides a dependency graph for task scheduling.
package graph

import (
	"sort"
	"sync"

	"github.com/jshapiro/conveyor/pkg/models"
)

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	// Only dependencies present in the batch become edges.
	edges map[string][]string
	// missing maps task ID to dependency IDs absent from the batch.
	missing map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// LevelPlan is an ordered partition of a batch into executable levels.
// Every dependency of every task in level k appears in some level < k,
// except for tasks in a forced final level when a cycle was present.
type LevelPlan struct {
	// Levels holds task IDs grouped by execution level.
	Levels [][]string
	// Forced holds the IDs emitted as the final level because of a cycle.
	Forced []string
	// HadCycle is set when a cyclic remainder was forced to execute.
	HadCycle bool
}

// ValidationReport describes dependency problems without mutating state.
type ValidationReport struct {
	// MissingDependencies maps task IDs to dependency IDs absent from the batch.
	MissingDependencies map[string][]string
	// HasCycle is set when the batch contains a circular dependency.
	HasCycle bool
}

// OK returns true if the batch has no missing dependencies and no cycle.
func (r *ValidationReport) OK() bool {
	return len(r.MissingDependencies) == 0 && !r.HasCycle
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]*models.Task),
		edges:    make(map[string][]string),
		missing:  make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of tasks.
// Dependencies that reference IDs outside the batch are recorded as missing
// and treated as satisfied; Validate reports them to the caller.
func (g *DependencyGraph) Build(tasks []*models.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d tasks", len(tasks))

	// First pass: register all tasks as nodes.
	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	// Second pass: build edges from dependency sets.
	for _, task := range tasks {
		for _, depID := range task.Dependencies {
			if _, exists := g.nodes[depID]; !exists {
				g.debugLog("[graph.Build] task %s depends on unknown task %s", task.ID, depID)
				g.missing[task.ID] = append(g.missing[task.ID], depID)
				continue
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	g.debugLog("[graph.Build] graph built with %d nodes, %d tasks with missing deps",
		len(g.nodes), len(g.missing))
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int)
	for id := range g.nodes {
		colors[id] = 0
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1 // Mark as in progress.

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Found a back edge - cycle detected.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
			// color == 2 means already processed, skip.
		}

		colors[id] = 2 // Mark as done.
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}

	return false
}

// Levels partitions the batch into executable levels using Kahn's algorithm.
// Zero-in-degree tasks form the next level; their dependents' in-degrees are
// then decremented. If IDs remain after the process (a cycle), the remainder
// is emitted as one final forced level and HadCycle is set rather than
// failing the batch.
func (g *DependencyGraph) Levels() *LevelPlan {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// In-degree per task, counting only dependencies inside the batch.
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.edges[id])
		for _, depID := range g.edges[id] {
			dependents[depID] = append(dependents[depID], id)
		}
	}

	plan := &LevelPlan{}
	emitted := make(map[string]bool, len(g.nodes))

	for len(emitted) < len(g.nodes) {
		var level []string
		for id, deg := range indegree {
			if deg == 0 && !emitted[id] {
				level = append(level, id)
			}
		}

		if len(level) == 0 {
			// Every remaining task has nonzero in-degree: a cycle.
			break
		}

		sort.Strings(level)
		for _, id := range level {
			emitted[id] = true
			for _, depID := range dependents[id] {
				indegree[depID]--
			}
		}
		plan.Levels = append(plan.Levels, level)
	}

	if len(emitted) < len(g.nodes) {
		// Force the cyclic remainder to execute as one final level.
		var forced []string
		for id := range g.nodes {
			if !emitted[id] {
				forced = append(forced, id)
			}
		}
		sort.Strings(forced)
		g.debugLog("[graph.Levels] cycle detected, forcing %d tasks into final level: %v",
			len(forced), forced)
		plan.Levels = append(plan.Levels, forced)
		plan.Forced = forced
		plan.HadCycle = true
	}

	g.debugLog("[graph.Levels] %d tasks partitioned into %d levels (cycle=%v)",
		len(g.nodes), len(plan.Levels), plan.HadCycle)
	return plan
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the in-batch IDs that the given task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[taskID]
}

// MissingDependencies returns dependency IDs that are absent from the batch,
// keyed by the task that references them.
func (g *DependencyGraph) MissingDependencies() map[string][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string][]string, len(g.missing))
	for id, deps := range g.missing {
		out[id] = append([]string(nil), deps...)
	}
	return out
}

// Validate reports dependency problems in a batch without mutating anything.
func Validate(tasks []*models.Task) *ValidationReport {
	g := New()
	g.Build(tasks)
	return &ValidationReport{
		MissingDependencies: g.MissingDependencies(),
		HasCycle:            g.HasCycle(),
	}
}
