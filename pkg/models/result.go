package models

import "time"

// Mode selects the execution strategy for a scheduling call.
type Mode string

const (
	// ModeAdaptive picks a strategy from batch shape at run time.
	ModeAdaptive Mode = "adaptive"
	// ModeParallel runs the whole batch as one level.
	ModeParallel Mode = "parallel"
	// ModeSequential runs tasks one at a time in dependency order.
	ModeSequential Mode = "sequential"
	// ModeHybrid runs level by level, parallel within each level.
	ModeHybrid Mode = "hybrid"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModeAdaptive, ModeParallel, ModeSequential, ModeHybrid:
		return true
	default:
		return false
	}
}

// CacheStats reports context-cache and artifact usage for one scheduling call.
type CacheStats struct {
	// ContextHits counts assembled contexts served from the per-run cache.
	ContextHits int `json:"context_hits"`
	// ContextMisses counts contexts that had to be assembled.
	ContextMisses int `json:"context_misses"`
	// ArtifactsStored counts results persisted during the run.
	ArtifactsStored int `json:"artifacts_stored"`
}

// WorkflowOptimizationResult is the report returned from one scheduling call.
// It is created once per call and immutable thereafter.
type WorkflowOptimizationResult struct {
	// RunID identifies the scheduling call.
	RunID string `json:"run_id"`
	// Mode is the strategy that actually ran (after adaptive resolution).
	Mode Mode `json:"mode"`
	// TotalTasks is the batch size.
	TotalTasks int `json:"total_tasks"`
	// CompletedTasks is the number of tasks that finished successfully.
	CompletedTasks int `json:"completed_tasks"`
	// FailedTasks is the number of tasks that reached the failed state.
	FailedTasks int `json:"failed_tasks"`
	// CancelledTasks is the number of tasks cancelled before starting.
	CancelledTasks int `json:"cancelled_tasks,omitempty"`
	// TotalDuration is the wall-clock time of the whole call.
	TotalDuration time.Duration `json:"total_duration"`
	// ParallelEfficiency is theoretical sequential time over actual elapsed
	// time, capped at 1.0. Always in (0, 1].
	ParallelEfficiency float64 `json:"parallel_efficiency"`
	// HadCycle is set when the resolver forced a cyclic remainder to run.
	HadCycle bool `json:"had_cycle,omitempty"`
	// CacheStats reports context-cache and artifact usage.
	CacheStats CacheStats `json:"cache_stats"`
	// Suggestions are threshold-based optimization hints.
	Suggestions []string `json:"suggestions,omitempty"`
}

// SuccessRate returns the fraction of tasks that completed, in [0, 1].
func (r *WorkflowOptimizationResult) SuccessRate() float64 {
	if r.TotalTasks == 0 {
		return 1.0
	}
	return float64(r.CompletedTasks) / float64(r.TotalTasks)
}
