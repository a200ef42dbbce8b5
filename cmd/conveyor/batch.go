package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jshapiro/conveyor/pkg/models"
)

// batchFile is the on-disk format for a task batch.
type batchFile struct {
	// Name is an optional label for the batch. Informational only.
	Name string `yaml:"name"`
	// Mode optionally picks the execution strategy for the batch.
	Mode string `yaml:"mode"`
	// Tasks is the list of tasks to schedule.
	Tasks []*models.Task `yaml:"tasks"`
}

// loadBatch reads and validates a batch file.
func loadBatch(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse batch file %s: %w", path, err)
	}

	if len(batch.Tasks) == 0 {
		return nil, fmt.Errorf("batch file %s contains no tasks", path)
	}

	seen := make(map[string]bool, len(batch.Tasks))
	for i, task := range batch.Tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("task %d has no id", i)
		}
		if seen[task.ID] {
			return nil, fmt.Errorf("duplicate task id %q", task.ID)
		}
		seen[task.ID] = true
		if task.ExecutorID == "" {
			return nil, fmt.Errorf("task %q has no executor", task.ID)
		}
	}

	if batch.Mode != "" && !models.Mode(batch.Mode).Valid() {
		return nil, fmt.Errorf("unknown mode %q in batch file", batch.Mode)
	}

	return &batch, nil
}
