package scheduler

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/jshapiro/conveyor/pkg/models"
)

// EventType identifies a scheduler event.
type EventType string

const (
	// EventRunStarted is emitted once at the start of a scheduling call.
	EventRunStarted EventType = "run_started"
	// EventLevelStarted is emitted when a level begins executing.
	EventLevelStarted EventType = "level_started"
	// EventTaskStatus is emitted on every task status change.
	EventTaskStatus EventType = "task_status"
	// EventRunFinished is emitted once when the call completes.
	EventRunFinished EventType = "run_finished"
)

// Event is one progress update from a scheduling call.
type Event struct {
	// Type identifies the event.
	Type EventType
	// RunID identifies the scheduling call.
	RunID string
	// TaskID is set for task status events.
	TaskID string
	// Status is set for task status events.
	Status models.TaskStatus
	// Level is the level index for level events.
	Level int
	// LevelSize is the number of tasks in the level for level events.
	LevelSize int
	// Time is when the event was emitted.
	Time time.Time
}

// EventEmitter handles event emission for the scheduler.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	event.Time = time.Now()

	// Try immediate send first
	select {
	case e.events <- event:
		return
	default:
		// Channel full, try with timeout
	}

	// Try with 100ms timeout to give the receiver a chance to drain
	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		// Timeout expired, drop the event
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[scheduler] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
// This is used by subscribers (e.g. the TUI) to receive updates.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
// This should be called when the scheduling call has finished.
func (e *EventEmitter) Close() {
	close(e.events)
}
