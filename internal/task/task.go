package task

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-exam/internal/domain"
)

// Task represents a unit of background work to be processed.
// Its ID is the ID of the ledger record that tracks it.
type Task interface {
	// ID returns the task's unique identifier
	ID() uuid.UUID

	// Type returns the task kind
	Type() domain.TaskKind

	// Payload returns the task data as a byte slice
	Payload() []byte

	// Execute runs the task logic. Implementations record progress and the
	// terminal outcome in the ledger themselves.
	Execute(ctx context.Context) error
}

// TaskQueueReader provides read-only access to the task channel
// allowing workers to consume tasks without the ability to enqueue
type TaskQueueReader interface {
	// GetChannel returns a read-only channel for consuming tasks
	GetChannel() <-chan Task
}

// TaskQueueWriter provides write access to the task queue
// allowing services to enqueue tasks for processing
type TaskQueueWriter interface {
	// Enqueue adds a task to the queue for processing
	// Returns an error if the queue is full or closed
	Enqueue(task Task) error

	// Close closes the task queue, preventing further task submission
	Close()
}

// Submitter accepts tasks for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, task Task) error
}

// Recoverer rebuilds tasks for unfinished ledger records after a restart.
type Recoverer interface {
	Recover(ctx context.Context) ([]Task, error)
}
