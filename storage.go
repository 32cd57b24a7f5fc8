package redistasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository defines the interface for task creation
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// WorkerRepository defines the interface for worker operations
type WorkerRepository interface {
	// ClaimTask atomically claims the next available task from the given
	// queues, or returns ErrNoTaskToClaim when nothing is due
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)

	// CompleteTask marks task as completed
	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask marks task as failed and increments retry count
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error

	// RequeueTask returns an aborted task to pending without consuming a
	// retry; the attempt never ran to a trustworthy conclusion
	RequeueTask(ctx context.Context, taskID uuid.UUID) error

	// MoveToDLQ moves task to dead letter queue
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error

	// ExtendLock extends the lock timeout for long-running tasks
	ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error
}

// SchedulerRepository defines the interface for scheduler operations
type SchedulerRepository interface {
	// CreateTask creates a new task in the storage
	CreateTask(ctx context.Context, task *Task) error

	// GetPendingTaskByName returns the pending periodic task with the given
	// function name, or (nil, nil) when none exists
	GetPendingTaskByName(ctx context.Context, funcName string) (*Task, error)
}
