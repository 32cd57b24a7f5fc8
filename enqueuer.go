package redistasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueuer handles task enqueueing
type Enqueuer struct {
	repo            EnqueuerRepository
	defaultQueue    string
	defaultPriority Priority
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultQueue:    DefaultQueueName,
		defaultPriority: PriorityDefault,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:            repo,
		defaultQueue:    options.defaultQueue,
		defaultPriority: options.defaultPriority,
	}, nil
}

// Enqueue adds a new one-time task invoking the named function with the
// given positional args and kwargs. The reference, args and kwargs are
// fixed at creation; the function itself is resolved only at execution
// time, so the target does not have to be loadable here.
func (e *Enqueuer) Enqueue(ctx context.Context, funcName string, args []any, kwargs map[string]any, opts ...EnqueueOption) error {
	if funcName == "" {
		return ErrFuncNameEmpty
	}

	options := &enqueueOptions{
		queue:      e.defaultQueue,
		priority:   e.defaultPriority,
		maxRetries: 3,
	}

	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return ErrInvalidPriority
	}

	task := e.buildTask(funcName, args, kwargs, options)

	if err := e.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to create task %q in queue %q: %w", task.FuncName, task.Queue, err)
	}

	return nil
}

// buildTask constructs an immutable Task record from the call spec and options
func (e *Enqueuer) buildTask(funcName string, args []any, kwargs map[string]any, options *enqueueOptions) *Task {
	scheduledAt := time.Now()
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = scheduledAt.Add(options.delay)
	}

	return &Task{
		ID:          uuid.New(),
		Queue:       options.queue,
		TaskType:    TaskTypeOneTime,
		FuncName:    funcName,
		Args:        args,
		Kwargs:      kwargs,
		Status:      TaskStatusPending,
		Priority:    options.priority,
		RetryCount:  0,
		MaxRetries:  options.maxRetries,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}
}
