package redistasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Worker claims pending tasks and runs them through the execution
// pipeline. One Worker runs many executions sequentially or concurrently
// (bounded by a semaphore); the pipeline itself never shares mutable state
// between attempts.
type Worker struct {
	repo     WorkerRepository
	executor *Executor
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations

	// Configuration
	pullInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	history         History
	logger          *slog.Logger

	// State management
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	hardStop atomic.Bool
}

// NewWorker creates a worker that feeds claimed tasks into executor.
func NewWorker(repo WorkerRepository, executor *Executor, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}

	options := &workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       5 * time.Second,
		lockTimeout:        5 * time.Minute,
		shutdownTimeout:    30 * time.Second,
		maxConcurrentTasks: 1,
		logger:             slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		repo:            repo,
		executor:        executor,
		queues:          options.queues,
		workerID:        uuid.New(),
		sem:             make(chan struct{}, options.maxConcurrentTasks),
		pullInterval:    options.pullInterval,
		lockTimeout:     options.lockTimeout,
		shutdownTimeout: options.shutdownTimeout,
		history:         options.history,
		logger:          options.logger,
	}, nil
}

// Start begins processing tasks in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)
	w.hardStop.Store(false)

	go w.run()

	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.sem)))

	return nil
}

// Stop gracefully shuts down the worker: no new tasks are claimed, and
// in-flight tasks get shutdownTimeout to finish before the drain scope
// starts aborting them on exit.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("worker stopping, waiting for active tasks to complete",
		slog.String("worker_id", w.workerID.String()))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.shutdownTimeout):
		// Grace period elapsed. Stragglers that eventually return will be
		// aborted by the drain scope on exit and requeued.
		w.hardStop.Store(true)
		w.logger.Warn("shutdown grace period elapsed, aborting remaining tasks",
			slog.String("worker_id", w.workerID.String()))
		<-done
	}

	w.logger.Info("worker stopped",
		slog.String("worker_id", w.workerID.String()))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// beginDrain stops the claim loop without tearing down the worker; the
// owner's Stop call still drains and waits as usual.
func (w *Worker) beginDrain() {
	if !w.stopping.CompareAndSwap(false, true) {
		return
	}
	w.logger.Warn("aborted outcome observed, draining worker",
		slog.String("worker_id", w.workerID.String()))
}

// run is the main processing loop
func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				// Use stopMu to ensure we don't add to WaitGroup after Stop() starts
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem // Release slot
					return
				}

				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }() // Release slot

					if err := w.pullAndProcess(); err != nil {
						w.logger.Error("failed to process task",
							slog.String("worker_id", w.workerID.String()),
							slog.String("error", err.Error()))
					}
				}()
			default:
				w.logger.Debug("all worker slots busy, skipping tick",
					slog.String("worker_id", w.workerID.String()))
			}
		}
	}
}

// pullAndProcess pulls a task and processes it
func (w *Worker) pullAndProcess() error {
	task, err := w.repo.ClaimTask(w.ctx, w.workerID, w.queues, w.lockTimeout)
	if err != nil {
		// No task due is normal, not an error
		if errors.Is(err, ErrNoTaskToClaim) {
			return nil
		}
		return fmt.Errorf("failed to claim task: %w", err)
	}

	if task == nil {
		return nil
	}

	w.logger.Debug("claimed task",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("func", task.FuncName),
		slog.String("queue", task.Queue))

	return w.processTask(task)
}

// processTask runs one claimed task through the execution pipeline and
// routes its outcome back to storage.
func (w *Worker) processTask(task *Task) error {
	start := time.Now()

	// Task execution is bounded by the lock, not by the worker lifecycle,
	// so graceful shutdown can let running tasks finish.
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	if w.history != nil {
		if err := w.history.RecordStarted(ctx, task, start); err != nil {
			w.logger.Error("failed to record task start",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	outcome := w.executor.Execute(ctx, task, &drainScope{w: w})
	duration := time.Since(start)

	// Outcome persistence must survive worker shutdown, so it gets its own
	// context instead of the (possibly cancelled) worker context.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer persistCancel()

	if w.history != nil {
		if err := w.history.RecordOutcome(persistCtx, task, outcome, time.Now()); err != nil {
			w.logger.Error("failed to record task outcome",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		return w.handleTaskSuccess(persistCtx, task, duration)
	case OutcomeAborted:
		return w.handleTaskAborted(persistCtx, task, outcome, duration)
	default:
		return w.handleTaskFailure(persistCtx, task, outcome, duration)
	}
}

// handleTaskAborted requeues a deliberately terminated task without
// consuming a retry and stops the worker from accepting new work. Aborts
// are drain signals, not errors: the attempt never reached a conclusion
// this worker can vouch for.
func (w *Worker) handleTaskAborted(ctx context.Context, task *Task, outcome Outcome, duration time.Duration) error {
	w.logger.Warn("task aborted",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("func", task.FuncName),
		slog.Duration("duration", duration),
		slog.String("reason", outcome.Message))

	w.beginDrain()

	if err := w.repo.RequeueTask(ctx, task.ID); err != nil {
		return fmt.Errorf("failed to requeue aborted task %s: %w", task.ID, err)
	}
	return nil
}

// handleTaskFailure records the failure, then moves the task to the DLQ
// once its retries are exhausted; otherwise storage has already reset it
// to pending with backoff.
func (w *Worker) handleTaskFailure(ctx context.Context, task *Task, outcome Outcome, duration time.Duration) error {
	w.logger.Error("task failed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("func", task.FuncName),
		slog.Int("retry_count", int(task.RetryCount)),
		slog.Int("max_retries", int(task.MaxRetries)),
		slog.Duration("duration", duration),
		slog.String("error", lastLine(outcome.Message)))

	if err := w.repo.FailTask(ctx, task.ID, outcome.Message); err != nil {
		return fmt.Errorf("failed to update task %s status to failed: %w", task.ID, err)
	}

	if task.RetryCount >= task.MaxRetries {
		if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
			return fmt.Errorf("failed to move task %s to DLQ after max retries: %w", task.ID, err)
		}

		w.logger.Warn("task moved to dead letter queue",
			slog.String("worker_id", w.workerID.String()),
			slog.String("task_id", task.ID.String()),
			slog.String("func", task.FuncName))
	}

	return nil
}

// handleTaskSuccess processes successful task completion
func (w *Worker) handleTaskSuccess(ctx context.Context, task *Task, duration time.Duration) error {
	if err := w.repo.CompleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
	}

	w.logger.Info("task completed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("func", task.FuncName),
		slog.String("queue", task.Queue),
		slog.Duration("duration", duration))

	return nil
}

// ExtendLockForTask extends the lock timeout for a long-running task
// This should be called periodically for tasks that take longer than lockTimeout
func (w *Worker) ExtendLockForTask(ctx context.Context, taskID uuid.UUID, extension time.Duration) error {
	return w.repo.ExtendLock(ctx, taskID, extension)
}

// WorkerInfo returns information about the worker
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}

// drainScope ties the execution pipeline's shutdown bracket to the
// worker's drain state. Entering after drain began aborts the attempt
// before the task function runs; exiting after the hard-stop deadline
// aborts it so the straggler is requeued instead of trusted.
type drainScope struct {
	w *Worker
}

func (s *drainScope) Enter() error {
	if s.w.stopping.Load() {
		return &WorkerShutdown{}
	}
	return nil
}

func (s *drainScope) Exit() error {
	if s.w.hardStop.Load() {
		return &WorkerShutdown{}
	}
	return nil
}

// lastLine returns the final line of a failure message, the
// "<FaultKind>: <detail>" summary, for compact log records.
func lastLine(message string) string {
	for i := len(message) - 1; i >= 0; i-- {
		if message[i] == '\n' {
			return message[i+1:]
		}
	}
	return message
}
