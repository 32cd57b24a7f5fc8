package redistasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler manages periodic task scheduling: it converts registered
// Schedule rules into pending tasks at runtime, deduplicating against
// tasks already waiting in storage.
type Scheduler struct {
	repo     SchedulerRepository
	tasks    map[string]*scheduledTask
	mu       sync.RWMutex
	ticker   *time.Ticker
	interval time.Duration
	logger   *slog.Logger
}

// scheduledTask holds configuration for a periodic task
type scheduledTask struct {
	funcName        string
	schedule        Schedule
	args            []any
	kwargs          map[string]any
	queue           string
	priority        Priority
	maxRetries      int8
	lastScheduledAt *time.Time // Track when we last created a task
}

// NewScheduler creates a new task scheduler
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		repo:     repo,
		tasks:    make(map[string]*scheduledTask),
		interval: options.checkInterval,
		logger:   options.logger,
	}, nil
}

// AddTask registers a periodic task invoking the named function on the
// given schedule. The function name doubles as the task's identity for
// deduplication.
func (s *Scheduler) AddTask(funcName string, schedule Schedule, opts ...SchedulerTaskOption) error {
	if funcName == "" {
		return ErrFuncNameEmpty
	}
	if schedule == nil {
		return ErrInvalidSchedule
	}

	taskOpts := &schedulerTaskOptions{
		queue:      DefaultQueueName,
		priority:   PriorityDefault,
		maxRetries: 3,
	}

	for _, opt := range opts {
		opt(taskOpts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[funcName]; exists {
		return ErrTaskAlreadyRegistered
	}

	s.tasks[funcName] = &scheduledTask{
		funcName:   funcName,
		schedule:   schedule,
		args:       taskOpts.args,
		kwargs:     taskOpts.kwargs,
		queue:      taskOpts.queue,
		priority:   taskOpts.priority,
		maxRetries: taskOpts.maxRetries,
	}

	s.logger.Info("registered periodic task",
		slog.String("func", funcName),
		slog.String("schedule", schedule.String()))

	return nil
}

// Start begins the scheduler's periodic task checking
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	taskCount := len(s.tasks)
	s.mu.RUnlock()

	if taskCount == 0 {
		return ErrSchedulerNotConfigured
	}

	s.ticker = time.NewTicker(s.interval)
	defer s.ticker.Stop()

	// Check immediately on start
	s.checkTasks(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-s.ticker.C:
			s.checkTasks(ctx)
		}
	}
}

// checkTasks checks all registered tasks and creates any that are due
func (s *Scheduler) checkTasks(ctx context.Context) {
	s.mu.RLock()
	tasks := make([]*scheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.RUnlock()

	now := time.Now()

	for _, task := range tasks {
		if err := s.scheduleTaskIfNeeded(ctx, task, now); err != nil {
			s.logger.Error("failed to schedule task",
				slog.String("func", task.funcName),
				slog.String("error", err.Error()))
		}
	}
}

// scheduleTaskIfNeeded checks if a task should be scheduled and creates it if needed
func (s *Scheduler) scheduleTaskIfNeeded(ctx context.Context, task *scheduledTask, now time.Time) error {
	nextRun := s.calculateNextRun(task, now)

	if !s.shouldScheduleTask(task, nextRun, now) {
		return nil
	}

	// A pending instance in storage means another scheduler (or a previous
	// tick) already created this run
	existing, err := s.repo.GetPendingTaskByName(ctx, task.funcName)
	if err != nil {
		return fmt.Errorf("failed to check pending task: %w", err)
	}
	if existing != nil {
		s.updateTaskState(task.funcName, &existing.ScheduledAt)
		s.logger.Debug("periodic task already pending",
			slog.String("func", task.funcName),
			slog.Time("scheduled_for", existing.ScheduledAt))
		return nil
	}

	if err := s.createTask(ctx, task, nextRun); err != nil {
		return fmt.Errorf("failed to create periodic task: %w", err)
	}

	s.updateTaskState(task.funcName, &nextRun)

	s.logger.Info("created periodic task",
		slog.String("func", task.funcName),
		slog.Time("scheduled_for", nextRun))

	return nil
}

// calculateNextRun determines when the task should run next
func (s *Scheduler) calculateNextRun(task *scheduledTask, now time.Time) time.Time {
	if task.lastScheduledAt == nil {
		return task.schedule.Next(now)
	}
	return task.schedule.Next(*task.lastScheduledAt)
}

// shouldScheduleTask determines if a task is due to be scheduled
func (s *Scheduler) shouldScheduleTask(task *scheduledTask, nextRun, now time.Time) bool {
	// First run is always scheduled
	if task.lastScheduledAt == nil {
		return true
	}

	if nextRun.After(now) {
		s.logger.Debug("periodic task not due yet",
			slog.String("func", task.funcName),
			slog.Time("next_run", nextRun))
		return false
	}

	return true
}

// updateTaskState updates the lastScheduledAt time for a task
func (s *Scheduler) updateTaskState(funcName string, scheduledAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[funcName]; ok {
		t.lastScheduledAt = scheduledAt
	}
}

// createTask creates a new task instance in the storage
func (s *Scheduler) createTask(ctx context.Context, task *scheduledTask, scheduledAt time.Time) error {
	newTask := &Task{
		ID:          uuid.New(),
		Queue:       task.queue,
		TaskType:    TaskTypePeriodic,
		FuncName:    task.funcName,
		Args:        task.args,
		Kwargs:      task.kwargs,
		Status:      TaskStatusPending,
		Priority:    task.priority,
		RetryCount:  0,
		MaxRetries:  task.maxRetries,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}

	return s.repo.CreateTask(ctx, newTask)
}

// RemoveTask removes a periodic task from the scheduler
func (s *Scheduler) RemoveTask(funcName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, funcName)

	s.logger.Info("removed periodic task",
		slog.String("func", funcName))
}

// ListTasks returns the function names of all registered periodic tasks
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}
