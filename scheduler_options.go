package redistasks

import (
	"log/slog"
	"time"
)

// SchedulerOption is a functional option for configuring a scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval time.Duration
	logger        *slog.Logger
}

// WithCheckInterval sets how often the scheduler checks for due tasks
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// SchedulerTaskOption is a functional option for a registered periodic task
type SchedulerTaskOption func(*schedulerTaskOptions)

type schedulerTaskOptions struct {
	args       []any
	kwargs     map[string]any
	queue      string
	priority   Priority
	maxRetries int8
}

// WithTaskArgs sets the positional arguments passed on every run
func WithTaskArgs(args ...any) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		o.args = args
	}
}

// WithTaskKwargs sets the keyword arguments passed on every run
func WithTaskKwargs(kwargs map[string]any) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		o.kwargs = kwargs
	}
}

// WithTaskQueue sets the queue the periodic task is enqueued on
func WithTaskQueue(queue string) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithTaskPriority sets the priority of the periodic task
func WithTaskPriority(priority Priority) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		if priority.Valid() {
			o.priority = priority
		}
	}
}

// WithTaskMaxRetries sets the maximum retries of the periodic task (0-10)
func WithTaskMaxRetries(maxRetries int8) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		if maxRetries >= 0 && maxRetries <= 10 {
			o.maxRetries = maxRetries
		}
	}
}
