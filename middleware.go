package redistasks

import (
	"context"
	"log/slog"
	"time"
)

// CallFunc invokes the next layer of the middleware chain. Middleware may
// substitute the context, args or kwargs it passes down.
type CallFunc func(ctx context.Context, args []any, kwargs map[string]any) error

// Middleware is an ephemeral, per-execution cross-cutting hook.
//
// RunTask wraps the inner invocation. It receives the nested chain as next
// and is expected to call it; a middleware that never calls next suppresses
// the task invocation and everything nested inside it. Code placed after
// the next call (or in a defer) runs during unwind whether or not the
// nested call failed.
//
// ProcessOutcome inspects the terminal fault state after the run phase.
// Return f unchanged to pass it through, nil to clear it (the attempt is
// treated as recovered), or a replacement built with NewFault. Instances
// are visited in reverse registration order, so the first-registered
// middleware adjudicates last.
type Middleware interface {
	RunTask(ctx context.Context, task *Task, next CallFunc, args []any, kwargs map[string]any) error
	ProcessOutcome(ctx context.Context, task *Task, f *Fault) *Fault
}

// MiddlewareFactory produces a fresh middleware instance for one execution
// attempt, so state never leaks between tasks unless the factory
// deliberately hands back a long-lived object. Factories run independently
// per entry: one failing does not stop later entries from being attempted.
type MiddlewareFactory func() (Middleware, error)

// NewLoggingMiddleware returns a factory producing middleware that logs
// task start, finish and the terminal fault state with structured attrs.
func NewLoggingMiddleware(logger *slog.Logger) MiddlewareFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func() (Middleware, error) {
		return &loggingMiddleware{logger: logger}, nil
	}
}

type loggingMiddleware struct {
	logger *slog.Logger
	start  time.Time
}

func (m *loggingMiddleware) RunTask(ctx context.Context, task *Task, next CallFunc, args []any, kwargs map[string]any) error {
	m.start = time.Now()
	m.logger.InfoContext(ctx, "task started",
		slog.String("task_id", task.ID.String()),
		slog.String("func", task.FuncName),
		slog.String("queue", task.Queue))
	return next(ctx, args, kwargs)
}

func (m *loggingMiddleware) ProcessOutcome(ctx context.Context, task *Task, f *Fault) *Fault {
	attrs := []any{
		slog.String("task_id", task.ID.String()),
		slog.String("func", task.FuncName),
	}
	if !m.start.IsZero() {
		attrs = append(attrs, slog.Duration("duration", time.Since(m.start)))
	}
	switch {
	case f == nil:
		m.logger.InfoContext(ctx, "task finished", attrs...)
	case IsAborted(f.Err):
		m.logger.WarnContext(ctx, "task aborted", append(attrs, slog.String("reason", f.Err.Error()))...)
	default:
		m.logger.ErrorContext(ctx, "task failed",
			append(attrs,
				slog.String("fault_kind", f.Kind),
				slog.String("error", f.Err.Error()))...)
	}
	return f
}
