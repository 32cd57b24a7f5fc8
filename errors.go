package redistasks

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrResolverNil is returned when an Executor is built without a resolver
	ErrResolverNil = errors.New("resolver cannot be nil")

	// ErrTaskNil is returned when a nil task is handed to the pipeline
	ErrTaskNil = errors.New("task cannot be nil")

	// ErrFuncNameEmpty is returned when a task function name is empty
	ErrFuncNameEmpty = errors.New("task function name cannot be empty")

	// ErrFuncNil is returned when registering a nil task function
	ErrFuncNil = errors.New("task function cannot be nil")

	// ErrFuncAlreadyRegistered is returned when a function name is registered twice
	ErrFuncAlreadyRegistered = errors.New("task function already registered")

	// ErrInvalidPriority is returned when priority is outside valid range
	ErrInvalidPriority = errors.New("priority must be between 0 and 100")

	// ErrNoTaskToClaim is returned by storage when no pending task is due
	ErrNoTaskToClaim = errors.New("no task to claim")

	// ErrTaskNotFound is returned by storage when a task ID is unknown
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskAlreadyRegistered is returned when registering a duplicate periodic task
	ErrTaskAlreadyRegistered = errors.New("task already registered")

	// ErrSchedulerNotConfigured is returned when the scheduler has no tasks
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered tasks")

	// ErrInvalidSchedule is returned when a schedule expression cannot be parsed
	ErrInvalidSchedule = errors.New("invalid schedule format")

	// ErrConfigParse is returned when environment configuration is malformed
	ErrConfigParse = errors.New("failed to parse configuration from environment")

	// ErrFailedToParseRedisConnString is returned for a malformed Redis URL
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")

	// ErrRedisNotReady is returned when the Redis server cannot be reached
	ErrRedisNotReady = errors.New("redis server is not ready")
)

// ResolutionError reports a task function reference that could not be
// resolved to a registered function at execution time. Late binding turns
// "code moved or renamed" into an ordinary execution failure instead of an
// enqueue-time crash.
type ResolutionError struct {
	FuncName string
}

// Error returns the fixed detail text. Together with FaultKind it forms the
// message line "RuntimeError: Failed to import task function", which log
// scrapers match verbatim.
func (e *ResolutionError) Error() string { return "Failed to import task function" }

func (e *ResolutionError) FaultKind() string { return "RuntimeError" }

// TaskAborted marks a deliberate, non-error termination of a task. Aborted
// attempts are requeued without consuming a retry.
type TaskAborted struct {
	Reason string
}

func (e *TaskAborted) Error() string { return e.Reason }

// Abort builds a TaskAborted error task code can return to terminate an
// attempt on purpose.
func Abort(reason string) error { return &TaskAborted{Reason: reason} }

// WorkerShutdown is the cooperative drain signal raised into the execution
// pipeline when a worker is asked to stop. Its message text is a wire
// contract consumed by log tooling.
type WorkerShutdown struct{}

func (e *WorkerShutdown) Error() string { return "Worker shutdown" }

// PanicError wraps a non-error panic value recovered from task, middleware
// or factory code.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprint(e.Value) }

// IsAborted reports whether err represents a deliberate task abort, either
// an explicit TaskAborted or the worker's shutdown signal.
func IsAborted(err error) bool {
	var ta *TaskAborted
	var ws *WorkerShutdown
	return errors.As(err, &ta) || errors.As(err, &ws)
}
