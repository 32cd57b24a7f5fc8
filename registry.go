package redistasks

import (
	"context"
	"fmt"
	"sync"
)

// TaskFunc is the shape of a registered task function. Args and kwargs
// arrive exactly as they were enqueued.
type TaskFunc func(ctx context.Context, args []any, kwargs map[string]any) error

// Resolver maps a stored task function reference to an invocable at
// execution time. Resolution is late by design: an unresolvable reference
// is an ordinary execution failure, not an enqueue-time crash.
type Resolver interface {
	Resolve(name string) (TaskFunc, error)
}

// Registry is a Resolver backed by an in-process table of task functions
// keyed by fully-qualified name. The table is populated at startup and read
// by every execution; it is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]TaskFunc
}

// NewRegistry creates an empty task function registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]TaskFunc)}
}

// Register adds fn under the given fully-qualified name. Registering the
// same name twice is an error.
func (r *Registry) Register(name string, fn TaskFunc) error {
	if name == "" {
		return ErrFuncNameEmpty
	}
	if fn == nil {
		return ErrFuncNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("%w: %s", ErrFuncAlreadyRegistered, name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is Register for startup wiring: it panics on error.
func (r *Registry) MustRegister(name string, fn TaskFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Resolve returns the function registered under name, or a ResolutionError
// if the reference is unknown.
func (r *Registry) Resolve(name string) (TaskFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, &ResolutionError{FuncName: name}
	}
	return fn, nil
}

// Names returns the registered function names, primarily for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}
