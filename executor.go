package redistasks

import (
	"context"
	"errors"
)

// ShutdownScope brackets the raw task function invocation with the worker's
// cooperative-shutdown state. Exit runs on every path out of the region
// once Enter has succeeded, including when the wrapped call fails. An error
// from Enter or Exit is captured exactly like an error raised by the call
// itself; returning a WorkerShutdown from either hook is the canonical way
// an external supervisor stops a worker mid-task.
type ShutdownScope interface {
	Enter() error
	Exit() error
}

// Executor drives one task execution attempt: resolve the function, run
// the middleware chain around the shutdown-scoped invocation, and classify
// whatever comes out. The middleware factory list is fixed at construction;
// tests assemble their own Executor instead of mutating shared state.
type Executor struct {
	resolver  Resolver
	factories []MiddlewareFactory
}

// NewExecutor creates an Executor over the given resolver.
func NewExecutor(resolver Resolver, opts ...ExecutorOption) (*Executor, error) {
	if resolver == nil {
		return nil, ErrResolverNil
	}

	options := &executorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &Executor{
		resolver:  resolver,
		factories: options.factories,
	}, nil
}

// chainEntry records the result of instantiating one middleware factory:
// either a live instance or the fault its factory produced.
type chainEntry struct {
	mw    Middleware
	fault *Fault
}

// Execute runs one attempt of task and returns its Outcome. It never fails
// itself: resolution failures, middleware faults, panics and shutdown
// signals are all converted into the returned Outcome. The optional scope
// brackets only the raw function invocation; middleware never runs inside
// it.
func (e *Executor) Execute(ctx context.Context, task *Task, scope ShutdownScope) Outcome {
	if task == nil {
		return Classify(NewFault(ErrTaskNil))
	}

	entries := e.instantiate()

	fn, err := e.resolver.Resolve(task.FuncName)
	if err != nil {
		// Task code and middleware RunTask never observe an unresolvable
		// task; only ProcessOutcome sees the resolution fault.
		return e.finish(ctx, task, entries, NewFault(err))
	}

	fault := e.runChain(ctx, task, entries, fn, scope)
	return e.finish(ctx, task, entries, fault)
}

// GenerateOutcome runs the outcome-processing phase and classification over
// an already-captured fault, without a run phase. The worker uses it to
// produce outcomes for faults observed outside the chain.
func (e *Executor) GenerateOutcome(ctx context.Context, task *Task, fault *Fault) Outcome {
	return e.finish(ctx, task, e.instantiate(), fault)
}

// instantiate runs every registered factory independently, in registration
// order. An entry whose factory fails carries the recorded fault; later
// entries are still attempted, and every entry that did produce an instance
// participates in the outcome-processing phase regardless of what happened
// at earlier positions.
func (e *Executor) instantiate() []chainEntry {
	entries := make([]chainEntry, len(e.factories))
	for i, factory := range e.factories {
		mw, fault := callFactory(factory)
		if fault != nil {
			entries[i] = chainEntry{fault: fault}
			continue
		}
		entries[i] = chainEntry{mw: mw}
	}
	return entries
}

func callFactory(factory MiddlewareFactory) (mw Middleware, fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			mw, fault = nil, panicFault(r)
		}
	}()
	if factory == nil {
		return nil, NewFault(errors.New("nil middleware factory"))
	}
	mw, err := factory()
	if err != nil {
		return nil, asFault(err)
	}
	if mw == nil {
		return nil, NewFault(errors.New("middleware factory returned nil instance"))
	}
	return mw, nil
}

// runChain builds the onion-nested call chain over the instantiated entries
// (outermost = first registered) and invokes it. The innermost layer is the
// shutdown-scoped function call. Whatever escapes the outermost layer is
// captured as the run phase's fault state; a normal return leaves it nil.
func (e *Executor) runChain(ctx context.Context, task *Task, entries []chainEntry, fn TaskFunc, scope ShutdownScope) (fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			fault = panicFault(r)
		}
	}()

	next := CallFunc(func(ctx context.Context, args []any, kwargs map[string]any) error {
		return invokeScoped(ctx, fn, scope, args, kwargs)
	})
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.fault != nil {
			// Surface the recorded instantiation fault at this exact
			// nesting position: entries deeper in the chain never see a
			// RunTask call for this attempt.
			f := entry.fault
			next = func(context.Context, []any, map[string]any) error { return f }
			continue
		}
		mw, inner := entry.mw, next
		next = func(ctx context.Context, args []any, kwargs map[string]any) error {
			return mw.RunTask(ctx, task, inner, args, kwargs)
		}
	}
	return asFault(next(ctx, task.Args, task.Kwargs))
}

// invokeScoped brackets only the raw task function call with the shutdown
// scope. A shutdown signal raised on entry, on exit, or during the call is
// indistinguishable for outcome purposes; if Enter fails, the function is
// never invoked.
func invokeScoped(ctx context.Context, fn TaskFunc, scope ShutdownScope, args []any, kwargs map[string]any) error {
	if scope == nil {
		return callTask(ctx, fn, args, kwargs)
	}
	if err := scope.Enter(); err != nil {
		return err
	}
	callErr := callTask(ctx, fn, args, kwargs)
	if err := scope.Exit(); err != nil {
		return err
	}
	return callErr
}

// callTask shields the chain from panicking task code, converting the panic
// into a captured fault so the shutdown scope's Exit and the middleware
// unwind still run.
func callTask(ctx context.Context, fn TaskFunc, args []any, kwargs map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicFault(r)
		}
	}()
	return fn(ctx, args, kwargs)
}

// finish runs the outcome-processing phase over every live middleware
// instance in reverse registration order, threading the fault state
// through, then classifies the final state. The first-registered (most
// outer) middleware is processed last and has final say over the terminal
// outcome.
func (e *Executor) finish(ctx context.Context, task *Task, entries []chainEntry, fault *Fault) Outcome {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].mw == nil {
			continue
		}
		fault = safeProcessOutcome(ctx, entries[i].mw, task, fault)
	}
	return Classify(fault)
}

// safeProcessOutcome treats a panic inside ProcessOutcome as a replacement
// of the fault state, mirroring the replacement return.
func safeProcessOutcome(ctx context.Context, mw Middleware, task *Task, f *Fault) (out *Fault) {
	defer func() {
		if r := recover(); r != nil {
			out = panicFault(r)
		}
	}()
	return mw.ProcessOutcome(ctx, task, f)
}

// panicFault converts a recovered panic value into a captured fault. The
// stack is taken while the panic is still unwinding, so it includes the
// panic site.
func panicFault(r any) *Fault {
	if err, ok := r.(error); ok {
		return asFault(err)
	}
	return NewFault(&PanicError{Value: r})
}
