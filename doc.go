// Package redistasks is a distributed job-queue runtime: producers enqueue
// units of work identified by a function reference plus arguments, worker
// processes claim and execute them, and a scheduler turns recurring rules
// into tasks at runtime.
//
// The package is organised around four main components:
//
//   - Executor   — runs one task through the middleware chain and classifies
//     the result into a Success/Aborted/Failed Outcome
//   - Enqueuer   — adds one-time tasks to the queue
//   - Scheduler  — converts Schedule definitions into tasks at runtime
//   - Worker     — claims pending tasks and hands them to the Executor
//
// Components interact only through a set of small repository interfaces,
// keeping the business logic decoupled from persistence. RedisStorage is the
// production backend; MemoryStorage backs tests and local development.
//
// # Execution pipeline
//
// Task functions are registered by name in a Registry and resolved lazily at
// execution time, so tasks can be persisted and survive process boundaries
// without holding live code references:
//
//	registry := redistasks.NewRegistry()
//	registry.MustRegister("emails.send_welcome", func(ctx context.Context, args []any, kwargs map[string]any) error {
//	    // ...
//	    return nil
//	})
//
//	executor, _ := redistasks.NewExecutor(registry,
//	    redistasks.WithMiddleware(redistasks.NewLoggingMiddleware(logger)),
//	)
//
// Executor.Execute never fails itself: panics, resolution failures and
// middleware faults are all converted into an Outcome value the worker acts
// on. Middleware wraps the invocation (RunTask) and post-processes the
// terminal fault state (ProcessOutcome); a shutdown scope supplied by the
// worker brackets only the raw function call, so middleware never observes
// the worker as mid-shutdown.
//
// # Queueing
//
//	e, _ := redistasks.NewEnqueuer(storage)
//	_ = e.Enqueue(ctx, "emails.send_welcome",
//	    []any{userID}, nil,
//	    redistasks.WithDelay(time.Minute),
//	)
//
// Periodic job:
//
//	s, _ := redistasks.NewScheduler(storage)
//	_ = s.AddTask("sessions.cleanup", redistasks.MustCron("0 2 * * *"))
//	go s.Start(ctx)
//
// # Error handling
//
// Package-level sentinel errors (e.g. ErrRepositoryNil, ErrNoTaskToClaim)
// signal violations of business invariants and can be checked with
// errors.Is. Execution results are reported through Outcome values, never
// through errors: Failed outcomes carry a trace whose final line has the
// fixed shape "<FaultKind>: <detail>", and an aborted shutdown carries the
// message "Worker shutdown". Both strings are relied on by log tooling.
package redistasks
