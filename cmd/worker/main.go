// Command worker runs a queue worker process: it connects to Redis, claims
// pending tasks and executes them until terminated by SIGINT/SIGTERM.
//
// Deployments are expected to build their own worker binary registering
// their task functions; the registrations below are a reference wiring.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/redistasks/redistasks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := redistasks.LoadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := redistasks.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	storage, err := redistasks.NewRedisStorage(client)
	if err != nil {
		return err
	}

	registry := redistasks.NewRegistry()
	registerTasks(registry, logger)

	executor, err := redistasks.NewExecutor(registry,
		redistasks.WithMiddleware(redistasks.NewLoggingMiddleware(logger)),
	)
	if err != nil {
		return err
	}

	opts := []redistasks.WorkerOption{
		redistasks.WithQueues(cfg.Queues...),
		redistasks.WithPullInterval(cfg.PollInterval),
		redistasks.WithLockTimeout(cfg.LockTimeout),
		redistasks.WithShutdownTimeout(cfg.ShutdownTimeout),
		redistasks.WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		redistasks.WithWorkerLogger(logger),
	}

	if cfg.HistoryDSN != "" {
		db, err := sql.Open("sqlite", cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer db.Close()

		history, err := redistasks.NewSQLHistory(ctx, db)
		if err != nil {
			return err
		}
		opts = append(opts, redistasks.WithHistory(history))
	}

	worker, err := redistasks.NewWorker(storage, executor, opts...)
	if err != nil {
		return err
	}

	return worker.Run(ctx)()
}

// registerTasks wires the task functions this worker can execute.
func registerTasks(registry *redistasks.Registry, logger *slog.Logger) {
	registry.MustRegister("system.heartbeat", func(ctx context.Context, args []any, kwargs map[string]any) error {
		logger.InfoContext(ctx, "heartbeat")
		return nil
	})
}

func newLogger(cfg redistasks.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
