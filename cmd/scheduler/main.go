// Command scheduler runs the periodic-task scheduler: it converts cron
// rules into pending tasks until terminated by SIGINT/SIGTERM. Exactly the
// registered workers execute the created tasks; the scheduler itself never
// runs task code.
//
// Deployments are expected to build their own scheduler binary registering
// their recurring rules; the entries below are a reference wiring.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

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

	scheduler, err := redistasks.NewScheduler(storage,
		redistasks.WithCheckInterval(cfg.SchedulerInterval),
		redistasks.WithSchedulerLogger(logger),
	)
	if err != nil {
		return err
	}

	if err := scheduler.AddTask("system.heartbeat", redistasks.MustCron("* * * * *")); err != nil {
		return err
	}

	if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
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
