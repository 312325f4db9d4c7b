package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"release_notifier/internal/app"
	"release_notifier/internal/config"
	"release_notifier/internal/scheduler"
)

// Headroom on top of the execution budget for the final checkpoint write.
const runTimeoutMargin = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := app.NewLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = app.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	sched := scheduler.NewScheduler(
		a.Runner,
		cfg.Job.CronSecret,
		cfg.Job.Interval,
		cfg.Job.MaxExecutionTime+runTimeoutMargin,
		logger,
	)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting release checker",
		"job", cfg.Job.Name,
		"interval", cfg.Job.Interval,
		"users_per_batch", cfg.Job.UsersPerBatch,
	)

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}
