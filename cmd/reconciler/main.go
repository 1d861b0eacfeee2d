// Package main provides the entry point for the standalone reconciler. It
// runs only the reconciliation poller, for deployments where the API is
// served by other replicas.
package main

import (
	"context"
	"errors"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/narvanalabs/conflux-builder/internal/app"
	"github.com/narvanalabs/conflux-builder/internal/shutdown"
	"github.com/narvanalabs/conflux-builder/pkg/config"
	"github.com/narvanalabs/conflux-builder/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Default().Error("the reconciler needs a shared store, STORE_DRIVER=memory is not supported")
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogFormat != "text").WithComponent("reconciler")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("store", a.Store))
	coordinator.Register(shutdown.NewStopperComponent("poller", a.Poller))

	// Catch up before the first tick.
	if err := a.Poller.Reconcile(ctx); err != nil {
		log.Error("initial reconciliation failed", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Poller.Start(ctx)
	}()

	log.Info("reconciler started", "interval", cfg.Poller.Interval, "concurrency", cfg.Poller.Concurrency)
	coordinator.WaitForSignal(ctx)
	cancel()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("poller error", "error", err)
		os.Exit(1)
	}

	log.Info("reconciler stopped")
	os.Exit(coordinator.ExitCode())
}
