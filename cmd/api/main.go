// Package main provides the entry point for the API server. It serves the
// HTTP API, the gRPC health service and runs the reconciliation poller.
package main

import (
	"context"
	"errors"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/narvanalabs/conflux-builder/internal/api"
	"github.com/narvanalabs/conflux-builder/internal/app"
	"github.com/narvanalabs/conflux-builder/internal/grpc"
	"github.com/narvanalabs/conflux-builder/internal/shutdown"
	"github.com/narvanalabs/conflux-builder/pkg/config"
	"github.com/narvanalabs/conflux-builder/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogFormat != "text").WithComponent("api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg, a.APIServices(), log.Logger)
	grpcCfg := grpc.DefaultConfig()
	grpcCfg.Port = cfg.GRPCPort
	grpcServer := grpc.NewServer(grpcCfg, a.Health, log.Logger)

	// Components are shut down in reverse order: HTTP first, store last.
	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("store", a.Store))
	coordinator.Register(shutdown.NewStopperComponent("poller", a.Poller))
	coordinator.Register(shutdown.NewGRPCServerComponent("grpc", grpcServer))
	coordinator.Register(shutdown.NewFuncComponent("http", server.Shutdown))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return grpcServer.Start(gctx) })
	g.Go(func() error {
		if err := a.Poller.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	log.Info("build orchestrator started",
		"host", cfg.APIHost,
		"port", cfg.APIPort,
		"grpc_port", cfg.GRPCPort,
		"builder_repo", cfg.Builder.BuilderRepo,
	)

	coordinator.WaitForSignal(gctx)
	cancel()

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
	os.Exit(coordinator.ExitCode())
}
