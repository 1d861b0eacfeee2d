// Package grpc serves the standard gRPC health protocol for the build
// orchestrator, reflecting the state of its dependencies.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/narvanalabs/conflux-builder/internal/api/health"
)

// ServiceName is the health service name of the orchestrator. The empty
// name reports the same status for the whole server.
const ServiceName = "conflux.builder.Orchestrator"

// Config holds the gRPC server configuration.
type Config struct {
	Port                 int
	MaxConcurrentStreams uint32
	KeepaliveTime        time.Duration
	KeepaliveTimeout     time.Duration
	// CheckInterval is how often dependency health is re-evaluated.
	CheckInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:                 9090,
		MaxConcurrentStreams: 100,
		KeepaliveTime:        30 * time.Second,
		KeepaliveTimeout:     10 * time.Second,
		CheckInterval:        15 * time.Second,
	}
}

// HealthChecker reports the health of the orchestrator's dependencies.
type HealthChecker interface {
	Check(ctx context.Context) *health.Response
}

// Server serves grpc.health.v1.Health.
type Server struct {
	config  *Config
	checker HealthChecker
	logger  *slog.Logger

	grpcServer *grpc.Server
	health     *grpchealth.Server

	serving  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewServer creates a new gRPC server instance. checker may be nil, in
// which case the server reports SERVING while it runs.
func NewServer(cfg *Config, checker HealthChecker, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		checker: checker,
		logger:  logger,
		health:  grpchealth.NewServer(),
		stopCh:  make(chan struct{}),
	}

	s.grpcServer = grpc.NewServer(s.buildServerOptions()...)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

// buildServerOptions constructs the gRPC server options.
func (s *Server) buildServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxConcurrentStreams(s.config.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.config.KeepaliveTime,
			Timeout: s.config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(s.loggingInterceptor()),
		grpc.ChainStreamInterceptor(s.streamLoggingInterceptor()),
	}
}

// Start listens on the configured port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done or GracefulStop is called.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.serving.Store(true)
	s.refresh(ctx)
	go s.watch(ctx)

	go func() {
		select {
		case <-ctx.Done():
			s.GracefulStop()
		case <-s.stopCh:
		}
	}()

	s.logger.Info("gRPC health server starting", "address", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("serving gRPC: %w", err)
	}
	return nil
}

// GracefulStop reports NOT_SERVING to watchers and waits for in-flight
// RPCs to finish.
func (s *Server) GracefulStop() {
	s.stopOnce.Do(func() {
		s.serving.Store(false)
		close(s.stopCh)
		s.health.Shutdown()
		s.logger.Info("gRPC health server stopping")
		s.grpcServer.GracefulStop()
	})
}

// IsServing returns whether the server is currently serving requests.
func (s *Server) IsServing() bool {
	return s.serving.Load()
}
