package grpc

import (
	"context"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/narvanalabs/conflux-builder/internal/api/health"
)

// watch re-evaluates dependency health until the server stops.
func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// refresh maps the dependency check onto the gRPC serving status. A
// degraded service still serves.
func (s *Server) refresh(ctx context.Context) {
	if !s.serving.Load() {
		return
	}
	if s.checker == nil {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
		return
	}

	resp := s.checker.Check(ctx)
	if resp.Status == health.StatusUnhealthy {
		s.logger.Warn("health check failed, reporting NOT_SERVING", "components", resp.Components)
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
