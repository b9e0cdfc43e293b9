package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"

	"Go2NetSentinel/internal/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the detection engine.
const ServiceName = "go2netsentinel.Detection"

// HealthServer exposes grpc.health.v1.Health for the sentinel.
type HealthServer struct {
	addr   string
	health *health.Server
}

// NewHealthServer creates a server that will listen on addr.
func NewHealthServer(addr string) *HealthServer {
	return &HealthServer{addr: addr, health: health.NewServer()}
}

// SetServing flips the overall and detection service status.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve listens on the configured address until ctx is cancelled.
func (s *HealthServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (s *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	s.SetServing(true)
	logging.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.health.Shutdown()
		srv.GracefulStop()
		<-errCh
		return ctx.Err()
	}
}

func (s *HealthServer) String() string { return "grpc-health" }
