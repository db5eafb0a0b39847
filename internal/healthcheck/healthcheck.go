// Package healthcheck exposes the standard gRPC health service, driven by
// a periodic dependency probe.
package healthcheck

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported alongside the overall "" status.
const ServiceName = "snaplist.Chat"

const (
	probeTimeout = 2 * time.Second
	stopTimeout  = 5 * time.Second
)

// Probe checks a dependency; a nil error means healthy.
type Probe func(ctx context.Context) error

// Server runs grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	probe  Probe
	logger *slog.Logger

	mu      sync.Mutex
	serving bool
}

// NewServer creates a health server. Status starts NOT_SERVING until the
// first probe succeeds.
func NewServer(probe Probe, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, probe: probe, logger: logger}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Check runs the probe once and publishes the result.
func (s *Server) Check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	err := s.probe(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	healthy := err == nil
	if healthy == s.serving {
		return
	}
	s.serving = healthy
	if healthy {
		s.logger.Info("Health probe recovered")
		s.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	s.logger.Warn("Health probe failed", "error", err)
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Run probes every interval until ctx is cancelled.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls. Open
// Watch streams are cut after stopTimeout.
func (s *Server) Stop() {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.grpc.Stop()
	}
}
