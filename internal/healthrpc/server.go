// Package healthrpc serves the standard gRPC health protocol for a node.
package healthrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/robomesh/pkg/meshnode"
)

// ServiceName is the service whose status mirrors the node's health. The
// empty service name reports the same status.
const ServiceName = "robomesh.MeshNode"

// DefaultInterval is how often the node's health is sampled
const DefaultInterval = 2 * time.Second

// Checker reports node health
type Checker interface {
	Health(ctx context.Context) (meshnode.HealthStatus, error)
}

// Server exposes a Checker over grpc.health.v1
type Server struct {
	address  string
	checker  Checker
	interval time.Duration
	logger   *slog.Logger

	health *health.Server
	grpc   *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a health server listening on address once started
func NewServer(address string, checker Checker, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		address:  address,
		checker:  checker,
		interval: interval,
		logger:   logger.With("component", "healthrpc"),
		health:   health.NewServer(),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Start listens and begins sampling the checker
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("health server already started")
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.listener = l
	s.grpc = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.Refresh(ctx)

	pollCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.grpc.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("Health server stopped", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.Refresh(pollCtx)
			}
		}
	}()

	s.logger.Info("Serving gRPC health", "address", l.Addr().String())
	return nil
}

// Refresh samples the checker once and publishes the result
func (s *Server) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	hs, err := s.checker.Health(ctx)
	if err != nil || !hs.Healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and shuts the server down
func (s *Server) Stop() {
	s.mu.Lock()
	gs, cancel := s.grpc, s.cancel
	s.mu.Unlock()

	s.health.Shutdown()
	if cancel != nil {
		cancel()
	}
	if gs != nil {
		gs.GracefulStop()
	}
	s.wg.Wait()
}
