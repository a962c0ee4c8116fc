// Package grpc serves the standard gRPC health protocol for operators and
// load balancers. The overall status is SERVING only while every registered
// probe passes.
package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "keepsake.v1.Keepsake"

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

type HealthServer struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger
	health   *health.Server

	mu     sync.Mutex
	probes map[string]Probe
	failed map[string]bool
}

func NewHealthServer(address string, interval time.Duration, l logging.Logger) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{
		address:  address,
		interval: interval,
		timeout:  interval / 2,
		logger:   l.With("module", "grpc_health"),
		health:   hs,
		probes:   make(map[string]Probe),
		failed:   make(map[string]bool),
	}
}

// AddProbe registers a named dependency check. Call before Run.
func (s *HealthServer) AddProbe(name string, p Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[name] = p
}

// Check runs every probe once and updates the published status.
func (s *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	s.mu.Lock()
	probes := make(map[string]Probe, len(s.probes))
	for k, v := range s.probes {
		probes[k] = v
	}
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	for name, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := p(pctx)
		cancel()

		s.mu.Lock()
		was := s.failed[name]
		s.failed[name] = err != nil
		s.mu.Unlock()

		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if !was {
				s.logger.Warn(ctx, "health probe failing", "probe", name, "error", err)
			}
		} else if was {
			s.logger.Info(ctx, "health probe recovered", "probe", name)
		}
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

func (s *HealthServer) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	s.Check(ctx)

	go func() {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info(ctx, "Stopping gRPC health server...")
				s.health.Shutdown()
				srv.GracefulStop()
				return
			case <-t.C:
				s.Check(ctx)
			}
		}
	}()

	s.logger.Info(ctx, "Starting gRPC health server", "address", s.address)

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
