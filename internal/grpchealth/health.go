// Package grpchealth serves the standard gRPC health protocol for the gate.
// Each registered component is re-probed on an interval.  The empty service
// name and "gate" report SERVING only while every component does.
package grpchealth

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const DefaultInterval = 5 * time.Second

// Overall is the named alias of the aggregate status.
const Overall = "gate"

// Probe reports whether a component is usable right now.
type Probe func(ctx context.Context) bool

type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	probes   map[string]Probe
	names    []string
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	last map[string]bool
}

func New(probes map[string]Probe, interval time.Duration, logger *zap.Logger) *Server {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		probes:   probes,
		names:    names,
		interval: interval,
		logger:   logger,
		last:     make(map[string]bool, len(probes)),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(Overall, healthpb.HealthCheckResponse_NOT_SERVING)
	for _, name := range names {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Serve blocks serving gRPC on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Run probes immediately and then every interval until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.Check(ctx)
	ticker := time.NewTicker(s.interval)
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

// Check runs every probe once and publishes the results.
func (s *Server) Check(ctx context.Context) {
	all := true
	for _, name := range s.names {
		ok := s.probes[name](ctx)
		all = all && ok
		s.publish(name, ok)
	}
	s.publish(Overall, all)
	s.health.SetServingStatus("", servingStatus(all))
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (s *Server) publish(name string, ok bool) {
	s.mu.Lock()
	prev, seen := s.last[name]
	s.last[name] = ok
	s.mu.Unlock()

	status := servingStatus(ok)
	s.health.SetServingStatus(name, status)
	if !seen || prev != ok {
		s.logger.Info("health changed", zap.String("service", name), zap.Stringer("status", status))
	}
}

// Stop marks everything NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
