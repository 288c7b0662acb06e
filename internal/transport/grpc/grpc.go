// Package grpc implements the gRPC transport for ttsyard.
//
// The transport serves the standard grpc.health.v1.Health service, so
// orchestrators that probe over gRPC see the same readiness as /readyz, and
// server reflection for tooling such as grpcurl.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the server-wide status.
const ServiceName = "ttsyard"

const pollInterval = time.Second

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port   int
	ready  func() bool
	health *health.Server

	mu     sync.Mutex
	server *grpc.Server
}

// New creates a new gRPC transport on the given port. ready reports whether
// the synthesis pipeline is loaded.
func New(port int, ready func() bool) *Transport {
	return &Transport{
		port:   port,
		ready:  ready,
		health: health.NewServer(),
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server and blocks until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return t.Serve(ctx, lis)
}

// Serve runs the gRPC server on lis.
func (t *Transport) Serve(ctx context.Context, lis net.Listener) error {
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, t.health)
	reflection.Register(server)

	t.mu.Lock()
	t.server = server
	t.mu.Unlock()

	t.sync()
	go t.watch(ctx)

	slog.Info("grpc transport listening", "addr", lis.Addr().String())

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		t.health.Shutdown()
		server.GracefulStop()
	}()

	return server.Serve(lis)
}

func (t *Transport) watch(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sync()
		}
	}
}

// sync copies pipeline readiness into the health service.
func (t *Transport) sync() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if t.ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	t.health.SetServingStatus("", status)
	t.health.SetServingStatus(ServiceName, status)
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()
	if server != nil {
		server.GracefulStop()
	}
	return nil
}
