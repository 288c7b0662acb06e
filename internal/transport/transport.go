// Package transport defines the interface for the network surfaces ttsyard
// serves on.
//
// Each transport (HTTP API, gRPC health) implements this interface and is
// started and stopped by the daemon in the same way.
package transport

import "context"

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "http", "grpc").
	Name() string

	// Listen starts serving. It blocks until the context is cancelled or the
	// transport fails.
	Listen(ctx context.Context) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}
