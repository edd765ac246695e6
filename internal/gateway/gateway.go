// Package gateway defines the interface for user-facing entry points.
package gateway

import "context"

// Gateway is a user-facing entry point (the interactive REPL or the ops HTTP server).
type Gateway interface {
	// Start runs the gateway and blocks until it exits or the context is
	// canceled. Returns an error only on failure.
	Start(ctx context.Context) error

	// Stop performs graceful shutdown. The context carries a deadline
	// for the grace period.
	Stop(ctx context.Context) error
}
