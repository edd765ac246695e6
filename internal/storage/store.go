// Package storage defines the Store interface behind the tool-execution audit trail.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
package storage

import (
	"context"

	"github.com/jkaninda/agent42/internal/agent"
)

// Store persists one row per dispatched tool call.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	agent.AuditRecorder

	// ListToolExecutions returns executions newest first. An empty sessionID
	// lists every session. Limit defaults to 100.
	ListToolExecutions(ctx context.Context, sessionID string, limit int) ([]agent.ToolExecution, error)

	// Ping checks the connection for readiness checks.
	Ping(ctx context.Context) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// DriverNone disables the audit trail.
const DriverNone = "none"
