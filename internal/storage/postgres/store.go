package postgres

import (
	"context"
	"log/slog"

	"github.com/jkaninda/agent42/internal/agent"
	"github.com/jkaninda/agent42/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pgDB  *DB
	audit *AuditRepository
}

// OpenStore connects to PostgreSQL and wraps the connection as a Store.
func OpenStore(cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// NewStore wraps an existing DB as a Store.
func NewStore(pgDB *DB) *Store {
	return &Store{
		pgDB:  pgDB,
		audit: NewAuditRepository(pgDB.GormDB()),
	}
}

func (s *Store) RecordToolExecution(ctx context.Context, exec *agent.ToolExecution) error {
	return s.audit.RecordToolExecution(ctx, exec)
}

func (s *Store) ListToolExecutions(ctx context.Context, sessionID string, limit int) ([]agent.ToolExecution, error) {
	return s.audit.Query(ctx, sessionID, limit)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Migrate(_ context.Context) error {
	// PostgreSQL migration is done in Open() via autoMigrate.
	return nil
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
