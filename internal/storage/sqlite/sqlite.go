// Package sqlite implements the audit Store using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
//
// Differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent reads
//   - No connection pooling (single file, WAL handles concurrency)
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/jkaninda/agent42/internal/agent"
	"github.com/jkaninda/agent42/internal/storage"
	pgstore "github.com/jkaninda/agent42/internal/storage/postgres"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// Store implements storage.Store backed by SQLite.
// The repository is shared with the PostgreSQL backend: both operate on the
// same GORM models and GORM's SQLite dialect handles the SQL differences.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string
	audit  *pgstore.AuditRepository
}

// Open creates a new SQLite-backed Store. Call Migrate before first use.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	// Build DSN with pragmas.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)", cfg.Path, journalMode)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  pgstore.NewGormLogger(slogger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slogger,
		path:   cfg.Path,
		audit:  pgstore.NewAuditRepository(db),
	}

	slogger.Info("sqlite audit store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return s, nil
}

// Migrate runs GORM AutoMigrate with the PostgreSQL backend's models.
func (s *Store) Migrate(_ context.Context) error {
	if err := s.db.AutoMigrate(pgstore.Models()...); err != nil {
		return fmt.Errorf("migrating %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) RecordToolExecution(ctx context.Context, exec *agent.ToolExecution) error {
	return s.audit.RecordToolExecution(ctx, exec)
}

func (s *Store) ListToolExecutions(ctx context.Context, sessionID string, limit int) ([]agent.ToolExecution, error) {
	return s.audit.Query(ctx, sessionID, limit)
}

// Ping checks that the database file is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
