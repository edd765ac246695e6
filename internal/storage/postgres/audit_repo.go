package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jkaninda/agent42/internal/agent"
)

// AuditRepository implements the tool-execution audit trail with GORM.
// Append-only: no Update or Delete methods exist on this type.
// It works on any GORM dialect; the SQLite store reuses it.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordToolExecution inserts a single execution row.
func (r *AuditRepository) RecordToolExecution(ctx context.Context, exec *agent.ToolExecution) error {
	model := toToolExecutionModel(exec)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("recording tool execution: %w", err)
	}
	return nil
}

// Query returns executions newest first by start time.
// If sessionID is non-empty, filters to that session. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, sessionID string, limit int) ([]agent.ToolExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Order("started_at DESC").
		Order("created_at DESC").
		Limit(limit)

	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}

	var models []ToolExecutionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying tool executions: %w", err)
	}

	execs := make([]agent.ToolExecution, len(models))
	for i := range models {
		execs[i] = toToolExecutionDomain(&models[i])
	}
	return execs, nil
}
