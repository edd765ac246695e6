package postgres

import (
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/agent42/internal/agent"
	"github.com/jkaninda/agent42/internal/tools"
)

// ToolExecutionModel maps to the "tool_executions" table.
// No UpdatedAt or DeletedAt: the audit trail is append-only.
type ToolExecutionModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID  string    `gorm:"not null;index"`
	ToolCallID string    `gorm:"not null"`
	Tool       string    `gorm:"not null;index"`
	// Arguments are stored as text: models occasionally emit invalid JSON.
	Arguments  string `gorm:"type:text"`
	Status     string `gorm:"not null"`
	IsError    bool   `gorm:"not null;default:false"`
	Output     string `gorm:"type:text"`
	DurationMS int64
	StartedAt  time.Time
	CreatedAt  time.Time `gorm:"index"`
}

func (ToolExecutionModel) TableName() string { return "tool_executions" }

// Models lists every table, in migration order.
func Models() []any {
	return []any{&ToolExecutionModel{}}
}

func toToolExecutionModel(exec *agent.ToolExecution) ToolExecutionModel {
	return ToolExecutionModel{
		ID:         uuid.New(),
		SessionID:  exec.SessionID,
		ToolCallID: exec.ToolCallID,
		Tool:       exec.Tool,
		Arguments:  exec.Arguments,
		Status:     string(exec.Status),
		IsError:    exec.IsError,
		Output:     exec.Output,
		DurationMS: exec.Duration.Milliseconds(),
		StartedAt:  exec.StartedAt.UTC(),
	}
}

func toToolExecutionDomain(m *ToolExecutionModel) agent.ToolExecution {
	return agent.ToolExecution{
		SessionID:  m.SessionID,
		ToolCallID: m.ToolCallID,
		Tool:       m.Tool,
		Arguments:  m.Arguments,
		Status:     tools.Status(m.Status),
		IsError:    m.IsError,
		Output:     m.Output,
		Duration:   time.Duration(m.DurationMS) * time.Millisecond,
		StartedAt:  m.StartedAt,
	}
}
