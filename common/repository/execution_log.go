package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/models"
)

// ExecutionLogRepository handles the append-only execution log
type ExecutionLogRepository struct {
	db *db.DB
}

// NewExecutionLogRepository creates a new execution log repository
func NewExecutionLogRepository(database *db.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: database}
}

// Append writes log lines. Logs are never updated or deleted.
func (r *ExecutionLogRepository) Append(ctx context.Context, logs []*models.ExecutionLog) error {
	query := `
		INSERT INTO execution_log (id, execution_id, execution_node_id, level, message, context, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, l := range logs {
		_, err := r.db.Exec(ctx, query,
			l.ID, l.ExecutionID, l.ExecutionNodeID, l.Level, l.Message, l.Context, l.LoggedAt)
		if err != nil {
			return fmt.Errorf("failed to append execution log: %w", err)
		}
	}
	return nil
}

// ListByExecution returns an execution's log lines in logged order
func (r *ExecutionLogRepository) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionLog, error) {
	query := `
		SELECT id, execution_id, execution_node_id, level, message, context, logged_at
		FROM execution_log
		WHERE execution_id = $1
		ORDER BY logged_at
	`

	rows, err := r.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ExecutionLog
	for rows.Next() {
		l := &models.ExecutionLog{}
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.ExecutionNodeID, &l.Level, &l.Message, &l.Context, &l.LoggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		logs = append(logs, l)
	}

	return logs, rows.Err()
}
