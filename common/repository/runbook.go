package repository

import (
	"context"
	"fmt"

	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/models"
)

// RunbookRepository persists operator runbooks
type RunbookRepository struct {
	db *db.DB
}

// NewRunbookRepository creates a new runbook repository
func NewRunbookRepository(database *db.DB) *RunbookRepository {
	return &RunbookRepository{db: database}
}

// Upsert writes a runbook keyed by execution_id
func (r *RunbookRepository) Upsert(ctx context.Context, rb *models.ExecutionRunbook) error {
	query := `
		INSERT INTO execution_runbook
			(id, execution_id, workspace_id, severity, title, steps, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (execution_id) DO UPDATE
		SET severity = EXCLUDED.severity,
		    title = EXCLUDED.title,
		    steps = EXCLUDED.steps,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Exec(ctx, query,
		rb.ID, rb.ExecutionID, rb.WorkspaceID, rb.Severity, rb.Title, rb.Steps,
		rb.Status, rb.CreatedAt, rb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert runbook: %w", err)
	}
	return nil
}
