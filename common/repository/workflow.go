package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/models"
)

// WorkflowRepository handles database operations for workflows
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// GetByID retrieves a workflow by id, excluding soft-deleted rows
func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, workspace_id, name, is_active, is_locked, trigger_type,
		       trigger_config, nodes, edges, settings, created_at, updated_at
		FROM workflow
		WHERE id = $1 AND deleted_at IS NULL
	`

	w := &models.Workflow{}
	var nodesJSON, edgesJSON, settingsJSON []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&w.ID, &w.WorkspaceID, &w.Name, &w.IsActive, &w.IsLocked, &w.TriggerType,
		&w.TriggerConfig, &nodesJSON, &edgesJSON, &settingsJSON, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.WrapCoded(models.CodeNotFound, fmt.Sprintf("workflow %s", id), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &w.Nodes); err != nil {
		return nil, fmt.Errorf("failed to decode workflow nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &w.Edges); err != nil {
		return nil, fmt.Errorf("failed to decode workflow edges: %w", err)
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &w.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode workflow settings: %w", err)
		}
	}

	return w, nil
}

// SoftDelete marks a workflow deleted while preserving its executions
func (r *WorkflowRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE workflow SET deleted_at = $2, is_active = false WHERE id = $1 AND deleted_at IS NULL`
	if _, err := r.db.Exec(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to soft delete workflow: %w", err)
	}
	return nil
}

// CreateVersion snapshots the workflow with the next monotone version number
func (r *WorkflowRepository) CreateVersion(ctx context.Context, w *models.Workflow) (*models.WorkflowVersion, error) {
	nodesJSON, err := json.Marshal(w.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(w.Edges)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow edges: %w", err)
	}
	settingsJSON, err := json.Marshal(w.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow settings: %w", err)
	}

	query := `
		INSERT INTO workflow_version (id, workflow_id, version_number, nodes, edges, settings, created_at)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(version_number), 0) + 1 FROM workflow_version WHERE workflow_id = $2),
			$3, $4, $5, $6)
		RETURNING version_number
	`

	v := &models.WorkflowVersion{
		ID:         uuid.New(),
		WorkflowID: w.ID,
		Nodes:      w.Nodes,
		Edges:      w.Edges,
		Settings:   w.Settings,
		CreatedAt:  time.Now().UTC(),
	}

	err = r.db.QueryRow(ctx, query, v.ID, w.ID, nodesJSON, edgesJSON, settingsJSON, v.CreatedAt).
		Scan(&v.VersionNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow version: %w", err)
	}

	return v, nil
}
