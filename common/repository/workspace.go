package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/models"
)

// WorkspaceRepository handles database operations for workspaces
type WorkspaceRepository struct {
	db *db.DB
}

// NewWorkspaceRepository creates a new workspace repository
func NewWorkspaceRepository(database *db.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: database}
}

// GetPolicy loads a workspace's policy. A workspace without a policy
// row returns nil, which the policy engine treats as unrestricted.
func (r *WorkspaceRepository) GetPolicy(ctx context.Context, workspaceID uuid.UUID) (*models.WorkspacePolicy, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT policy FROM workspaces WHERE id = $1`,
		workspaceID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewCodedError(models.CodeNotFound, fmt.Sprintf("workspace %s not found", workspaceID))
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace policy: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var policy models.WorkspacePolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return nil, fmt.Errorf("decode workspace policy: %w", err)
	}
	policy.WorkspaceID = workspaceID

	return &policy, nil
}

// SetPolicy stores a workspace's policy
func (r *WorkspaceRepository) SetPolicy(ctx context.Context, workspaceID uuid.UUID, policy *models.WorkspacePolicy) error {
	raw, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("encode workspace policy: %w", err)
	}

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE workspaces SET policy = $2 WHERE id = $1`,
		workspaceID, raw,
	)
	if err != nil {
		return fmt.Errorf("set workspace policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewCodedError(models.CodeNotFound, fmt.Sprintf("workspace %s not found", workspaceID))
	}
	return nil
}
