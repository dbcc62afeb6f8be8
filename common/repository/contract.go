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

// ContractSnapshotRepository persists content-addressed contract snapshots
type ContractSnapshotRepository struct {
	db *db.DB
}

// NewContractSnapshotRepository creates a new contract snapshot repository
func NewContractSnapshotRepository(database *db.DB) *ContractSnapshotRepository {
	return &ContractSnapshotRepository{db: database}
}

// GetByHash returns the snapshot for (workflow_id, graph_hash), nil when absent
func (r *ContractSnapshotRepository) GetByHash(ctx context.Context, workflowID uuid.UUID, graphHash string) (*models.WorkflowContractSnapshot, error) {
	query := `
		SELECT id, workflow_id, workflow_version_id, graph_hash, status, contracts, issues, created_at
		FROM workflow_contract_snapshot
		WHERE workflow_id = $1 AND graph_hash = $2
	`

	s := &models.WorkflowContractSnapshot{}
	var contractsJSON, issuesJSON []byte
	err := r.db.QueryRow(ctx, query, workflowID, graphHash).Scan(
		&s.ID, &s.WorkflowID, &s.WorkflowVersionID, &s.GraphHash, &s.Status,
		&contractsJSON, &issuesJSON, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contract snapshot: %w", err)
	}

	if err := json.Unmarshal(contractsJSON, &s.Contracts); err != nil {
		return nil, fmt.Errorf("failed to decode contract set: %w", err)
	}
	if len(issuesJSON) > 0 {
		if err := json.Unmarshal(issuesJSON, &s.Issues); err != nil {
			return nil, fmt.Errorf("failed to decode contract issues: %w", err)
		}
	}

	return s, nil
}

// Upsert writes a snapshot, replacing any previous row for the same hash
func (r *ContractSnapshotRepository) Upsert(ctx context.Context, s *models.WorkflowContractSnapshot) error {
	contractsJSON, err := json.Marshal(s.Contracts)
	if err != nil {
		return fmt.Errorf("failed to encode contract set: %w", err)
	}
	issuesJSON, err := json.Marshal(s.Issues)
	if err != nil {
		return fmt.Errorf("failed to encode contract issues: %w", err)
	}

	query := `
		INSERT INTO workflow_contract_snapshot
			(id, workflow_id, workflow_version_id, graph_hash, status, contracts, issues, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id, graph_hash) DO UPDATE
		SET status = EXCLUDED.status,
		    contracts = EXCLUDED.contracts,
		    issues = EXCLUDED.issues
	`

	_, err = r.db.Exec(ctx, query,
		s.ID, s.WorkflowID, s.WorkflowVersionID, s.GraphHash, s.Status,
		contractsJSON, issuesJSON, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert contract snapshot: %w", err)
	}
	return nil
}
