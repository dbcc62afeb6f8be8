package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/models"
)

// ExecutionNodeRepository handles per-node execution records
type ExecutionNodeRepository struct {
	db *db.DB
}

// NewExecutionNodeRepository creates a new execution node repository
func NewExecutionNodeRepository(database *db.DB) *ExecutionNodeRepository {
	return &ExecutionNodeRepository{db: database}
}

const executionNodeColumns = `
	id, execution_id, node_id, node_type, status, sequence,
	started_at, finished_at, duration_ms, input_data, output_data, error`

// CreateBatch inserts the node records produced by one execution
func (r *ExecutionNodeRepository) CreateBatch(ctx context.Context, nodes []*models.ExecutionNode) error {
	if len(nodes) == 0 {
		return nil
	}

	query := `
		INSERT INTO execution_node (` + executionNodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	for _, n := range nodes {
		_, err := r.db.Exec(ctx, query,
			n.ID, n.ExecutionID, n.NodeID, n.NodeType, n.Status, n.Sequence,
			n.StartedAt, n.FinishedAt, n.DurationMS, n.InputData, n.OutputData,
			nullString(n.Error),
		)
		if err != nil {
			return fmt.Errorf("failed to create execution node %s: %w", n.NodeID, err)
		}
	}
	return nil
}

// ListByExecution returns the node records of an execution in sequence order
func (r *ExecutionNodeRepository) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionNode, error) {
	query := `
		SELECT ` + executionNodeColumns + `
		FROM execution_node
		WHERE execution_id = $1
		ORDER BY sequence
	`

	rows, err := r.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.ExecutionNode
	for rows.Next() {
		n := &models.ExecutionNode{}
		var errMsg *string
		err := rows.Scan(
			&n.ID, &n.ExecutionID, &n.NodeID, &n.NodeType, &n.Status, &n.Sequence,
			&n.StartedAt, &n.FinishedAt, &n.DurationMS, &n.InputData, &n.OutputData,
			&errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution node: %w", err)
		}
		n.Error = derefString(errMsg)
		nodes = append(nodes, n)
	}

	return nodes, rows.Err()
}
