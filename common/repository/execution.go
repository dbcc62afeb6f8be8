package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/models"
)

// Querier is satisfied by both the pool and a transaction, so repo
// methods can run inside a caller-owned transaction when needed.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ExecutionRepository handles database operations for executions
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Pool exposes the underlying database for multi-repository transactions
func (r *ExecutionRepository) Pool() *db.DB { return r.db }

const executionColumns = `
	id, workflow_id, workspace_id, status, mode, triggered_by,
	started_at, finished_at, duration_ms, trigger_data, result_data,
	error, attempt, max_attempts, parent_execution_id,
	replay_of_execution_id, is_deterministic_replay, estimated_cost_usd,
	created_at`

// Create inserts a new execution
func (r *ExecutionRepository) Create(ctx context.Context, e *models.Execution) error {
	return r.CreateIn(ctx, r.db.Pool, e)
}

// CreateIn inserts a new execution using the given querier (pool or tx)
func (r *ExecutionRepository) CreateIn(ctx context.Context, q Querier, e *models.Execution) error {
	query := `
		INSERT INTO execution (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := q.Exec(ctx, query,
		e.ID, e.WorkflowID, e.WorkspaceID, e.Status, e.Mode, nullString(e.TriggeredBy),
		e.StartedAt, e.FinishedAt, e.DurationMS, e.TriggerData, e.ResultData,
		nullString(e.Error), e.Attempt, e.MaxAttempts, e.ParentExecutionID,
		e.ReplayOfExecutionID, e.IsDeterministicReplay, e.EstimatedCostUSD,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetByID retrieves an execution by id
func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM execution WHERE id = $1`

	e := &models.Execution{}
	var triggeredBy, errMsg *string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.WorkflowID, &e.WorkspaceID, &e.Status, &e.Mode, &triggeredBy,
		&e.StartedAt, &e.FinishedAt, &e.DurationMS, &e.TriggerData, &e.ResultData,
		&errMsg, &e.Attempt, &e.MaxAttempts, &e.ParentExecutionID,
		&e.ReplayOfExecutionID, &e.IsDeterministicReplay, &e.EstimatedCostUSD,
		&e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.WrapCoded(models.CodeNotFound, fmt.Sprintf("execution %s", id), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	e.TriggeredBy = derefString(triggeredBy)
	e.Error = derefString(errMsg)
	return e, nil
}

// MarkStarted transitions an execution to running
func (r *ExecutionRepository) MarkStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `UPDATE execution SET status = $2, started_at = $3 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, models.ExecutionRunning, startedAt); err != nil {
		return fmt.Errorf("failed to mark execution started: %w", err)
	}
	return nil
}

// Finish writes the terminal status, result and timings of an execution
func (r *ExecutionRepository) Finish(ctx context.Context, e *models.Execution) error {
	query := `
		UPDATE execution
		SET status = $2, finished_at = $3, duration_ms = $4, result_data = $5, error = $6
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query,
		e.ID, e.Status, e.FinishedAt, e.DurationMS, e.ResultData, nullString(e.Error))
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	return nil
}

// UpdateEstimatedCost writes the estimated cost of an execution
func (r *ExecutionRepository) UpdateEstimatedCost(ctx context.Context, id uuid.UUID, costUSD float64) error {
	query := `UPDATE execution SET estimated_cost_usd = $2 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, costUSD); err != nil {
		return fmt.Errorf("failed to update estimated cost: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
