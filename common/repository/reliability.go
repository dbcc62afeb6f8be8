package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/models"
)

// AttemptRepository handles connector call attempt persistence
type AttemptRepository struct {
	db *db.DB
}

// NewAttemptRepository creates a new attempt repository
func NewAttemptRepository(database *db.DB) *AttemptRepository {
	return &AttemptRepository{db: database}
}

const attemptColumns = `
	id, execution_id, execution_node_id, node_id, workspace_id, workflow_id,
	connector_key, connector_operation, provider, attempt_no, is_retry,
	status, status_code, duration_ms, request_fingerprint, idempotency_key,
	error_code, error_message, happened_at`

// InsertBatch writes attempt records. The partial unique index on
// (execution_id, request_fingerprint) WHERE NOT is_retry deduplicates
// first attempts on replay; conflicts are ignored.
func (r *AttemptRepository) InsertBatch(ctx context.Context, attempts []*models.ConnectorCallAttempt) error {
	query := `
		INSERT INTO connector_call_attempt (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT DO NOTHING
	`

	for _, a := range attempts {
		_, err := r.db.Exec(ctx, query,
			a.ID, a.ExecutionID, a.ExecutionNodeID, nullString(a.NodeID), a.WorkspaceID, a.WorkflowID,
			a.ConnectorKey, a.ConnectorOperation, nullString(a.Provider), a.AttemptNo, a.IsRetry,
			a.Status, a.StatusCode, a.DurationMS, a.RequestFingerprint, nullString(a.IdempotencyKey),
			nullString(a.ErrorCode), nullString(a.ErrorMessage), a.HappenedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert attempt: %w", err)
		}
	}
	return nil
}

// AttemptFilters narrows live metric queries
type AttemptFilters struct {
	ConnectorKey string
	Since        time.Time
}

// ListByWorkspace returns a workspace's attempts matching the filters
func (r *AttemptRepository) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, filters AttemptFilters) ([]*models.ConnectorCallAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM connector_call_attempt
		WHERE workspace_id = $1 AND happened_at >= $2
	`
	args := []any{workspaceID, filters.Since}
	if filters.ConnectorKey != "" {
		query += ` AND connector_key = $3`
		args = append(args, filters.ConnectorKey)
	}
	query += ` ORDER BY happened_at`

	return r.list(ctx, query, args...)
}

// ListByDay returns every attempt whose happened_at falls on the given
// UTC day, for the rollup job.
func (r *AttemptRepository) ListByDay(ctx context.Context, day time.Time) ([]*models.ConnectorCallAttempt, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	query := `
		SELECT ` + attemptColumns + `
		FROM connector_call_attempt
		WHERE happened_at >= $1 AND happened_at < $2
		ORDER BY happened_at
	`
	return r.list(ctx, query, start, end)
}

func (r *AttemptRepository) list(ctx context.Context, query string, args ...any) ([]*models.ConnectorCallAttempt, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.ConnectorCallAttempt
	for rows.Next() {
		a := &models.ConnectorCallAttempt{}
		var nodeID, provider, idempotencyKey, errorCode, errorMessage *string
		err := rows.Scan(
			&a.ID, &a.ExecutionID, &a.ExecutionNodeID, &nodeID, &a.WorkspaceID, &a.WorkflowID,
			&a.ConnectorKey, &a.ConnectorOperation, &provider, &a.AttemptNo, &a.IsRetry,
			&a.Status, &a.StatusCode, &a.DurationMS, &a.RequestFingerprint, &idempotencyKey,
			&errorCode, &errorMessage, &a.HappenedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.NodeID = derefString(nodeID)
		a.Provider = derefString(provider)
		a.IdempotencyKey = derefString(idempotencyKey)
		a.ErrorCode = derefString(errorCode)
		a.ErrorMessage = derefString(errorMessage)
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// UpsertDaily atomically writes one rollup row per
// (workspace, connector_key, connector_operation, day).
func (r *AttemptRepository) UpsertDaily(ctx context.Context, m *models.ConnectorMetricDaily) error {
	query := `
		INSERT INTO connector_metric_daily
			(id, workspace_id, connector_key, connector_operation, day,
			 total, success, failure, retry, timeout, p50_ms, p95_ms, p99_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (workspace_id, connector_key, connector_operation, day) DO UPDATE
		SET total = EXCLUDED.total,
		    success = EXCLUDED.success,
		    failure = EXCLUDED.failure,
		    retry = EXCLUDED.retry,
		    timeout = EXCLUDED.timeout,
		    p50_ms = EXCLUDED.p50_ms,
		    p95_ms = EXCLUDED.p95_ms,
		    p99_ms = EXCLUDED.p99_ms
	`

	_, err := r.db.Exec(ctx, query,
		m.ID, m.WorkspaceID, m.ConnectorKey, m.ConnectorOperation, m.Day,
		m.Total, m.Success, m.Failure, m.Retry, m.Timeout, m.P50MS, m.P95MS, m.P99MS)
	if err != nil {
		return fmt.Errorf("failed to upsert daily connector metric: %w", err)
	}
	return nil
}
