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

// ReplayPackRepository persists execution replay packs
type ReplayPackRepository struct {
	db *db.DB
}

// NewReplayPackRepository creates a new replay pack repository
func NewReplayPackRepository(database *db.DB) *ReplayPackRepository {
	return &ReplayPackRepository{db: database}
}

// GetByExecution returns the pack for an execution
func (r *ReplayPackRepository) GetByExecution(ctx context.Context, executionID uuid.UUID) (*models.ExecutionReplayPack, error) {
	query := `
		SELECT id, execution_id, workspace_id, workflow_id, source_execution_id, mode,
		       deterministic_seed, workflow_snapshot, trigger_snapshot, fixtures,
		       environment_snapshot, captured_at, expires_at
		FROM execution_replay_pack
		WHERE execution_id = $1
	`

	p := &models.ExecutionReplayPack{}
	var fixturesJSON []byte
	err := r.db.QueryRow(ctx, query, executionID).Scan(
		&p.ID, &p.ExecutionID, &p.WorkspaceID, &p.WorkflowID, &p.SourceExecutionID, &p.Mode,
		&p.DeterministicSeed, &p.WorkflowSnapshot, &p.TriggerSnapshot, &fixturesJSON,
		&p.EnvironmentSnapshot, &p.CapturedAt, &p.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.WrapCoded(models.CodeNotFound, fmt.Sprintf("replay pack for execution %s", executionID), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get replay pack: %w", err)
	}

	if len(fixturesJSON) > 0 {
		if err := json.Unmarshal(fixturesJSON, &p.Fixtures); err != nil {
			return nil, fmt.Errorf("failed to decode fixtures: %w", err)
		}
	}

	return p, nil
}

// Upsert writes a pack keyed by execution_id
func (r *ReplayPackRepository) Upsert(ctx context.Context, p *models.ExecutionReplayPack) error {
	return r.UpsertIn(ctx, r.db.Pool, p)
}

// UpsertIn writes a pack using the given querier (pool or tx)
func (r *ReplayPackRepository) UpsertIn(ctx context.Context, q Querier, p *models.ExecutionReplayPack) error {
	fixturesJSON, err := json.Marshal(p.Fixtures)
	if err != nil {
		return fmt.Errorf("failed to encode fixtures: %w", err)
	}

	query := `
		INSERT INTO execution_replay_pack
			(id, execution_id, workspace_id, workflow_id, source_execution_id, mode,
			 deterministic_seed, workflow_snapshot, trigger_snapshot, fixtures,
			 environment_snapshot, captured_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (execution_id) DO UPDATE
		SET mode = EXCLUDED.mode,
		    source_execution_id = EXCLUDED.source_execution_id,
		    deterministic_seed = EXCLUDED.deterministic_seed,
		    workflow_snapshot = EXCLUDED.workflow_snapshot,
		    trigger_snapshot = EXCLUDED.trigger_snapshot,
		    fixtures = EXCLUDED.fixtures,
		    environment_snapshot = EXCLUDED.environment_snapshot,
		    captured_at = EXCLUDED.captured_at,
		    expires_at = EXCLUDED.expires_at
	`

	_, err = q.Exec(ctx, query,
		p.ID, p.ExecutionID, p.WorkspaceID, p.WorkflowID, p.SourceExecutionID, p.Mode,
		p.DeterministicSeed, p.WorkflowSnapshot, p.TriggerSnapshot, fixturesJSON,
		p.EnvironmentSnapshot, p.CapturedAt, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert replay pack: %w", err)
	}
	return nil
}

// DeleteExpired removes packs past their retention window
func (r *ReplayPackRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM execution_replay_pack WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired replay packs: %w", err)
	}
	return tag.RowsAffected(), nil
}
