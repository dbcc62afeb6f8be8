package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/models"
)

// CreditRepository handles usage periods, packs, and the transaction ledger
type CreditRepository struct {
	db *db.DB
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(database *db.DB) *CreditRepository {
	return &CreditRepository{db: database}
}

// Pool exposes the underlying pool for caller-owned transactions
func (r *CreditRepository) Pool() *db.DB { return r.db }

const usagePeriodColumns = `
	id, workspace_id, subscription_id, period_start, period_end,
	credits_limit, credits_used, credits_overage,
	executions_total, executions_succeeded, executions_failed,
	nodes_executed, ai_nodes_executed, is_current`

// GetCurrentPeriod returns the workspace's current usage period
func (r *CreditRepository) GetCurrentPeriod(ctx context.Context, workspaceID uuid.UUID) (*models.WorkspaceUsagePeriod, error) {
	query := `SELECT ` + usagePeriodColumns + ` FROM workspace_usage_period WHERE workspace_id = $1 AND is_current`

	p := &models.WorkspaceUsagePeriod{}
	err := r.db.QueryRow(ctx, query, workspaceID).Scan(
		&p.ID, &p.WorkspaceID, &p.SubscriptionID, &p.PeriodStart, &p.PeriodEnd,
		&p.CreditsLimit, &p.CreditsUsed, &p.CreditsOverage,
		&p.ExecutionsTotal, &p.ExecutionsSucceeded, &p.ExecutionsFailed,
		&p.NodesExecuted, &p.AINodesExecuted, &p.IsCurrent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.WrapCoded(models.CodeNotFound, fmt.Sprintf("current usage period for workspace %s", workspaceID), models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current usage period: %w", err)
	}
	return p, nil
}

// CreatePeriodIn retires the current period and inserts the new current
// one; run inside a transaction so at most one period is ever current.
func (r *CreditRepository) CreatePeriodIn(ctx context.Context, q Querier, p *models.WorkspaceUsagePeriod) error {
	if _, err := q.Exec(ctx,
		`UPDATE workspace_usage_period SET is_current = false WHERE workspace_id = $1 AND is_current`,
		p.WorkspaceID); err != nil {
		return fmt.Errorf("failed to retire current period: %w", err)
	}

	query := `
		INSERT INTO workspace_usage_period (` + usagePeriodColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := q.Exec(ctx, query,
		p.ID, p.WorkspaceID, p.SubscriptionID, p.PeriodStart, p.PeriodEnd,
		p.CreditsLimit, p.CreditsUsed, p.CreditsOverage,
		p.ExecutionsTotal, p.ExecutionsSucceeded, p.ExecutionsFailed,
		p.NodesExecuted, p.AINodesExecuted, p.IsCurrent,
	)
	if err != nil {
		return fmt.Errorf("failed to create usage period: %w", err)
	}
	return nil
}

// AddPeriodUsage bumps the per-period counters and flags overage when
// credits_used passes credits_limit.
func (r *CreditRepository) AddPeriodUsage(ctx context.Context, periodID uuid.UUID, credits int64, nodes, aiNodes int64) error {
	query := `
		UPDATE workspace_usage_period
		SET credits_used = credits_used + $2,
		    nodes_executed = nodes_executed + $3,
		    ai_nodes_executed = ai_nodes_executed + $4,
		    credits_overage = GREATEST(0, credits_used + $2 - credits_limit)
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, periodID, credits, nodes, aiNodes); err != nil {
		return fmt.Errorf("failed to add period usage: %w", err)
	}
	return nil
}

// SetPeriodCreditsUsed overwrites credits_used and recomputes overage
func (r *CreditRepository) SetPeriodCreditsUsed(ctx context.Context, periodID uuid.UUID, creditsUsed int64) error {
	query := `
		UPDATE workspace_usage_period
		SET credits_used = $2,
		    credits_overage = GREATEST(0, $2 - credits_limit)
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, periodID, creditsUsed); err != nil {
		return fmt.Errorf("failed to set period credits used: %w", err)
	}
	return nil
}

// AddExecutionOutcome bumps execution counters on the current period
func (r *CreditRepository) AddExecutionOutcome(ctx context.Context, workspaceID uuid.UUID, succeeded bool) error {
	query := `
		UPDATE workspace_usage_period
		SET executions_total = executions_total + 1,
		    executions_succeeded = executions_succeeded + CASE WHEN $2 THEN 1 ELSE 0 END,
		    executions_failed = executions_failed + CASE WHEN $2 THEN 0 ELSE 1 END
		WHERE workspace_id = $1 AND is_current
	`
	if _, err := r.db.Exec(ctx, query, workspaceID, succeeded); err != nil {
		return fmt.Errorf("failed to add execution outcome: %w", err)
	}
	return nil
}

// AppendTransaction writes one ledger entry
func (r *CreditRepository) AppendTransaction(ctx context.Context, t *models.CreditTransaction) error {
	query := `
		INSERT INTO credit_transaction
			(id, workspace_id, usage_period_id, type, credits, execution_id, execution_node_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		t.ID, t.WorkspaceID, t.UsagePeriodID, t.Type, t.Credits,
		t.ExecutionID, t.ExecutionNodeID, nullString(t.Description), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}
	return nil
}

// SumTransactions totals signed credits over a usage period's ledger
func (r *CreditRepository) SumTransactions(ctx context.Context, periodID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(credits), 0) FROM credit_transaction WHERE usage_period_id = $1`,
		periodID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum credit transactions: %w", err)
	}
	return sum, nil
}

// ListActivePacks returns active packs FIFO by purchase time
func (r *CreditRepository) ListActivePacks(ctx context.Context, workspaceID uuid.UUID) ([]*models.CreditPack, error) {
	query := `
		SELECT id, workspace_id, credits_amount, credits_remaining, purchased_at, expires_at, status
		FROM credit_pack
		WHERE workspace_id = $1 AND status = $2
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY purchased_at
	`

	rows, err := r.db.Query(ctx, query, workspaceID, models.PackActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit packs: %w", err)
	}
	defer rows.Close()

	var packs []*models.CreditPack
	for rows.Next() {
		p := &models.CreditPack{}
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.CreditsAmount, &p.CreditsRemaining, &p.PurchasedAt, &p.ExpiresAt, &p.Status); err != nil {
			return nil, fmt.Errorf("failed to scan credit pack: %w", err)
		}
		packs = append(packs, p)
	}

	return packs, rows.Err()
}

// UpdatePack writes a pack's remaining credits and status
func (r *CreditRepository) UpdatePack(ctx context.Context, packID uuid.UUID, remaining int64, status models.CreditPackStatus) error {
	query := `UPDATE credit_pack SET credits_remaining = $2, status = $3 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, packID, remaining, status); err != nil {
		return fmt.Errorf("failed to update credit pack: %w", err)
	}
	return nil
}

// CreatePack inserts a purchased pack
func (r *CreditRepository) CreatePack(ctx context.Context, p *models.CreditPack) error {
	query := `
		INSERT INTO credit_pack (id, workspace_id, credits_amount, credits_remaining, purchased_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.WorkspaceID, p.CreditsAmount, p.CreditsRemaining, p.PurchasedAt, p.ExpiresAt, p.Status)
	if err != nil {
		return fmt.Errorf("failed to create credit pack: %w", err)
	}
	return nil
}
