package credits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/redis"
	"github.com/loomery/loom/common/repository"
)

// Meter tracks credit consumption against billing periods. A Redis hot
// counter serves reads on the dispatch path; the Postgres transaction
// ledger is the source of truth and Reconcile re-derives the counter
// from it.
type Meter struct {
	repo  *repository.CreditRepository
	redis *redis.Client
	log   *logger.Logger
}

// NewMeter creates a credit meter
func NewMeter(repo *repository.CreditRepository, redisClient *redis.Client, log *logger.Logger) *Meter {
	return &Meter{repo: repo, redis: redisClient, log: log}
}

func counterKey(periodID uuid.UUID) string {
	return fmt.Sprintf("credits:used:%s", periodID)
}

// Increment records credit usage: bumps the hot counter, appends a
// ledger transaction and updates the period counters. Node and AI node
// counts ride along on the same period update.
func (m *Meter) Increment(ctx context.Context, workspaceID uuid.UUID, t *models.CreditTransaction, nodes, aiNodes int64) error {
	period, err := m.repo.GetCurrentPeriod(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("get current period: %w", err)
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.WorkspaceID = workspaceID
	t.UsagePeriodID = period.ID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	if _, err := m.redis.IncrBy(ctx, counterKey(period.ID), t.Credits); err != nil {
		m.log.Warn("credit hot counter increment failed", "period_id", period.ID, "error", err)
	}

	if err := m.repo.AppendTransaction(ctx, t); err != nil {
		return fmt.Errorf("append credit transaction: %w", err)
	}

	if err := m.repo.AddPeriodUsage(ctx, period.ID, t.Credits, nodes, aiNodes); err != nil {
		return fmt.Errorf("update period usage: %w", err)
	}

	return nil
}

// RecordOutcome bumps the period's execution counters once per
// finished execution.
func (m *Meter) RecordOutcome(ctx context.Context, workspaceID uuid.UUID, succeeded bool) error {
	return m.repo.AddExecutionOutcome(ctx, workspaceID, succeeded)
}

// Remaining returns the credits still available to the workspace:
// max(0, limit - used) for the current period plus the sum of active
// pack balances. The hot counter serves "used"; on a counter miss the
// period row serves instead.
func (m *Meter) Remaining(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	period, err := m.repo.GetCurrentPeriod(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("get current period: %w", err)
	}

	used := period.CreditsUsed
	if raw, err := m.redis.Get(ctx, counterKey(period.ID)); err == nil {
		if parsed, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			used = parsed
		}
	} else if !errors.Is(err, redis.ErrNotFound) {
		m.log.Warn("credit hot counter read failed", "period_id", period.ID, "error", err)
	}

	remaining := period.CreditsLimit - used
	if remaining < 0 {
		remaining = 0
	}

	packs, err := m.repo.ListActivePacks(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("list credit packs: %w", err)
	}
	for _, p := range packs {
		remaining += p.CreditsRemaining
	}

	return remaining, nil
}

// ConsumePackCredits draws the given amount from active packs in FIFO
// purchase order. A pack drained to zero transitions to exhausted.
// Returns the amount actually consumed, which is short when packs run
// out.
func (m *Meter) ConsumePackCredits(ctx context.Context, workspaceID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}

	packs, err := m.repo.ListActivePacks(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("list credit packs: %w", err)
	}

	var consumed int64
	for _, p := range packs {
		if consumed >= amount {
			break
		}

		take := amount - consumed
		if take > p.CreditsRemaining {
			take = p.CreditsRemaining
		}

		remaining := p.CreditsRemaining - take
		status := models.PackActive
		if remaining == 0 {
			status = models.PackExhausted
		}

		if err := m.repo.UpdatePack(ctx, p.ID, remaining, status); err != nil {
			return consumed, fmt.Errorf("update credit pack %s: %w", p.ID, err)
		}
		consumed += take
	}

	return consumed, nil
}

// CreatePeriod retires the current period and opens a new one with a
// fresh hot counter.
func (m *Meter) CreatePeriod(ctx context.Context, p *models.WorkspaceUsagePeriod) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.IsCurrent = true

	tx, err := m.repo.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin period transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := m.repo.CreatePeriodIn(ctx, tx, p); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit period transaction: %w", err)
	}

	if err := m.redis.Delete(ctx, counterKey(p.ID)); err != nil {
		m.log.Warn("reset credit hot counter failed", "period_id", p.ID, "error", err)
	}

	return nil
}

// Reconcile recomputes credits_used for the workspace's current period
// from the transaction ledger, overwriting both the period row and the
// hot counter. Run periodically to wash out counter drift.
func (m *Meter) Reconcile(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	period, err := m.repo.GetCurrentPeriod(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("get current period: %w", err)
	}

	total, err := m.repo.SumTransactions(ctx, period.ID)
	if err != nil {
		return 0, fmt.Errorf("sum transactions: %w", err)
	}
	if total < 0 {
		total = 0
	}

	if err := m.repo.SetPeriodCreditsUsed(ctx, period.ID, total); err != nil {
		return 0, fmt.Errorf("set period credits used: %w", err)
	}

	if err := m.redis.SetWithExpiry(ctx, counterKey(period.ID), strconv.FormatInt(total, 10), 0); err != nil {
		m.log.Warn("reconcile hot counter write failed", "period_id", period.ID, "error", err)
	}

	m.log.Info("credit period reconciled", "workspace_id", workspaceID, "period_id", period.ID, "credits_used", total)
	return total, nil
}

// AddCredits grants credits back to the period as a negative ledger
// entry and decrements the hot counter to match.
func (m *Meter) AddCredits(ctx context.Context, workspaceID uuid.UUID, amount int64, transactionType models.CreditTransactionType, description string) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	period, err := m.repo.GetCurrentPeriod(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("get current period: %w", err)
	}

	t := &models.CreditTransaction{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		UsagePeriodID: period.ID,
		Type:          transactionType,
		Credits:       -amount,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.repo.AppendTransaction(ctx, t); err != nil {
		return fmt.Errorf("append credit transaction: %w", err)
	}

	if _, err := m.redis.IncrBy(ctx, counterKey(period.ID), -amount); err != nil {
		m.log.Warn("credit hot counter decrement failed", "period_id", period.ID, "error", err)
	}

	return nil
}

// CreatePack registers a purchased credit pack
func (m *Meter) CreatePack(ctx context.Context, p *models.CreditPack) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.PurchasedAt.IsZero() {
		p.PurchasedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = models.PackActive
	}
	p.CreditsRemaining = p.CreditsAmount

	return m.repo.CreatePack(ctx, p)
}
