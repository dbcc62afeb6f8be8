package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkspaceUsagePeriod tracks metered usage within one billing period.
// At most one period per workspace has is_current=true.
type WorkspaceUsagePeriod struct {
	ID                  uuid.UUID  `json:"id"`
	WorkspaceID         uuid.UUID  `json:"workspace_id"`
	SubscriptionID      *uuid.UUID `json:"subscription_id,omitempty"`
	PeriodStart         time.Time  `json:"period_start"`
	PeriodEnd           time.Time  `json:"period_end"`
	CreditsLimit        int64      `json:"credits_limit"`
	CreditsUsed         int64      `json:"credits_used"`
	CreditsOverage      int64      `json:"credits_overage"`
	ExecutionsTotal     int64      `json:"executions_total"`
	ExecutionsSucceeded int64      `json:"executions_succeeded"`
	ExecutionsFailed    int64      `json:"executions_failed"`
	NodesExecuted       int64      `json:"nodes_executed"`
	AINodesExecuted     int64      `json:"ai_nodes_executed"`
	IsCurrent           bool       `json:"is_current"`
}

// CreditPackStatus is the lifecycle state of a purchased pack
type CreditPackStatus string

const (
	PackActive    CreditPackStatus = "active"
	PackExhausted CreditPackStatus = "exhausted"
	PackRefunded  CreditPackStatus = "refunded"
)

// CreditPack is a pre-purchased bundle of credits, consumed FIFO by purchase time
type CreditPack struct {
	ID               uuid.UUID        `json:"id"`
	WorkspaceID      uuid.UUID        `json:"workspace_id"`
	CreditsAmount    int64            `json:"credits_amount"`
	CreditsRemaining int64            `json:"credits_remaining"`
	PurchasedAt      time.Time        `json:"purchased_at"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	Status           CreditPackStatus `json:"status"`
}

// CreditTransactionType classifies ledger entries
type CreditTransactionType string

const (
	CreditUsageExecution CreditTransactionType = "execution"
	CreditUsageNode      CreditTransactionType = "node"
	CreditUsageAI        CreditTransactionType = "ai"
	CreditGrant          CreditTransactionType = "grant"
	CreditRefund         CreditTransactionType = "refund"
)

// CreditTransaction is one append-only ledger entry. Credits are signed:
// positive for usage, negative for refunds and grants.
type CreditTransaction struct {
	ID              uuid.UUID             `json:"id"`
	WorkspaceID     uuid.UUID             `json:"workspace_id"`
	UsagePeriodID   uuid.UUID             `json:"usage_period_id"`
	Type            CreditTransactionType `json:"type"`
	Credits         int64                 `json:"credits"`
	ExecutionID     *uuid.UUID            `json:"execution_id,omitempty"`
	ExecutionNodeID *uuid.UUID            `json:"execution_node_id,omitempty"`
	Description     string                `json:"description,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}
