package models

import (
	"time"

	"github.com/google/uuid"
)

// RunbookSeverity ranks operator attention for a failed execution
type RunbookSeverity string

const (
	RunbookCritical RunbookSeverity = "critical"
	RunbookHigh     RunbookSeverity = "high"
	RunbookMedium   RunbookSeverity = "medium"
)

// ExecutionRunbook is an operator-facing mitigation plan synthesised
// from a failed execution, upserted per execution.
type ExecutionRunbook struct {
	ID          uuid.UUID       `json:"id"`
	ExecutionID uuid.UUID       `json:"execution_id"`
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	Severity    RunbookSeverity `json:"severity"`
	Title       string          `json:"title"`
	Steps       []string        `json:"steps"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
