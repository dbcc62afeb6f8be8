package runbook

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/repository"
)

// Synthesiser derives operator-facing runbooks from failed executions.
// One runbook per execution, upserted so a retry refreshes it in place.
type Synthesiser struct {
	runbooks *repository.RunbookRepository
	log      *logger.Logger
}

// NewSynthesiser creates a runbook synthesiser
func NewSynthesiser(runbooks *repository.RunbookRepository, log *logger.Logger) *Synthesiser {
	return &Synthesiser{runbooks: runbooks, log: log}
}

// Synthesise builds and stores the runbook for a failed execution.
// Severity comes from the error text; steps are fixed mitigation
// templates per severity class.
func (s *Synthesiser) Synthesise(ctx context.Context, execution *models.Execution) (*models.ExecutionRunbook, error) {
	severity := Classify(execution.Error)
	now := time.Now().UTC()

	rb := &models.ExecutionRunbook{
		ID:          uuid.New(),
		ExecutionID: execution.ID,
		WorkspaceID: execution.WorkspaceID,
		Severity:    severity,
		Title:       title(severity, execution),
		Steps:       steps(severity),
		Status:      "open",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.runbooks.Upsert(ctx, rb); err != nil {
		return nil, err
	}

	s.log.Info("runbook synthesised", "execution_id", execution.ID, "severity", severity)
	return rb, nil
}

// Classify maps an execution error to a runbook severity. Credential
// and permission failures need a human with access, so they rank
// critical; transient pressure (timeouts, rate limits) ranks high.
func Classify(errText string) models.RunbookSeverity {
	lower := strings.ToLower(errText)

	for _, kw := range []string{"auth", "unauthorized", "unauthorised", "permission", "forbidden", "credential", "token expired"} {
		if strings.Contains(lower, kw) {
			return models.RunbookCritical
		}
	}
	for _, kw := range []string{"timeout", "timed out", "deadline", "rate limit", "rate_limited", "too many requests", "429"} {
		if strings.Contains(lower, kw) {
			return models.RunbookHigh
		}
	}
	return models.RunbookMedium
}

func title(severity models.RunbookSeverity, execution *models.Execution) string {
	switch severity {
	case models.RunbookCritical:
		return "Execution failed: credential or permission problem"
	case models.RunbookHigh:
		return "Execution failed: upstream pressure (timeout or rate limit)"
	default:
		return "Execution failed"
	}
}

func steps(severity models.RunbookSeverity) []string {
	switch severity {
	case models.RunbookCritical:
		return []string{
			"Check the connected credential for expiry and revocation.",
			"Re-authenticate the credential in workspace settings.",
			"Confirm the integration account still has the required scopes.",
			"Re-run the execution once the credential is healthy.",
		}
	case models.RunbookHigh:
		return []string{
			"Check the provider status page for an ongoing incident.",
			"Review the workspace rate limit and recent call volume.",
			"Re-run the execution; retries back off automatically.",
			"If timeouts persist, raise the node timeout in workflow settings.",
		}
	default:
		return []string{
			"Inspect the failed node's input and error in the execution detail.",
			"Validate the node configuration against the connector schema.",
			"Re-run the execution after correcting the configuration.",
		}
	}
}
