package runbook

import (
	"context"
	"strings"

	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/repository"
)

// Base cost per attempt in USD by connector class. Retried attempts
// are charged at 0.8x since the work largely repeats.
const (
	costAI      = 0.0200
	costHTTP    = 0.0005
	costStorage = 0.0010
	costDefault = 0.0008
	retryFactor = 0.8
)

// CostEstimator derives estimated_cost_usd for an execution from the
// connector call attempts it made.
type CostEstimator struct {
	executions *repository.ExecutionRepository
	log        *logger.Logger
}

// NewCostEstimator creates a cost estimator
func NewCostEstimator(executions *repository.ExecutionRepository, log *logger.Logger) *CostEstimator {
	return &CostEstimator{executions: executions, log: log}
}

// Estimate sums per-attempt base costs and writes the total onto the
// execution record.
func (e *CostEstimator) Estimate(ctx context.Context, execution *models.Execution, attempts []*models.ConnectorCallAttempt) (float64, error) {
	total := EstimateCost(attempts)

	if err := e.executions.UpdateEstimatedCost(ctx, execution.ID, total); err != nil {
		return 0, err
	}
	execution.EstimatedCostUSD = total

	e.log.Debug("execution cost estimated", "execution_id", execution.ID, "cost_usd", total, "attempts", len(attempts))
	return total, nil
}

// EstimateCost is the pure calculation: base cost per attempt by
// connector class, retries at 0.8x.
func EstimateCost(attempts []*models.ConnectorCallAttempt) float64 {
	var total float64
	for _, a := range attempts {
		cost := baseCost(a.ConnectorKey)
		if a.IsRetry {
			cost *= retryFactor
		}
		total += cost
	}
	return total
}

func baseCost(connectorKey string) float64 {
	key := strings.ToLower(connectorKey)
	switch {
	case strings.HasPrefix(key, "ai.") || strings.Contains(key, "openai") || strings.Contains(key, "anthropic") || strings.Contains(key, "llm"):
		return costAI
	case strings.HasPrefix(key, "storage.") || strings.HasPrefix(key, "s3") || strings.HasPrefix(key, "gcs"):
		return costStorage
	case strings.HasPrefix(key, "http") || strings.HasPrefix(key, "webhook"):
		return costHTTP
	default:
		return costDefault
	}
}
