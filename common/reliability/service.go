package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/repository"
)

// ExecutionNodeLister resolves node_id -> execution_node rows for one
// execution, used to correlate attempts on ingest.
type ExecutionNodeLister interface {
	ListByExecution(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionNode, error)
}

// Service ingests connector call attempts and derives reliability
// metrics from them.
type Service struct {
	attempts *repository.AttemptRepository
	nodes    ExecutionNodeLister
	log      *logger.Logger
}

// NewService creates a reliability service
func NewService(attempts *repository.AttemptRepository, nodes ExecutionNodeLister, log *logger.Logger) *Service {
	return &Service{attempts: attempts, nodes: nodes, log: log}
}

// Ingest writes one attempt row per entry, correlating node_id to
// execution_node.id through a lookup built once per call.
func (s *Service) Ingest(ctx context.Context, execution *models.Execution, attempts []*models.ConnectorCallAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	nodeByID := make(map[string]uuid.UUID)
	if s.nodes != nil {
		executionNodes, err := s.nodes.ListByExecution(ctx, execution.ID)
		if err != nil {
			return fmt.Errorf("correlate execution nodes: %w", err)
		}
		for _, n := range executionNodes {
			nodeByID[n.NodeID] = n.ID
		}
	}

	now := time.Now().UTC()
	for _, a := range attempts {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.ExecutionID = execution.ID
		a.WorkspaceID = execution.WorkspaceID
		a.WorkflowID = execution.WorkflowID
		if a.HappenedAt.IsZero() {
			a.HappenedAt = now
		}
		if a.ExecutionNodeID == nil && a.NodeID != "" {
			if id, ok := nodeByID[a.NodeID]; ok {
				a.ExecutionNodeID = &id
			}
		}
	}

	if err := s.attempts.InsertBatch(ctx, attempts); err != nil {
		return err
	}

	s.log.Debug("attempts ingested", "execution_id", execution.ID, "count", len(attempts))
	return nil
}

// Metrics groups live attempts by (connector_key, connector_operation)
// and reports the aggregate view including the quality score.
func (s *Service) Metrics(ctx context.Context, workspaceID uuid.UUID, filters repository.AttemptFilters) ([]*models.ConnectorMetrics, error) {
	if filters.Since.IsZero() {
		filters.Since = time.Now().UTC().Add(-24 * time.Hour)
	}

	attempts, err := s.attempts.ListByWorkspace(ctx, workspaceID, filters)
	if err != nil {
		return nil, err
	}

	type groupKey struct{ key, op string }
	groups := make(map[groupKey][]*models.ConnectorCallAttempt)
	var order []groupKey
	for _, a := range attempts {
		k := groupKey{a.ConnectorKey, a.ConnectorOperation}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], a)
	}

	metrics := make([]*models.ConnectorMetrics, 0, len(groups))
	for _, k := range order {
		metrics = append(metrics, aggregate(k.key, k.op, groups[k]))
	}

	return metrics, nil
}

// RollupDaily upserts one ConnectorMetricDaily per group for the given
// day, with nearest-rank percentiles over the day's durations.
func (s *Service) RollupDaily(ctx context.Context, day time.Time) error {
	attempts, err := s.attempts.ListByDay(ctx, day)
	if err != nil {
		return err
	}

	type groupKey struct {
		workspace uuid.UUID
		key, op   string
	}
	groups := make(map[groupKey][]*models.ConnectorCallAttempt)
	for _, a := range attempts {
		k := groupKey{a.WorkspaceID, a.ConnectorKey, a.ConnectorOperation}
		groups[k] = append(groups[k], a)
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	for k, group := range groups {
		metric := &models.ConnectorMetricDaily{
			ID:                 uuid.New(),
			WorkspaceID:        k.workspace,
			ConnectorKey:       k.key,
			ConnectorOperation: k.op,
			Day:                dayStart,
		}

		var durations []int64
		for _, a := range group {
			metric.Total++
			switch a.Status {
			case models.AttemptSuccess:
				metric.Success++
			case models.AttemptFailure:
				metric.Failure++
			case models.AttemptTimeout:
				metric.Timeout++
			}
			if a.IsRetry {
				metric.Retry++
			}
			if a.DurationMS != nil {
				durations = append(durations, *a.DurationMS)
			}
		}

		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		metric.P50MS = nearestRank(durations, 50)
		metric.P95MS = nearestRank(durations, 95)
		metric.P99MS = nearestRank(durations, 99)

		if err := s.attempts.UpsertDaily(ctx, metric); err != nil {
			return err
		}
	}

	s.log.Info("daily connector rollup complete", "day", dayStart.Format("2006-01-02"), "groups", len(groups))
	return nil
}

func aggregate(key, op string, attempts []*models.ConnectorCallAttempt) *models.ConnectorMetrics {
	m := &models.ConnectorMetrics{ConnectorKey: key, ConnectorOperation: op}

	var durationSum int64
	var durationCount int64
	for _, a := range attempts {
		m.Total++
		switch a.Status {
		case models.AttemptSuccess:
			m.Success++
		case models.AttemptFailure:
			m.Failure++
		case models.AttemptTimeout:
			m.Timeout++
		}
		if a.IsRetry {
			m.Retry++
		}
		if a.DurationMS != nil {
			durationSum += *a.DurationMS
			durationCount++
		}
	}

	if m.Total > 0 {
		m.SuccessRate = float64(m.Success) / float64(m.Total) * 100
		m.RetryRate = float64(m.Retry) / float64(m.Total) * 100
	}
	if durationCount > 0 {
		m.AvgLatencyMS = float64(durationSum) / float64(durationCount)
	}
	m.QualityScore = QualityScore(m.SuccessRate, m.RetryRate, m.AvgLatencyMS)

	return m
}

// QualityScore summarises connector reliability on a 0..100 scale:
// success rate weighted 0.8, retry rate penalised 0.2, and a latency
// penalty capped at 30 points.
func QualityScore(successRate, retryRate, avgLatencyMS float64) float64 {
	latencyPenalty := avgLatencyMS / 200
	if latencyPenalty > 30 {
		latencyPenalty = 30
	}

	score := successRate*0.8 - retryRate*0.2 - latencyPenalty
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// nearestRank returns the pth percentile of sorted values using the
// nearest-rank method; zero when empty.
func nearestRank(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
