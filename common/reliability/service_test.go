package reliability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomery/loom/common/models"
)

func int64Ptr(v int64) *int64 { return &v }

func TestQualityScore(t *testing.T) {
	tests := []struct {
		name         string
		successRate  float64
		retryRate    float64
		avgLatencyMS float64
		want         float64
	}{
		{"perfect", 100, 0, 0, 80},
		{"all failing", 0, 0, 0, 0},
		{"retries penalised", 100, 50, 0, 70},
		{"latency penalised", 100, 0, 2000, 70},
		{"latency penalty capped", 100, 0, 1_000_000, 50},
		{"floors at zero", 10, 100, 1_000_000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, QualityScore(tt.successRate, tt.retryRate, tt.avgLatencyMS), 0.001)
		})
	}
}

func TestNearestRank(t *testing.T) {
	sorted := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	assert.Equal(t, int64(50), nearestRank(sorted, 50))
	assert.Equal(t, int64(100), nearestRank(sorted, 95))
	assert.Equal(t, int64(100), nearestRank(sorted, 99))
	assert.Equal(t, int64(10), nearestRank(sorted, 1))
	assert.Equal(t, int64(100), nearestRank(sorted, 100))

	assert.Equal(t, int64(0), nearestRank(nil, 50))
	assert.Equal(t, int64(42), nearestRank([]int64{42}, 99))
}

func TestAggregate(t *testing.T) {
	attempts := []*models.ConnectorCallAttempt{
		{Status: models.AttemptSuccess, DurationMS: int64Ptr(100)},
		{Status: models.AttemptSuccess, DurationMS: int64Ptr(300)},
		{Status: models.AttemptFailure, IsRetry: true},
		{Status: models.AttemptTimeout, DurationMS: int64Ptr(800)},
	}

	m := aggregate("slack", "post_message", attempts)

	assert.Equal(t, "slack", m.ConnectorKey)
	assert.Equal(t, "post_message", m.ConnectorOperation)
	assert.Equal(t, int64(4), m.Total)
	assert.Equal(t, int64(2), m.Success)
	assert.Equal(t, int64(1), m.Failure)
	assert.Equal(t, int64(1), m.Timeout)
	assert.Equal(t, int64(1), m.Retry)
	assert.InDelta(t, 50.0, m.SuccessRate, 0.001)
	assert.InDelta(t, 25.0, m.RetryRate, 0.001)
	assert.InDelta(t, 400.0, m.AvgLatencyMS, 0.001)
	assert.InDelta(t, QualityScore(50, 25, 400), m.QualityScore, 0.001)
}

func TestAggregateEmpty(t *testing.T) {
	m := aggregate("slack", "post_message", nil)
	assert.Equal(t, int64(0), m.Total)
	assert.Equal(t, 0.0, m.SuccessRate)
	assert.Equal(t, 0.0, m.QualityScore)
}
