package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the outcome of one connector call attempt
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailure AttemptStatus = "failure"
	AttemptTimeout AttemptStatus = "timeout"
)

// ConnectorCallAttempt records one invocation of a connector by a node.
// Attempts are immutable once written.
type ConnectorCallAttempt struct {
	ID                 uuid.UUID     `json:"id"`
	ExecutionID        uuid.UUID     `json:"execution_id"`
	ExecutionNodeID    *uuid.UUID    `json:"execution_node_id,omitempty"`
	NodeID             string        `json:"node_id,omitempty"`
	WorkspaceID        uuid.UUID     `json:"workspace_id"`
	WorkflowID         uuid.UUID     `json:"workflow_id"`
	ConnectorKey       string        `json:"connector_key"`
	ConnectorOperation string        `json:"connector_operation"`
	Provider           string        `json:"provider,omitempty"`
	AttemptNo          int           `json:"attempt_no"`
	IsRetry            bool          `json:"is_retry"`
	Status             AttemptStatus `json:"status"`
	StatusCode         *int          `json:"status_code,omitempty"`
	DurationMS         *int64        `json:"duration_ms,omitempty"`
	RequestFingerprint string        `json:"request_fingerprint"`
	IdempotencyKey     string        `json:"idempotency_key,omitempty"`
	ErrorCode          string        `json:"error_code,omitempty"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	HappenedAt         time.Time     `json:"happened_at"`
}

// ConnectorMetricDaily is the per-day rollup of attempts, unique on
// (workspace_id, connector_key, connector_operation, day).
type ConnectorMetricDaily struct {
	ID                 uuid.UUID `json:"id"`
	WorkspaceID        uuid.UUID `json:"workspace_id"`
	ConnectorKey       string    `json:"connector_key"`
	ConnectorOperation string    `json:"connector_operation"`
	Day                time.Time `json:"day"`
	Total              int64     `json:"total"`
	Success            int64     `json:"success"`
	Failure            int64     `json:"failure"`
	Retry              int64     `json:"retry"`
	Timeout            int64     `json:"timeout"`
	P50MS              int64     `json:"p50_ms"`
	P95MS              int64     `json:"p95_ms"`
	P99MS              int64     `json:"p99_ms"`
}

// ConnectorMetrics is the live aggregate view over recent attempts
type ConnectorMetrics struct {
	ConnectorKey       string  `json:"connector_key"`
	ConnectorOperation string  `json:"connector_operation"`
	Total              int64   `json:"total"`
	Success            int64   `json:"success"`
	Failure            int64   `json:"failure"`
	Retry              int64   `json:"retry"`
	Timeout            int64   `json:"timeout"`
	SuccessRate        float64 `json:"success_rate"`
	RetryRate          float64 `json:"retry_rate"`
	AvgLatencyMS       float64 `json:"avg_latency_ms"`
	QualityScore       float64 `json:"quality_score"`
}
