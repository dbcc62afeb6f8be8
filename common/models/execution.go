package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle status of an execution
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
)

// Terminal reports whether the status is terminal
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut:
		return true
	}
	return false
}

// ExecutionMode identifies what started the execution
type ExecutionMode string

const (
	ModeManual   ExecutionMode = "manual"
	ModeSchedule ExecutionMode = "schedule"
	ModeWebhook  ExecutionMode = "webhook"
	ModeRetry    ExecutionMode = "retry"
	ModeReplay   ExecutionMode = "replay"
)

// Execution is one run of a workflow with a concrete trigger payload
type Execution struct {
	ID                    uuid.UUID              `json:"id"`
	WorkflowID            uuid.UUID              `json:"workflow_id"`
	WorkspaceID           uuid.UUID              `json:"workspace_id"`
	Status                ExecutionStatus        `json:"status"`
	Mode                  ExecutionMode          `json:"mode"`
	TriggeredBy           string                 `json:"triggered_by,omitempty"`
	StartedAt             *time.Time             `json:"started_at,omitempty"`
	FinishedAt            *time.Time             `json:"finished_at,omitempty"`
	DurationMS            *int64                 `json:"duration_ms,omitempty"`
	TriggerData           map[string]interface{} `json:"trigger_data,omitempty"`
	ResultData            map[string]interface{} `json:"result_data,omitempty"`
	Error                 string                 `json:"error,omitempty"`
	Attempt               int                    `json:"attempt"`
	MaxAttempts           int                    `json:"max_attempts"`
	ParentExecutionID     *uuid.UUID             `json:"parent_execution_id,omitempty"`
	ReplayOfExecutionID   *uuid.UUID             `json:"replay_of_execution_id,omitempty"`
	IsDeterministicReplay bool                   `json:"is_deterministic_replay"`
	EstimatedCostUSD      float64                `json:"estimated_cost_usd"`
	CreatedAt             time.Time              `json:"created_at"`
}

// NodeStatus is the lifecycle status of a node within an execution
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// ExecutionNode records one node's participation in an execution
type ExecutionNode struct {
	ID          uuid.UUID              `json:"id"`
	ExecutionID uuid.UUID              `json:"execution_id"`
	NodeID      string                 `json:"node_id"`
	NodeType    string                 `json:"node_type"`
	Status      NodeStatus             `json:"status"`
	Sequence    int                    `json:"sequence"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	DurationMS  *int64                 `json:"duration_ms,omitempty"`
	InputData   map[string]interface{} `json:"input_data,omitempty"`
	OutputData  map[string]interface{} `json:"output_data,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// ExecutionLog is an append-only log line attached to an execution
type ExecutionLog struct {
	ID              uuid.UUID              `json:"id"`
	ExecutionID     uuid.UUID              `json:"execution_id"`
	ExecutionNodeID *uuid.UUID             `json:"execution_node_id,omitempty"`
	Level           string                 `json:"level"`
	Message         string                 `json:"message"`
	Context         map[string]interface{} `json:"context,omitempty"`
	LoggedAt        time.Time              `json:"logged_at"`
}

// JobStatus tracks an enqueued execution job across the worker fleet
type JobStatus struct {
	JobID         uuid.UUID  `json:"job_id"`
	ExecutionID   *uuid.UUID `json:"execution_id,omitempty"`
	Partition     int        `json:"partition"`
	CallbackToken string     `json:"-"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	Result        string     `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
