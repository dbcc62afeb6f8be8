package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType identifies how a workflow run is initiated
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerWebhook  TriggerType = "webhook"
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
)

// Workflow is the editable workflow definition owned by a workspace
type Workflow struct {
	ID            uuid.UUID              `json:"id"`
	WorkspaceID   uuid.UUID              `json:"workspace_id"`
	Name          string                 `json:"name"`
	IsActive      bool                   `json:"is_active"`
	IsLocked      bool                   `json:"is_locked"`
	TriggerType   TriggerType            `json:"trigger_type"`
	TriggerConfig map[string]interface{} `json:"trigger_config,omitempty"`
	Nodes         []EditorNode           `json:"nodes"`
	Edges         []EditorEdge           `json:"edges"`
	Settings      WorkflowSettings       `json:"settings"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	DeletedAt     *time.Time             `json:"deleted_at,omitempty"`
}

// WorkflowVersion is an immutable snapshot of a workflow
type WorkflowVersion struct {
	ID            uuid.UUID        `json:"id"`
	WorkflowID    uuid.UUID        `json:"workflow_id"`
	VersionNumber int              `json:"version_number"`
	Nodes         []EditorNode     `json:"nodes"`
	Edges         []EditorEdge     `json:"edges"`
	Settings      WorkflowSettings `json:"settings"`
	CreatedAt     time.Time        `json:"created_at"`
}

// WorkflowSettings holds retry and timeout configuration
type WorkflowSettings struct {
	// Retry is nil when the workflow never configured retries; an
	// explicit block with Enabled=false turns them off entirely.
	Retry   *RetrySettings  `json:"retry,omitempty"`
	Timeout TimeoutSettings `json:"timeout"`
}

// RetrySettings configures node retry behaviour
type RetrySettings struct {
	Enabled      bool `json:"enabled"`
	MaxAttempts  int  `json:"max_attempts"`
	DelaySeconds int  `json:"delay_seconds"`
}

// TimeoutSettings configures workflow and node deadlines (seconds)
type TimeoutSettings struct {
	Workflow int `json:"workflow"`
	Node     int `json:"node"`
}

// EditorNode is a node in the editor-shaped workflow definition
type EditorNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position EditorPosition `json:"position"`
	Data     EditorNodeData `json:"data"`
}

// EditorPosition is the canvas position of a node
type EditorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EditorNodeData carries the node label and config
type EditorNodeData struct {
	Label  string                 `json:"label,omitempty"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// EditorEdge is a directed connection in the editor-shaped definition
type EditorEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Condition    string `json:"condition,omitempty"`
}

// NodeKind classifies catalog node types
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindAI        NodeKind = "ai"
	NodeKindTransform NodeKind = "transform"
)

// CatalogNode is a node type definition used for contract validation
type CatalogNode struct {
	Type           string                 `json:"type"`
	NodeKind       NodeKind               `json:"node_kind"`
	InputSchema    map[string]interface{} `json:"input_schema,omitempty"`
	OutputSchema   map[string]interface{} `json:"output_schema,omitempty"`
	ConfigSchema   map[string]interface{} `json:"config_schema,omitempty"`
	CredentialType string                 `json:"credential_type,omitempty"`
	CostHintUSD    float64                `json:"cost_hint_usd,omitempty"`
	LatencyHintMS  int64                  `json:"latency_hint_ms,omitempty"`
}
