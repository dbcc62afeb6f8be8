package models

import "github.com/google/uuid"

// WorkspacePolicy restricts what a workspace's workflows may do
type WorkspacePolicy struct {
	WorkspaceID         uuid.UUID `json:"workspace_id"`
	Enabled             bool      `json:"enabled"`
	AllowedNodeTypes    []string  `json:"allowed_node_types,omitempty"`
	BlockedNodeTypes    []string  `json:"blocked_node_types,omitempty"`
	AllowedAIModels     []string  `json:"allowed_ai_models,omitempty"`
	BlockedAIModels     []string  `json:"blocked_ai_models,omitempty"`
	MaxExecutionCostUSD *float64  `json:"max_execution_cost_usd,omitempty"`
	MaxAITokens         *int64    `json:"max_ai_tokens,omitempty"`
	RedactionRules      []string  `json:"redaction_rules,omitempty"`
}

// PolicyViolation is one breach of workspace policy
type PolicyViolation struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}
