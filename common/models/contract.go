package models

import (
	"time"

	"github.com/google/uuid"
)

// ContractStatus is the verdict on an edge or a whole graph
type ContractStatus string

const (
	ContractValid   ContractStatus = "valid"
	ContractWarning ContractStatus = "warning"
	ContractInvalid ContractStatus = "invalid"
)

// IssueSeverity classifies a contract issue
type IssueSeverity string

const (
	SeverityWarning IssueSeverity = "warning"
	SeverityError   IssueSeverity = "error"
)

// ContractIssue is one problem found while compiling edge contracts
type ContractIssue struct {
	Code     string        `json:"code"`
	Severity IssueSeverity `json:"severity"`
	EdgeID   string        `json:"edge_id,omitempty"`
	NodeID   string        `json:"node_id,omitempty"`
	Field    string        `json:"field,omitempty"`
	Message  string        `json:"message"`
}

// EdgeContract is the static verdict on a single edge
type EdgeContract struct {
	EdgeID             string                 `json:"edge_id"`
	SourceNodeID       string                 `json:"source_node_id"`
	TargetNodeID       string                 `json:"target_node_id"`
	SourceOutputSchema map[string]interface{} `json:"source_output_schema"`
	TargetInputSchema  map[string]interface{} `json:"target_input_schema"`
	Status             ContractStatus         `json:"status"`
}

// ContractSet aggregates per-edge contracts for a graph
type ContractSet struct {
	NodeCount     int            `json:"node_count"`
	EdgeCount     int            `json:"edge_count"`
	EdgeContracts []EdgeContract `json:"edge_contracts"`
}

// WorkflowContractSnapshot is the content-addressed verdict on a graph.
// Reused unchanged when graph_hash matches an existing snapshot.
type WorkflowContractSnapshot struct {
	ID                uuid.UUID       `json:"id"`
	WorkflowID        uuid.UUID       `json:"workflow_id"`
	WorkflowVersionID *uuid.UUID      `json:"workflow_version_id,omitempty"`
	GraphHash         string          `json:"graph_hash"`
	Status            ContractStatus  `json:"status"`
	Contracts         ContractSet     `json:"contracts"`
	Issues            []ContractIssue `json:"issues,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
