package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
)

// SnapshotStore persists content-addressed contract snapshots
type SnapshotStore interface {
	GetByHash(ctx context.Context, workflowID uuid.UUID, graphHash string) (*models.WorkflowContractSnapshot, error)
	Upsert(ctx context.Context, snapshot *models.WorkflowContractSnapshot) error
}

// anySchema is the default when a catalog entry declares no schema
func anySchema() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}

// Compiler statically validates edge type compatibility for a workflow
// graph and produces a content-addressed snapshot.
type Compiler struct {
	catalog   Catalog
	snapshots SnapshotStore
	log       *logger.Logger
}

// NewCompiler creates a contract compiler
func NewCompiler(catalog Catalog, snapshots SnapshotStore, log *logger.Logger) *Compiler {
	return &Compiler{catalog: catalog, snapshots: snapshots, log: log}
}

// Compile validates every edge of the graph. When a snapshot already
// exists for (workflow_id, graph_hash) it is returned unchanged, which
// makes compilation idempotent.
func (c *Compiler) Compile(ctx context.Context, workflowID uuid.UUID, nodes []models.EditorNode, edges []models.EditorEdge, strict bool) (*models.WorkflowContractSnapshot, error) {
	graphHash, err := GraphHash(nodes, edges)
	if err != nil {
		return nil, err
	}

	if c.snapshots != nil {
		existing, err := c.snapshots.GetByHash(ctx, workflowID, graphHash)
		if err == nil && existing != nil {
			c.log.Debug("contract snapshot reused", "workflow_id", workflowID, "graph_hash", graphHash)
			return existing, nil
		}
	}

	nodeByID := make(map[string]*models.EditorNode, len(nodes))
	for i := range nodes {
		nodeByID[nodes[i].ID] = &nodes[i]
	}

	var issues []models.ContractIssue
	contracts := make([]models.EdgeContract, 0, len(edges))

	for _, edge := range edges {
		ec, edgeIssues := c.compileEdge(edge, nodeByID, strict)
		contracts = append(contracts, ec)
		issues = append(issues, edgeIssues...)
	}

	snapshot := &models.WorkflowContractSnapshot{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		GraphHash:  graphHash,
		Status:     rollup(issues, strict),
		Contracts: models.ContractSet{
			NodeCount:     len(nodes),
			EdgeCount:     len(edges),
			EdgeContracts: contracts,
		},
		Issues:    issues,
		CreatedAt: time.Now().UTC(),
	}

	if c.snapshots != nil {
		if err := c.snapshots.Upsert(ctx, snapshot); err != nil {
			return nil, fmt.Errorf("persist contract snapshot: %w", err)
		}
	}

	return snapshot, nil
}

func (c *Compiler) compileEdge(edge models.EditorEdge, nodeByID map[string]*models.EditorNode, strict bool) (models.EdgeContract, []models.ContractIssue) {
	var issues []models.ContractIssue

	ec := models.EdgeContract{
		EdgeID:             edge.ID,
		SourceNodeID:       edge.Source,
		TargetNodeID:       edge.Target,
		SourceOutputSchema: anySchema(),
		TargetInputSchema:  anySchema(),
		Status:             models.ContractValid,
	}

	source, sourceOK := nodeByID[edge.Source]
	target, targetOK := nodeByID[edge.Target]
	if !sourceOK || !targetOK {
		missing := edge.Source
		if !targetOK {
			missing = edge.Target
		}
		issues = append(issues, models.ContractIssue{
			Code:     models.CodeUnknownSourcePath,
			Severity: models.SeverityWarning,
			EdgeID:   edge.ID,
			NodeID:   missing,
			Message:  fmt.Sprintf("edge %q references unknown node %q", edge.ID, missing),
		})
		ec.Status = edgeStatus(issues, strict)
		return ec, issues
	}

	sourceDef, ok := c.catalog.Lookup(source.Type)
	if ok && sourceDef.OutputSchema != nil {
		ec.SourceOutputSchema = sourceDef.OutputSchema
	}
	targetDef, ok := c.catalog.Lookup(target.Type)
	if ok && targetDef.InputSchema != nil {
		ec.TargetInputSchema = targetDef.InputSchema
	}

	srcType := schemaType(ec.SourceOutputSchema)
	tgtType := schemaType(ec.TargetInputSchema)
	if srcType != "any" && tgtType != "any" && srcType != tgtType {
		issues = append(issues, models.ContractIssue{
			Code:     models.CodeTypeMismatch,
			Severity: models.SeverityError,
			EdgeID:   edge.ID,
			Message:  fmt.Sprintf("source emits %q but target consumes %q", srcType, tgtType),
		})
	}

	srcProps := schemaProperties(ec.SourceOutputSchema)
	for _, field := range requiredFields(ec.TargetInputSchema) {
		if _, present := srcProps[field]; present {
			continue
		}
		severity := models.SeverityWarning
		if strict {
			severity = models.SeverityError
		}
		issues = append(issues, models.ContractIssue{
			Code:     models.CodeMissingRequiredField,
			Severity: severity,
			EdgeID:   edge.ID,
			NodeID:   edge.Target,
			Field:    field,
			Message:  fmt.Sprintf("target requires %q which the source does not provide", field),
		})
	}

	ec.Status = edgeStatus(issues, strict)
	return ec, issues
}

// rollup computes the snapshot status: any error makes the graph
// invalid; under strict mode any issue does; otherwise issues demote
// the graph to warning.
func rollup(issues []models.ContractIssue, strict bool) models.ContractStatus {
	return edgeStatus(issues, strict)
}

func edgeStatus(issues []models.ContractIssue, strict bool) models.ContractStatus {
	if len(issues) == 0 {
		return models.ContractValid
	}
	for _, issue := range issues {
		if issue.Severity == models.SeverityError {
			return models.ContractInvalid
		}
	}
	if strict {
		return models.ContractInvalid
	}
	return models.ContractWarning
}

func schemaType(schema map[string]interface{}) string {
	if schema == nil {
		return "any"
	}
	t, ok := schema["type"].(string)
	if !ok || t == "" {
		return "any"
	}
	return t
}

func schemaProperties(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]interface{})
	return props
}

func requiredFields(schema map[string]interface{}) []string {
	if schema == nil {
		return nil
	}
	raw, ok := schema["required"].([]interface{})
	if !ok {
		if typed, ok := schema["required"].([]string); ok {
			return typed
		}
		return nil
	}
	fields := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			fields = append(fields, s)
		}
	}
	return fields
}
