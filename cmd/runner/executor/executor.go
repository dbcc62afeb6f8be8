package executor

import (
	"context"
	"errors"
	"fmt"
)

// NodeResult is what a successful node execution yields
type NodeResult struct {
	Output  map[string]interface{}
	Logs    []string
	Metrics map[string]float64
}

// NodeError classifies a node failure for the retry decision
type NodeError struct {
	Err       error
	Retryable bool
}

func (e *NodeError) Error() string { return e.Err.Error() }

func (e *NodeError) Unwrap() error { return e.Err }

// NewNodeError wraps err with its retry classification
func NewNodeError(err error, retryable bool) *NodeError {
	return &NodeError{Err: err, Retryable: retryable}
}

// NodeExecutor runs one node. Input is the merge of upstream outputs
// keyed by upstream node id; config is the node's editor config. The
// context carries the per-node deadline.
type NodeExecutor interface {
	Execute(ctx context.Context, nodeType string, input map[string]interface{}, config map[string]interface{}) (*NodeResult, error)
}

// Registry routes node types to their executors, with a fallback for
// types nothing claimed.
type Registry struct {
	byType   map[string]NodeExecutor
	fallback NodeExecutor
}

// NewRegistry creates an executor registry with the given fallback
func NewRegistry(fallback NodeExecutor) *Registry {
	return &Registry{
		byType:   make(map[string]NodeExecutor),
		fallback: fallback,
	}
}

// Register binds a node type to an executor
func (r *Registry) Register(nodeType string, e NodeExecutor) {
	r.byType[nodeType] = e
}

// Execute dispatches to the executor registered for nodeType
func (r *Registry) Execute(ctx context.Context, nodeType string, input, config map[string]interface{}) (*NodeResult, error) {
	if e, ok := r.byType[nodeType]; ok {
		return e.Execute(ctx, nodeType, input, config)
	}
	if r.fallback != nil {
		return r.fallback.Execute(ctx, nodeType, input, config)
	}
	return nil, NewNodeError(fmt.Errorf("no executor for node type %q", nodeType), false)
}

// RetryableError reports whether err should be retried. Errors that do
// not carry a classification are treated as terminal.
func RetryableError(err error) bool {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return false
}
