package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/loomery/loom/common/dag"
	"github.com/loomery/loom/common/models"
)

// NodeState tracks one node's progress within the execution
type NodeState struct {
	Status     models.NodeStatus
	Attempt    int
	Sequence   int
	StartedAt  *time.Time
	FinishedAt *time.Time
	Input      map[string]interface{}
	Output     map[string]interface{}
	Error      string
}

// ExecutionState is the single source of truth for a running
// execution. All mutation happens under one RW lock: workers read
// outputs under the read lock, the coordinator writes transitions
// under the write lock. The coordinator is the only writer of the
// scheduled set.
type ExecutionState struct {
	mu sync.RWMutex

	graph *dag.DAG
	nodes map[string]*NodeState

	completed map[string]struct{}
	failed    map[string]struct{}
	skipped   map[string]struct{}
	scheduled map[string]struct{}

	outputs  map[string]map[string]interface{}
	sequence int
}

// NewExecutionState initialises state for a compiled graph: every node
// pending at attempt 1, all sets empty.
func NewExecutionState(graph *dag.DAG) *ExecutionState {
	s := &ExecutionState{
		graph:     graph,
		nodes:     make(map[string]*NodeState, len(graph.Nodes)),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		skipped:   make(map[string]struct{}),
		scheduled: make(map[string]struct{}),
		outputs:   make(map[string]map[string]interface{}),
	}
	for id := range graph.Nodes {
		s.nodes[id] = &NodeState{Status: models.NodePending, Attempt: 1}
	}
	return s
}

// MarkScheduled moves a node into the scheduled set with its task input
func (s *ExecutionState) MarkScheduled(nodeID string, input map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[nodeID] = struct{}{}
	n := s.nodes[nodeID]
	n.Status = models.NodePending
	n.Input = input
}

// MarkRunning records the start of an attempt
func (s *ExecutionState) MarkRunning(nodeID string, attempt int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nodes[nodeID]
	n.Status = models.NodeRunning
	n.Attempt = attempt
	if n.StartedAt == nil {
		n.StartedAt = &at
	}
}

// MarkCompleted publishes the node's output and moves it to completed
func (s *ExecutionState) MarkCompleted(nodeID string, output map[string]interface{}, finishedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.scheduled, nodeID)
	s.completed[nodeID] = struct{}{}
	s.outputs[nodeID] = output

	s.sequence++
	n := s.nodes[nodeID]
	n.Status = models.NodeCompleted
	n.Sequence = s.sequence
	n.FinishedAt = &finishedAt
	n.Output = output
}

// MarkFailed records a terminal node failure
func (s *ExecutionState) MarkFailed(nodeID, errText string, finishedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.scheduled, nodeID)
	s.failed[nodeID] = struct{}{}

	s.sequence++
	n := s.nodes[nodeID]
	n.Status = models.NodeFailed
	n.Sequence = s.sequence
	n.FinishedAt = &finishedAt
	n.Error = errText
}

// MarkSkipped records that no live path reaches the node
func (s *ExecutionState) MarkSkipped(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.skipped[nodeID] = struct{}{}

	s.sequence++
	n := s.nodes[nodeID]
	n.Status = models.NodeSkipped
	n.Sequence = s.sequence
}

// FailScheduled closes every still-scheduled node as failed with the
// given cause; used when a cancel or deadline cuts the run short.
func (s *ExecutionState) FailScheduled(cause string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.scheduled {
		delete(s.scheduled, id)
		s.failed[id] = struct{}{}

		s.sequence++
		n := s.nodes[id]
		n.Status = models.NodeFailed
		n.Sequence = s.sequence
		n.FinishedAt = &at
		n.Error = cause
	}
}

// SetAttempt bumps the attempt counter for a retry
func (s *ExecutionState) SetAttempt(nodeID string, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nodeID].Attempt = attempt
}

// Output reads a published output under the read lock
func (s *ExecutionState) Output(nodeID string) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[nodeID]
	return out, ok
}

// SeedOutput publishes an output without marking the node completed,
// used for entry-node trigger payloads.
func (s *ExecutionState) SeedOutput(nodeID string, output map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[nodeID] = output
}

// Frontier returns the nodes whose every upstream is settled
// (completed or skipped) and which are neither settled themselves nor
// already scheduled.
func (s *ExecutionState) Frontier() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []string
	for _, id := range s.graph.Order {
		if s.settledLocked(id) {
			continue
		}
		if _, isScheduled := s.scheduled[id]; isScheduled {
			continue
		}

		allSettled := true
		for _, up := range s.graph.ReverseEdges[id] {
			if _, done := s.completed[up]; done {
				continue
			}
			if _, skip := s.skipped[up]; skip {
				continue
			}
			allSettled = false
			break
		}
		if allSettled && len(s.graph.ReverseEdges[id]) > 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// LiveIncoming reports whether any incoming edge of nodeID is still
// live: an edge is dead when its upstream is skipped, or when the
// upstream is a condition node whose selected handle does not match
// the edge's source handle. A node with no live incoming edge must be
// skipped; one live path keeps it running even across reconvergent
// branches.
func (s *ExecutionState) LiveIncoming(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, up := range s.graph.ReverseEdges[nodeID] {
		if _, skip := s.skipped[up]; skip {
			continue
		}
		if !s.graph.IsCondition(up) {
			return true
		}

		edge := s.graph.Edge(up, nodeID)
		if edge == nil || edge.SourceHandle == "" {
			return true
		}
		if out, ok := s.outputs[up]; ok {
			if handle, _ := out["output"].(string); handle == edge.SourceHandle {
				return true
			}
		}
	}
	return false
}

// MergeInputs builds the task input for nodeID: the outputs of every
// completed upstream keyed by upstream node id.
func (s *ExecutionState) MergeInputs(nodeID string) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string]interface{})
	for _, up := range s.graph.ReverseEdges[nodeID] {
		if _, done := s.completed[up]; !done {
			continue
		}
		if out, ok := s.outputs[up]; ok {
			merged[up] = out
		}
	}
	return merged
}

// ExitsSettled reports whether every exit node is completed or skipped
func (s *ExecutionState) ExitsSettled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.graph.ExitNodes {
		if !s.settledLocked(id) {
			return false
		}
	}
	return true
}

// Failed reports whether any node failed
func (s *ExecutionState) Failed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.failed) > 0
}

// ExitOutputs collects the outputs of completed exit nodes, keyed by
// node id.
func (s *ExecutionState) ExitOutputs() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]interface{})
	for _, id := range s.graph.ExitNodes {
		if _, done := s.completed[id]; done {
			result[id] = s.outputs[id]
		}
	}
	return result
}

// Nodes materialises execution-node records for persistence, ordered
// by settle sequence with untouched nodes last.
func (s *ExecutionState) Nodes() []*NodeSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := make([]*NodeSnapshot, 0, len(s.nodes))
	for id, n := range s.nodes {
		snap := &NodeSnapshot{
			NodeID:     id,
			NodeType:   s.graph.Nodes[id].Type,
			Status:     n.Status,
			Attempt:    n.Attempt,
			Sequence:   n.Sequence,
			StartedAt:  n.StartedAt,
			FinishedAt: n.FinishedAt,
			Input:      n.Input,
			Output:     n.Output,
			Error:      n.Error,
		}
		if n.StartedAt != nil && n.FinishedAt != nil {
			d := n.FinishedAt.Sub(*n.StartedAt).Milliseconds()
			snap.DurationMS = &d
		}
		snapshots = append(snapshots, snap)
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshotLess(snapshots[i], snapshots[j]) })
	return snapshots
}

// NodeSnapshot is the persistence view of one node's state
type NodeSnapshot struct {
	NodeID     string
	NodeType   string
	Status     models.NodeStatus
	Attempt    int
	Sequence   int
	StartedAt  *time.Time
	FinishedAt *time.Time
	DurationMS *int64
	Input      map[string]interface{}
	Output     map[string]interface{}
	Error      string
}

func (s *ExecutionState) settledLocked(id string) bool {
	if _, ok := s.completed[id]; ok {
		return true
	}
	if _, ok := s.skipped[id]; ok {
		return true
	}
	if _, ok := s.failed[id]; ok {
		return true
	}
	return false
}

// snapshotLess orders settled nodes by sequence, untouched nodes last
func snapshotLess(a, b *NodeSnapshot) bool {
	if a.Sequence == 0 && b.Sequence == 0 {
		return a.NodeID < b.NodeID
	}
	if a.Sequence == 0 {
		return false
	}
	if b.Sequence == 0 {
		return true
	}
	return a.Sequence < b.Sequence
}
