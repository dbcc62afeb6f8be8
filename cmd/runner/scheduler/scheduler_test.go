package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/cmd/runner/executor"
	"github.com/loomery/loom/common/contract"
	"github.com/loomery/loom/common/dag"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
)

// stubExecutor routes execution to per-node behaviours keyed by the
// node id carried in the context.
type stubExecutor struct {
	mu          sync.Mutex
	behave      map[string]func(attempt int, input map[string]interface{}) (*executor.NodeResult, error)
	attempts    map[string]int
	ctxAttempts map[string][]int
	calls       []string
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{
		behave:      make(map[string]func(int, map[string]interface{}) (*executor.NodeResult, error)),
		attempts:    make(map[string]int),
		ctxAttempts: make(map[string][]int),
	}
}

func (s *stubExecutor) on(nodeID string, fn func(attempt int, input map[string]interface{}) (*executor.NodeResult, error)) {
	s.behave[nodeID] = fn
}

func (s *stubExecutor) succeed(nodeID string, output map[string]interface{}) {
	s.on(nodeID, func(int, map[string]interface{}) (*executor.NodeResult, error) {
		return &executor.NodeResult{Output: output}, nil
	})
}

func (s *stubExecutor) Execute(ctx context.Context, nodeType string, input, config map[string]interface{}) (*executor.NodeResult, error) {
	nodeID := executor.NodeIDFrom(ctx)

	s.mu.Lock()
	s.attempts[nodeID]++
	attempt := s.attempts[nodeID]
	s.ctxAttempts[nodeID] = append(s.ctxAttempts[nodeID], executor.AttemptFrom(ctx))
	s.calls = append(s.calls, nodeID)
	fn := s.behave[nodeID]
	s.mu.Unlock()

	if fn == nil {
		return &executor.NodeResult{Output: map[string]interface{}{"node": nodeID}}, nil
	}
	return fn(attempt, input)
}

func (s *stubExecutor) attemptCount(nodeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[nodeID]
}

func (s *stubExecutor) contextAttempts(nodeID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.ctxAttempts[nodeID]...)
}

func buildGraph(t *testing.T, nodes []models.EditorNode, edges []models.EditorEdge) *dag.DAG {
	t.Helper()
	graph, err := dag.Build(nodes, edges, nil)
	require.NoError(t, err)
	return graph
}

func linearGraph(t *testing.T) *dag.DAG {
	return buildGraph(t,
		[]models.EditorNode{
			{ID: "start", Type: "trigger"},
			{ID: "fetch", Type: "http.request"},
			{ID: "shape", Type: "transform"},
		},
		[]models.EditorEdge{
			{ID: "e1", Source: "start", Target: "fetch"},
			{ID: "e2", Source: "fetch", Target: "shape"},
		},
	)
}

func fastOptions() Options {
	return Options{
		Concurrency:   4,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 5 * time.Millisecond,
		CancelGrace:   50 * time.Millisecond,
	}
}

func statusByNode(result *Result) map[string]models.NodeStatus {
	statuses := make(map[string]models.NodeStatus, len(result.Nodes))
	for _, n := range result.Nodes {
		statuses[n.NodeID] = n.Status
	}
	return statuses
}

func TestRunLinearHappyPath(t *testing.T) {
	exec := newStubExecutor()
	exec.succeed("fetch", map[string]interface{}{"status_code": 200})
	exec.succeed("shape", map[string]interface{}{"shaped": true})

	s := New(exec, fastOptions(), logger.NewNop())
	result, err := s.Run(context.Background(), linearGraph(t), map[string]interface{}{"event": "manual"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, result.Status)
	assert.Empty(t, result.Error)

	statuses := statusByNode(result)
	assert.Equal(t, models.NodeCompleted, statuses["start"])
	assert.Equal(t, models.NodeCompleted, statuses["fetch"])
	assert.Equal(t, models.NodeCompleted, statuses["shape"])

	// the exit node's output is the execution output
	require.Contains(t, result.Output, "shape")
	assert.Equal(t, map[string]interface{}{"shaped": true}, result.Output["shape"])
}

func TestRunEntryReceivesTrigger(t *testing.T) {
	exec := newStubExecutor()
	var entryInput map[string]interface{}
	exec.on("start", func(_ int, input map[string]interface{}) (*executor.NodeResult, error) {
		entryInput = input
		return &executor.NodeResult{Output: input}, nil
	})
	var downstreamInput map[string]interface{}
	exec.on("fetch", func(_ int, input map[string]interface{}) (*executor.NodeResult, error) {
		downstreamInput = input
		return &executor.NodeResult{Output: map[string]interface{}{}}, nil
	})
	exec.succeed("shape", map[string]interface{}{})

	s := New(exec, fastOptions(), logger.NewNop())
	_, err := s.Run(context.Background(), linearGraph(t), map[string]interface{}{"payload": "hello"})
	require.NoError(t, err)

	assert.Equal(t, "hello", entryInput["payload"])
	// downstream inputs are keyed by upstream node id
	require.Contains(t, downstreamInput, "start")
	assert.Equal(t, "hello", downstreamInput["start"].(map[string]interface{})["payload"])
}

func TestRunDiamondMergesBothBranches(t *testing.T) {
	graph := buildGraph(t,
		[]models.EditorNode{
			{ID: "start", Type: "trigger"},
			{ID: "left", Type: "http.request"},
			{ID: "right", Type: "http.request"},
			{ID: "join", Type: "transform"},
		},
		[]models.EditorEdge{
			{ID: "e1", Source: "start", Target: "left"},
			{ID: "e2", Source: "start", Target: "right"},
			{ID: "e3", Source: "left", Target: "join"},
			{ID: "e4", Source: "right", Target: "join"},
		},
	)

	exec := newStubExecutor()
	exec.succeed("left", map[string]interface{}{"side": "left"})
	exec.succeed("right", map[string]interface{}{"side": "right"})
	var joinInput map[string]interface{}
	exec.on("join", func(_ int, input map[string]interface{}) (*executor.NodeResult, error) {
		joinInput = input
		return &executor.NodeResult{Output: map[string]interface{}{"joined": true}}, nil
	})

	s := New(exec, fastOptions(), logger.NewNop())
	result, err := s.Run(context.Background(), graph, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, result.Status)
	require.Contains(t, joinInput, "left")
	require.Contains(t, joinInput, "right")
	assert.Equal(t, "left", joinInput["left"].(map[string]interface{})["side"])
	assert.Equal(t, "right", joinInput["right"].(map[string]interface{})["side"])
}

func conditionGraph(t *testing.T) *dag.DAG {
	return buildGraph(t,
		[]models.EditorNode{
			{ID: "start", Type: "trigger"},
			{ID: "gate", Type: "condition"},
			{ID: "yes", Type: "http.request"},
			{ID: "no", Type: "http.request"},
			{ID: "after-no", Type: "transform"},
			{ID: "join", Type: "transform"},
		},
		[]models.EditorEdge{
			{ID: "e1", Source: "start", Target: "gate"},
			{ID: "e2", Source: "gate", Target: "yes", SourceHandle: "true"},
			{ID: "e3", Source: "gate", Target: "no", SourceHandle: "false"},
			{ID: "e4", Source: "no", Target: "after-no"},
			{ID: "e5", Source: "yes", Target: "join"},
			{ID: "e6", Source: "after-no", Target: "join"},
		},
	)
}

func TestRunConditionTrueBranch(t *testing.T) {
	exec := newStubExecutor()
	exec.succeed("gate", map[string]interface{}{"output": "true"})

	s := New(exec, fastOptions(), logger.NewNop())
	result, err := s.Run(context.Background(), conditionGraph(t), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, result.Status)
	statuses := statusByNode(result)
	assert.Equal(t, models.NodeCompleted, statuses["yes"])
	assert.Equal(t, models.NodeSkipped, statuses["no"])
	assert.Equal(t, models.NodeSkipped, statuses["after-no"], "skips cascade down dead branches")
	assert.Equal(t, models.NodeCompleted, statuses["join"], "one live path keeps a reconvergent node alive")

	assert.Equal(t, 0, exec.attemptCount("no"), "skipped nodes never execute")
	assert.Equal(t, 0, exec.attemptCount("after-no"))
}

func TestRunConditionFalseBranch(t *testing.T) {
	exec := newStubExecutor()
	exec.succeed("gate", map[string]interface{}{"output": "false"})

	s := New(exec, fastOptions(), logger.NewNop())
	result, err := s.Run(context.Background(), conditionGraph(t), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, result.Status)
	statuses := statusByNode(result)
	assert.Equal(t, models.NodeSkipped, statuses["yes"])
	assert.Equal(t, models.NodeCompleted, statuses["no"])
	assert.Equal(t, models.NodeCompleted, statuses["after-no"])
	assert.Equal(t, models.NodeCompleted, statuses["join"])
}

func TestRunCatalogKindGatesCustomConditionType(t *testing.T) {
	catalog := contract.NewStaticCatalog()
	require.NoError(t, catalog.Register(&models.CatalogNode{
		Type:     "branch.check",
		NodeKind: models.NodeKindCondition,
	}))

	graph, err := dag.Build(
		[]models.EditorNode{
			{ID: "start", Type: "trigger"},
			{ID: "gate", Type: "branch.check"},
			{ID: "yes", Type: "http.request"},
			{ID: "no", Type: "http.request"},
		},
		[]models.EditorEdge{
			{ID: "e1", Source: "start", Target: "gate"},
			{ID: "e2", Source: "gate", Target: "yes", SourceHandle: "true"},
			{ID: "e3", Source: "gate", Target: "no", SourceHandle: "false"},
		},
		catalog.KindOf,
	)
	require.NoError(t, err)

	exec := newStubExecutor()
	exec.succeed("gate", map[string]interface{}{"output": "true"})

	s := New(exec, fastOptions(), logger.NewNop())
	result, err := s.Run(context.Background(), graph, nil)
	require.NoError(t, err)

	statuses := statusByNode(result)
	assert.Equal(t, models.NodeCompleted, statuses["yes"])
	assert.Equal(t, models.NodeSkipped, statuses["no"], "catalog-declared condition kinds gate branches")
}

func TestRunRetryThenSuccess(t *testing.T) {
	exec := newStubExecutor()
	exec.on("fetch", func(attempt int, _ map[string]interface{}) (*executor.NodeResult, error) {
		if attempt < 3 {
			return nil, executor.NewNodeError(errors.New("upstream 503"), true)
		}
		return &executor.NodeResult{Output: map[string]interface{}{"ok": true}}, nil
	})

	s := New(exec, fastOptions(), logger.NewNop())
	result, err := s.Run(context.Background(), linearGraph(t), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionCompleted, result.Status)
	assert.Equal(t, 3, exec.attemptCount("fetch"))

	for _, n := range result.Nodes {
		if n.NodeID == "fetch" {
			assert.Equal(t, 3, n.Attempt)
			assert.Equal(t, models.NodeCompleted, n.Status)
		}
	}
}

func TestRunRetriesExhausted(t *testing.T) {
	exec := newStubExecutor()
	exec.on("fetch", func(int, map[string]interface{}) (*executor.NodeResult, error) {
		return nil, executor.NewNodeError(errors.New("upstream 503"), true)
	})

	opts := fastOptions()
	opts.MaxAttempts = 2
	s := New(exec, opts, logger.NewNop())
	result, err := s.Run(context.Background(), linearGraph(t), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionFailed, result.Status)
	assert.Contains(t, result.Error, "fetch")
	assert.Equal(t, 2, exec.attemptCount("fetch"))

	statuses := statusByNode(result)
	assert.Equal(t, models.NodeFailed, statuses["fetch"])
	assert.Equal(t, models.NodePending, statuses["shape"], "downstream of a failure is never scheduled")
}

func TestRunNonRetryableFailsFast(t *testing.T) {
	exec := newStubExecutor()
	exec.on("fetch", func(int, map[string]interface{}) (*executor.NodeResult, error) {
		return nil, executor.NewNodeError(errors.New("bad request"), false)
	})

	s := New(exec, fastOptions(), logger.NewNop())
	result, err := s.Run(context.Background(), linearGraph(t), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionFailed, result.Status)
	assert.Equal(t, 1, exec.attemptCount("fetch"), "non-retryable errors get exactly one attempt")
}

func TestRunWorkflowTimeout(t *testing.T) {
	exec := newStubExecutor()
	exec.on("fetch", func(int, map[string]interface{}) (*executor.NodeResult, error) {
		time.Sleep(time.Second)
		return &executor.NodeResult{Output: map[string]interface{}{}}, nil
	})

	opts := fastOptions()
	opts.WorkflowTimeout = 50 * time.Millisecond
	opts.CancelGrace = 20 * time.Millisecond
	s := New(exec, opts, logger.NewNop())

	result, err := s.Run(context.Background(), linearGraph(t), nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionTimedOut, result.Status)
	assert.NotEmpty(t, result.Error)

	statuses := statusByNode(result)
	assert.Equal(t, models.NodeFailed, statuses["fetch"], "in-flight nodes close as failed")
}

func TestRunExternalCancel(t *testing.T) {
	exec := newStubExecutor()
	exec.on("fetch", func(int, map[string]interface{}) (*executor.NodeResult, error) {
		time.Sleep(time.Second)
		return &executor.NodeResult{Output: map[string]interface{}{}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	opts := fastOptions()
	opts.CancelGrace = 20 * time.Millisecond
	s := New(exec, opts, logger.NewNop())

	result, err := s.Run(ctx, linearGraph(t), nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, result.Status)
}

func TestRunEmptyGraph(t *testing.T) {
	graph := buildGraph(t, nil, nil)
	s := New(newStubExecutor(), fastOptions(), logger.NewNop())

	_, err := s.Run(context.Background(), graph, nil)
	require.Error(t, err)
	assert.Equal(t, models.CodeNoEntry, models.CodeOf(err))
}

func TestRunSequenceOrderRespectsDependencies(t *testing.T) {
	exec := newStubExecutor()
	s := New(exec, fastOptions(), logger.NewNop())
	result, err := s.Run(context.Background(), linearGraph(t), nil)
	require.NoError(t, err)

	sequence := make(map[string]int)
	for _, n := range result.Nodes {
		sequence[n.NodeID] = n.Sequence
	}
	assert.Less(t, sequence["start"], sequence["fetch"])
	assert.Less(t, sequence["fetch"], sequence["shape"])
}

func TestRunStampsAttemptOnContext(t *testing.T) {
	stub := newStubExecutor()
	stub.on("fetch", func(attempt int, _ map[string]interface{}) (*executor.NodeResult, error) {
		if attempt < 3 {
			return nil, executor.NewNodeError(errors.New("transient"), true)
		}
		return &executor.NodeResult{Output: map[string]interface{}{"ok": true}}, nil
	})

	s := New(stub, fastOptions(), logger.NewNop())
	result, err := s.Run(context.Background(), linearGraph(t), map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionCompleted, result.Status)

	// each scheduler attempt is visible to the executor so recorded
	// connector attempts carry real retry accounting
	assert.Equal(t, []int{1, 2, 3}, stub.contextAttempts("fetch"))
	assert.Equal(t, []int{1}, stub.contextAttempts("shape"))
}

func TestRunWorkersExitCleanly(t *testing.T) {
	stub := newStubExecutor()
	s := New(stub, fastOptions(), logger.NewNop())

	result, err := s.Run(context.Background(), linearGraph(t), map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionCompleted, result.Status)

	// Run releases the worker pool on return; parked workers must exit
	// instead of consuming zero-value tasks. A surviving worker would
	// panic on the empty node id and crash the test binary here.
	time.Sleep(100 * time.Millisecond)
}

func TestBackoff(t *testing.T) {
	s := New(newStubExecutor(), Options{RetryDelay: 2 * time.Second, MaxRetryDelay: 5 * time.Minute}, logger.NewNop())

	assert.Equal(t, 2*time.Second, s.backoff(1))
	assert.Equal(t, 4*time.Second, s.backoff(2))
	assert.Equal(t, 8*time.Second, s.backoff(3))
	assert.Equal(t, 5*time.Minute, s.backoff(20), "backoff is capped")
}

func TestOptionsFromSettings(t *testing.T) {
	opts := OptionsFromSettings(models.WorkflowSettings{
		Retry:   &models.RetrySettings{Enabled: true, MaxAttempts: 5, DelaySeconds: 7},
		Timeout: models.TimeoutSettings{Workflow: 120, Node: 15},
	})

	assert.Equal(t, 5, opts.MaxAttempts)
	assert.Equal(t, 7*time.Second, opts.RetryDelay)
	assert.Equal(t, 15*time.Second, opts.NodeTimeout)
	assert.Equal(t, 120*time.Second, opts.WorkflowTimeout)

	// defaults apply when nothing is set
	defaults := OptionsFromSettings(models.WorkflowSettings{}).withDefaults()
	assert.Equal(t, 3, defaults.MaxAttempts)
	assert.Equal(t, 10, defaults.Concurrency)
}

func TestOptionsFromSettingsRetryDisabled(t *testing.T) {
	opts := OptionsFromSettings(models.WorkflowSettings{
		Retry: &models.RetrySettings{Enabled: false, MaxAttempts: 5},
	})
	assert.Equal(t, 1, opts.MaxAttempts)

	// withDefaults must not bump an explicit single attempt back to 3
	assert.Equal(t, 1, opts.withDefaults().MaxAttempts)
}

func TestRunRetryDisabledSingleAttempt(t *testing.T) {
	stub := newStubExecutor()
	stub.on("fetch", func(int, map[string]interface{}) (*executor.NodeResult, error) {
		return nil, executor.NewNodeError(errors.New("flaky upstream"), true)
	})

	opts := fastOptions()
	opts.MaxAttempts = OptionsFromSettings(models.WorkflowSettings{
		Retry: &models.RetrySettings{Enabled: false},
	}).MaxAttempts

	s := New(stub, opts, logger.NewNop())
	result, err := s.Run(context.Background(), linearGraph(t), map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionFailed, result.Status)
	assert.Equal(t, 1, stub.attemptCount("fetch"), "disabled retries mean exactly one attempt")
}
