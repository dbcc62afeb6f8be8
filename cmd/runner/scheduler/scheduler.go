package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/loomery/loom/cmd/runner/executor"
	"github.com/loomery/loom/common/dag"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
)

// Options tune one execution run. Zero values fall back to the
// documented defaults.
type Options struct {
	Concurrency     int           // worker pool size, default 10
	TaskQueueSize   int           // bounded task queue, default 100
	NodeTimeout     time.Duration // per-node deadline, default 30s
	WorkflowTimeout time.Duration // outer deadline, default 1h
	MaxAttempts     int           // per-node attempts, default 3
	RetryDelay      time.Duration // base backoff, default 2s
	MaxRetryDelay   time.Duration // backoff cap, default 5m
	CancelGrace     time.Duration // drain window after cancel, default 5s
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.TaskQueueSize <= 0 {
		o.TaskQueueSize = 100
	}
	if o.NodeTimeout <= 0 {
		o.NodeTimeout = 30 * time.Second
	}
	if o.WorkflowTimeout <= 0 {
		o.WorkflowTimeout = time.Hour
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 5 * time.Minute
	}
	if o.CancelGrace <= 0 {
		o.CancelGrace = 5 * time.Second
	}
	return o
}

// OptionsFromSettings derives run options from workflow settings.
// Without a retry block, retries default on with 3 attempts; an
// explicit block tunes attempts and delay, and an explicitly disabled
// one pins every node to a single attempt.
func OptionsFromSettings(settings models.WorkflowSettings) Options {
	var opts Options
	if retry := settings.Retry; retry != nil {
		if !retry.Enabled {
			opts.MaxAttempts = 1
		} else {
			if retry.MaxAttempts > 0 {
				opts.MaxAttempts = retry.MaxAttempts
			}
			if retry.DelaySeconds > 0 {
				opts.RetryDelay = time.Duration(retry.DelaySeconds) * time.Second
			}
		}
	}
	if settings.Timeout.Node > 0 {
		opts.NodeTimeout = time.Duration(settings.Timeout.Node) * time.Second
	}
	if settings.Timeout.Workflow > 0 {
		opts.WorkflowTimeout = time.Duration(settings.Timeout.Workflow) * time.Second
	}
	return opts
}

// Result is the outcome of one execution run
type Result struct {
	Status models.ExecutionStatus
	Output map[string]interface{}
	Nodes  []*NodeSnapshot
	Error  string
}

type task struct {
	nodeID  string
	attempt int
	input   map[string]interface{}
}

type taskDone struct {
	nodeID     string
	attempt    int
	result     *executor.NodeResult
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// Scheduler drives one execution: a coordinator goroutine schedules
// ready nodes onto a bounded task queue consumed by a fixed worker
// pool, and is the sole consumer of completion signals.
type Scheduler struct {
	exec executor.NodeExecutor
	opts Options
	log  *logger.Logger
}

// New creates a scheduler
func New(exec executor.NodeExecutor, opts Options, log *logger.Logger) *Scheduler {
	return &Scheduler{exec: exec, opts: opts.withDefaults(), log: log}
}

// Run executes the graph with the given trigger payload and blocks
// until a terminal status. The outer deadline and external cancel both
// arrive through ctx.
func (s *Scheduler) Run(ctx context.Context, graph *dag.DAG, trigger map[string]interface{}) (*Result, error) {
	if len(graph.Nodes) == 0 {
		return nil, models.NewCodedError(models.CodeNoEntry, "graph has no nodes")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.WorkflowTimeout)
	defer cancel()

	state := NewExecutionState(graph)
	tasks := make(chan task, s.opts.TaskQueueSize)
	done := make(chan taskDone, s.opts.TaskQueueSize)

	for i := 0; i < s.opts.Concurrency; i++ {
		go s.worker(runCtx, graph, state, tasks, done)
	}

	// Entry nodes run with the trigger payload as input; their output
	// is pre-seeded so downstream merges see the trigger even before
	// the entry completes.
	inflight := 0
	for _, id := range graph.EntryNodes {
		state.SeedOutput(id, trigger)
		state.MarkScheduled(id, trigger)
		tasks <- task{nodeID: id, attempt: 1, input: trigger}
		inflight++
	}

	var (
		failure   string
		draining  bool
		cancelled bool
		timedOut  bool
	)

	for inflight > 0 {
		var signal taskDone
		select {
		case signal = <-done:
		case <-runCtx.Done():
			// Outer deadline or external cancel: stop scheduling and
			// give in-flight tasks the grace window to report in.
			if ctx.Err() != nil {
				cancelled = true
			} else {
				timedOut = true
			}
			draining = true
			inflight -= s.drain(done, inflight)
			continue
		}
		inflight--

		if signal.err == nil {
			state.MarkRunning(signal.nodeID, signal.attempt, signal.startedAt)
			state.MarkCompleted(signal.nodeID, signal.result.Output, signal.finishedAt)
			if !draining {
				inflight += s.advance(runCtx, state, tasks)
			}
			continue
		}

		retryable := executor.RetryableError(signal.err)
		if retryable && signal.attempt < s.opts.MaxAttempts && !draining {
			attempt := signal.attempt + 1
			state.SetAttempt(signal.nodeID, attempt)
			delay := s.backoff(signal.attempt)
			s.log.Warn("node retry scheduled",
				"node_id", signal.nodeID,
				"attempt", attempt,
				"delay", delay,
				"error", signal.err)

			inflight++
			retryTask := task{nodeID: signal.nodeID, attempt: attempt, input: s.taskInput(state, signal.nodeID)}
			go func() {
				select {
				case <-time.After(delay):
					tasks <- retryTask
				case <-runCtx.Done():
					done <- taskDone{nodeID: retryTask.nodeID, attempt: retryTask.attempt, err: runCtx.Err(), startedAt: time.Now(), finishedAt: time.Now()}
				}
			}()
			continue
		}

		state.MarkRunning(signal.nodeID, signal.attempt, signal.startedAt)
		state.MarkFailed(signal.nodeID, signal.err.Error(), signal.finishedAt)
		if failure == "" {
			failure = fmt.Sprintf("node %s: %v", signal.nodeID, signal.err)
		}
		draining = true
	}
	// Release the worker pool and any pending retry timers. The task
	// channel is never closed: a straggling retry goroutine may still
	// hold a send on it, and a close would panic that sender.
	cancel()

	result := &Result{
		Output: state.ExitOutputs(),
		Nodes:  state.Nodes(),
		Error:  failure,
	}

	switch {
	case cancelled:
		state.FailScheduled("cancelled", time.Now().UTC())
		result.Nodes = state.Nodes()
		result.Status = models.ExecutionCancelled
		if result.Error == "" {
			result.Error = "execution cancelled"
		}
	case timedOut:
		state.FailScheduled("workflow deadline exceeded", time.Now().UTC())
		result.Nodes = state.Nodes()
		result.Status = models.ExecutionTimedOut
		if result.Error == "" {
			result.Error = fmt.Sprintf("workflow deadline %s exceeded", s.opts.WorkflowTimeout)
		}
	case state.Failed():
		result.Status = models.ExecutionFailed
	default:
		result.Status = models.ExecutionCompleted
	}

	return result, nil
}

// advance computes the ready frontier, applies conditional gating and
// skip cascades, and schedules every live node. Returns the number of
// tasks enqueued. Runs only on the coordinator goroutine.
func (s *Scheduler) advance(ctx context.Context, state *ExecutionState, tasks chan<- task) int {
	scheduled := 0
	for {
		frontier := state.Frontier()
		if len(frontier) == 0 {
			return scheduled
		}

		progressed := false
		for _, id := range frontier {
			if !state.LiveIncoming(id) {
				state.MarkSkipped(id)
				progressed = true
				continue
			}

			input := state.MergeInputs(id)
			attempt := 1
			state.MarkScheduled(id, input)
			select {
			case tasks <- task{nodeID: id, attempt: attempt, input: input}:
			case <-ctx.Done():
				return scheduled
			}
			scheduled++
			progressed = true
		}

		// A skip can settle further downstream nodes, so loop until
		// the frontier stabilises.
		if !progressed {
			return scheduled
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, graph *dag.DAG, state *ExecutionState, tasks <-chan task, done chan<- taskDone) {
	for {
		var (
			t  task
			ok bool
		)
		select {
		case t, ok = <-tasks:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		node := graph.Nodes[t.nodeID]
		taskCtx := executor.WithAttempt(executor.WithNodeID(ctx, t.nodeID), t.attempt)
		nodeCtx, cancel := context.WithTimeout(taskCtx, s.opts.NodeTimeout)
		startedAt := time.Now().UTC()

		result, err := s.exec.Execute(nodeCtx, node.Type, t.input, node.Config)
		cancel()

		finishedAt := time.Now().UTC()
		if err == nil && result == nil {
			err = executor.NewNodeError(fmt.Errorf("executor returned no result"), false)
		}

		select {
		case done <- taskDone{
			nodeID:     t.nodeID,
			attempt:    t.attempt,
			result:     result,
			err:        err,
			startedAt:  startedAt,
			finishedAt: finishedAt,
		}:
		case <-ctx.Done():
			return
		}
	}
}

// drain collects whatever in-flight completions arrive within the
// grace window and returns how many were observed.
func (s *Scheduler) drain(done <-chan taskDone, inflight int) int {
	deadline := time.NewTimer(s.opts.CancelGrace)
	defer deadline.Stop()

	observed := 0
	for observed < inflight {
		select {
		case <-done:
			observed++
		case <-deadline.C:
			return inflight // give up on stragglers
		}
	}
	return observed
}

// backoff is delay * 2^(attempt-1), capped
func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := s.opts.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.opts.MaxRetryDelay {
			return s.opts.MaxRetryDelay
		}
	}
	return delay
}

func (s *Scheduler) taskInput(state *ExecutionState, nodeID string) map[string]interface{} {
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.nodes[nodeID].Input
}
