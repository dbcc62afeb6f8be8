package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loomery/loom/cmd/runner/executor"
	"github.com/loomery/loom/cmd/runner/scheduler"
	"github.com/loomery/loom/common/config"
	"github.com/loomery/loom/common/credential"
	"github.com/loomery/loom/common/credits"
	"github.com/loomery/loom/common/dag"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/metrics"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/queue"
	"github.com/loomery/loom/common/reliability"
	"github.com/loomery/loom/common/repository"
	"github.com/loomery/loom/common/runbook"
)

// Runner consumes execution jobs from the partitioned queue and drives
// each one through the scheduler, then fans results out to the
// reliability, credit, replay, and runbook services.
type Runner struct {
	cfg        *config.Config
	jobs       *queue.JobQueue
	statuses   *queue.JobStatusStore
	workflows  *repository.WorkflowRepository
	executions *repository.ExecutionRepository
	execNodes  *repository.ExecutionNodeRepository
	execLogs   *repository.ExecutionLogRepository
	resolver   *credential.Resolver
	rel        *reliability.Service
	meter      *credits.Meter
	replays    *replayAppender
	runbooks   *runbook.Synthesiser
	estimator  *runbook.CostEstimator
	callbacks  *CallbackClient
	kinds      dag.KindFunc
	reg        *metrics.Registry
	log        *logger.Logger

	executionsStarted *metrics.Counter
	executionsDone    *metrics.Counter
	executionDuration *metrics.Histogram
}

// replayAppender is the slice of the replay service the runner needs
type replayAppender struct {
	appendFixtures func(ctx context.Context, executionID uuid.UUID, fixtures []models.Fixture) error
}

// RunnerOpts wires the runner's dependencies
type RunnerOpts struct {
	Config         *config.Config
	Jobs           *queue.JobQueue
	Statuses       *queue.JobStatusStore
	Workflows      *repository.WorkflowRepository
	Executions     *repository.ExecutionRepository
	ExecNodes      *repository.ExecutionNodeRepository
	ExecLogs       *repository.ExecutionLogRepository
	Resolver       *credential.Resolver
	Reliability    *reliability.Service
	Meter          *credits.Meter
	AppendFixtures func(ctx context.Context, executionID uuid.UUID, fixtures []models.Fixture) error
	Runbooks       *runbook.Synthesiser
	Estimator      *runbook.CostEstimator
	Callbacks      *CallbackClient
	Kinds          dag.KindFunc
	Metrics        *metrics.Registry
	Logger         *logger.Logger
}

// NewRunner creates a runner
func NewRunner(opts RunnerOpts) *Runner {
	r := &Runner{
		cfg:        opts.Config,
		jobs:       opts.Jobs,
		statuses:   opts.Statuses,
		workflows:  opts.Workflows,
		executions: opts.Executions,
		execNodes:  opts.ExecNodes,
		execLogs:   opts.ExecLogs,
		resolver:   opts.Resolver,
		rel:        opts.Reliability,
		meter:      opts.Meter,
		replays:    &replayAppender{appendFixtures: opts.AppendFixtures},
		runbooks:   opts.Runbooks,
		estimator:  opts.Estimator,
		callbacks:  opts.Callbacks,
		kinds:      opts.Kinds,
		reg:        opts.Metrics,
		log:        opts.Logger,
	}
	if r.reg != nil {
		r.executionsStarted = r.reg.Counter("runner_executions_started_total", "Executions picked up from the queue", nil)
		r.executionsDone = r.reg.Counter("runner_executions_finished_total", "Executions finished", nil)
		r.executionDuration = r.reg.Histogram("runner_execution_duration_ms", "End-to-end execution duration", nil, nil)
	}
	return r
}

// Start consumes every partition until ctx is cancelled
func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for p := 0; p < r.jobs.Partitions(); p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			r.consume(ctx, partition)
		}(p)
	}
	wg.Wait()
}

func (r *Runner) consume(ctx context.Context, partition int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := r.jobs.Dequeue(ctx, partition, 5*time.Second)
		if err == queue.ErrEmpty {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("dequeue failed", "partition", partition, "error", err)
			time.Sleep(time.Second)
			continue
		}

		r.process(ctx, payload)
	}
}

// process runs one job end to end
func (r *Runner) process(ctx context.Context, payload *queue.JobPayload) {
	log := r.log.WithExecutionID(payload.ExecutionID.String()).WithWorkspaceID(payload.WorkspaceID.String())
	if r.executionsStarted != nil {
		r.executionsStarted.Inc()
	}

	execution, err := r.executions.GetByID(ctx, payload.ExecutionID)
	if err != nil {
		log.Error("load execution failed", "error", err)
		return
	}
	if execution.Status.Terminal() {
		log.Warn("execution already terminal, dropping job", "status", execution.Status)
		return
	}

	workflow, settings, err := r.loadDefinition(ctx, payload)
	if err != nil {
		r.failFast(ctx, execution, payload, fmt.Sprintf("load workflow: %v", err))
		return
	}

	graph, err := dag.Build(workflow.Nodes, workflow.Edges, r.kinds)
	if err != nil {
		r.failFast(ctx, execution, payload, fmt.Sprintf("compile graph: %v", err))
		return
	}

	startedAt := time.Now().UTC()
	if err := r.executions.MarkStarted(ctx, execution.ID, startedAt); err != nil {
		log.Error("mark started failed", "error", err)
	}
	r.postStatus(ctx, payload, "progress", 0, "")

	fixtures := executor.NewFixtureSet(payload.ReplayContext)
	recorder := executor.NewRecorder()

	registry := executor.NewRegistry(executor.NewHTTPExecutor(executor.HTTPExecutorOpts{
		WorkspaceID: payload.WorkspaceID,
		Resolver:    r.resolver,
		Fixtures:    fixtures,
		Recorder:    recorder,
		Logger:      r.log,
	}))
	registry.Register("condition", executor.NewConditionExecutor())
	registry.Register("transform", executor.NewTransformExecutor())
	registry.Register("trigger", passthroughExecutor{})

	opts := scheduler.OptionsFromSettings(settings)
	opts.Concurrency = r.cfg.Scheduler.Concurrency
	opts.TaskQueueSize = r.cfg.Scheduler.TaskQueueSize
	opts.CancelGrace = r.cfg.Scheduler.CancelGrace
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = r.cfg.Scheduler.MaxAttempts
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = r.cfg.Scheduler.RetryDelay
	}
	opts.MaxRetryDelay = r.cfg.Scheduler.MaxRetryDelay
	if opts.NodeTimeout == 0 {
		opts.NodeTimeout = r.cfg.Scheduler.NodeTimeout
	}
	if opts.WorkflowTimeout == 0 {
		opts.WorkflowTimeout = r.cfg.Scheduler.WorkflowTimeout
	}

	sched := scheduler.New(registry, opts, log)
	result, err := sched.Run(ctx, graph, payload.TriggerData)
	if err != nil {
		r.failFast(ctx, execution, payload, fmt.Sprintf("run scheduler: %v", err))
		return
	}

	finishedAt := time.Now().UTC()
	r.persist(ctx, execution, payload, result, startedAt, finishedAt, log)
	r.sideEffects(ctx, execution, payload, result, recorder, log)

	if r.executionsDone != nil {
		r.executionsDone.Inc()
	}
	if r.executionDuration != nil {
		r.executionDuration.Observe(float64(finishedAt.Sub(startedAt).Milliseconds()))
	}
}

// loadDefinition returns the workflow to run. Deterministic replays
// run against the snapshot in the replay context; everything else
// loads the live workflow.
func (r *Runner) loadDefinition(ctx context.Context, payload *queue.JobPayload) (*models.Workflow, models.WorkflowSettings, error) {
	if rc := payload.ReplayContext; rc != nil && rc.Mode == models.ReplayModeReplay && rc.WorkflowSnapshot != nil {
		raw, err := json.Marshal(rc.WorkflowSnapshot)
		if err != nil {
			return nil, models.WorkflowSettings{}, fmt.Errorf("marshal workflow snapshot: %w", err)
		}
		var w models.Workflow
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, models.WorkflowSettings{}, fmt.Errorf("decode workflow snapshot: %w", err)
		}
		return &w, w.Settings, nil
	}

	w, err := r.workflows.GetByID(ctx, payload.WorkflowID)
	if err != nil {
		return nil, models.WorkflowSettings{}, err
	}
	return w, w.Settings, nil
}

func (r *Runner) persist(ctx context.Context, execution *models.Execution, payload *queue.JobPayload, result *scheduler.Result, startedAt, finishedAt time.Time, log *logger.Logger) {
	nodes := make([]*models.ExecutionNode, 0, len(result.Nodes))
	logs := make([]*models.ExecutionLog, 0)
	for _, snap := range result.Nodes {
		node := &models.ExecutionNode{
			ID:          uuid.New(),
			ExecutionID: execution.ID,
			NodeID:      snap.NodeID,
			NodeType:    snap.NodeType,
			Status:      snap.Status,
			Sequence:    snap.Sequence,
			StartedAt:   snap.StartedAt,
			FinishedAt:  snap.FinishedAt,
			DurationMS:  snap.DurationMS,
			InputData:   snap.Input,
			OutputData:  snap.Output,
			Error:       snap.Error,
		}
		nodes = append(nodes, node)

		if snap.Error != "" {
			nodeID := node.ID
			logs = append(logs, &models.ExecutionLog{
				ID:              uuid.New(),
				ExecutionID:     execution.ID,
				ExecutionNodeID: &nodeID,
				Level:           "error",
				Message:         snap.Error,
				Context:         map[string]interface{}{"node_id": snap.NodeID, "attempt": snap.Attempt},
				LoggedAt:        finishedAt,
			})
		}
	}

	if err := r.execNodes.CreateBatch(ctx, nodes); err != nil {
		log.Error("persist execution nodes failed", "error", err)
	}
	if len(logs) > 0 {
		if err := r.execLogs.Append(ctx, logs); err != nil {
			log.Error("persist execution logs failed", "error", err)
		}
	}

	duration := finishedAt.Sub(startedAt).Milliseconds()
	execution.Status = result.Status
	execution.StartedAt = &startedAt
	execution.FinishedAt = &finishedAt
	execution.DurationMS = &duration
	execution.ResultData = result.Output
	execution.Error = result.Error
	if err := r.executions.Finish(ctx, execution); err != nil {
		log.Error("finish execution failed", "error", err)
	}

	callbackStatus := "completed"
	if result.Status != models.ExecutionCompleted {
		callbackStatus = "failed"
	}
	r.postStatus(ctx, payload, callbackStatus, 100, result.Error)
}

func (r *Runner) sideEffects(ctx context.Context, execution *models.Execution, payload *queue.JobPayload, result *scheduler.Result, recorder *executor.Recorder, log *logger.Logger) {
	attempts := recorder.Attempts()
	if len(attempts) > 0 && r.rel != nil {
		if err := r.rel.Ingest(ctx, execution, attempts); err != nil {
			log.Error("reliability ingest failed", "error", err)
		}
	}

	// Fixtures only grow packs for live captures; replays never
	// overwrite their source pack.
	if captured := recorder.Fixtures(); len(captured) > 0 && r.replays.appendFixtures != nil && !execution.IsDeterministicReplay {
		if err := r.replays.appendFixtures(ctx, execution.ID, captured); err != nil {
			log.Error("append fixtures failed", "error", err)
		}
	}

	if r.estimator != nil {
		if _, err := r.estimator.Estimate(ctx, execution, attempts); err != nil {
			log.Error("cost estimate failed", "error", err)
		}
	}

	if r.meter != nil {
		var billable, aiNodes int64
		for _, snap := range result.Nodes {
			if snap.Status != models.NodeCompleted {
				continue
			}
			billable++
			if snap.NodeType == "ai" || strings.HasPrefix(snap.NodeType, "ai.") {
				aiNodes++
			}
		}
		if billable > 0 {
			executionID := execution.ID
			t := &models.CreditTransaction{
				Type:        models.CreditUsageExecution,
				Credits:     billable,
				ExecutionID: &executionID,
				Description: fmt.Sprintf("execution %s: %d nodes", execution.ID, billable),
			}
			if err := r.meter.Increment(ctx, execution.WorkspaceID, t, billable, aiNodes); err != nil {
				log.Error("credit increment failed", "error", err)
			}
		}
		if err := r.meter.RecordOutcome(ctx, execution.WorkspaceID, result.Status == models.ExecutionCompleted); err != nil {
			log.Error("record outcome failed", "error", err)
		}
	}

	if result.Status != models.ExecutionCompleted && r.runbooks != nil {
		if _, err := r.runbooks.Synthesise(ctx, execution); err != nil {
			log.Error("runbook synthesis failed", "error", err)
		}
	}
}

// failFast closes an execution that never reached the scheduler
func (r *Runner) failFast(ctx context.Context, execution *models.Execution, payload *queue.JobPayload, errText string) {
	now := time.Now().UTC()
	execution.Status = models.ExecutionFailed
	execution.FinishedAt = &now
	execution.Error = errText
	if err := r.executions.Finish(ctx, execution); err != nil {
		r.log.Error("finish execution failed", "execution_id", execution.ID, "error", err)
	}
	r.postStatus(ctx, payload, "failed", 100, errText)
}

// postStatus updates the job status record and notifies the dispatcher
func (r *Runner) postStatus(ctx context.Context, payload *queue.JobPayload, status string, progress int, errText string) {
	if r.statuses != nil {
		executionID := payload.ExecutionID
		js := &models.JobStatus{
			JobID:         payload.JobID,
			ExecutionID:   &executionID,
			Partition:     r.jobs.PartitionFor(payload.WorkspaceID),
			CallbackToken: payload.CallbackToken,
			Status:        status,
			Progress:      progress,
			Error:         errText,
		}
		if err := r.statuses.Put(ctx, js); err != nil {
			r.log.Warn("job status write failed", "job_id", payload.JobID, "error", err)
		}
	}

	if r.callbacks != nil {
		if err := r.callbacks.Post(ctx, &CallbackPayload{
			JobID:         payload.JobID,
			CallbackToken: payload.CallbackToken,
			ExecutionID:   payload.ExecutionID,
			Status:        status,
			Progress:      progress,
			Error:         errText,
		}); err != nil {
			r.log.Warn("callback post failed", "job_id", payload.JobID, "error", err)
		}
	}
}

// passthroughExecutor hands the merged input straight through; trigger
// nodes use it so the trigger payload becomes their output.
type passthroughExecutor struct{}

func (passthroughExecutor) Execute(ctx context.Context, nodeType string, input, config map[string]interface{}) (*executor.NodeResult, error) {
	return &executor.NodeResult{Output: input}, nil
}
