package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/loomery/loom/common/contract"
	"github.com/loomery/loom/common/credits"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/metrics"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/policy"
	"github.com/loomery/loom/common/queue"
	"github.com/loomery/loom/common/ratelimit"
	"github.com/loomery/loom/common/replay"
	"github.com/loomery/loom/common/repository"
)

// DispatchRequest asks for one workflow run
type DispatchRequest struct {
	WorkflowID  uuid.UUID
	WorkspaceID uuid.UUID
	Mode        models.ExecutionMode
	TriggeredBy string
	TriggerData map[string]interface{}
	Priority    queue.Priority
}

// DispatchResult reports the admitted run. The callback token stays
// server-side; clients only ever see the job and execution ids.
type DispatchResult struct {
	JobID       uuid.UUID `json:"job_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
	Partition   int       `json:"partition"`
	Status      string    `json:"status"`
}

// Dispatcher gates workflow runs and hands admitted ones to the job
// queue. Gate order: active workflow, contract compile, policy, rate
// limit, credits. The first failing gate aborts with a coded error.
type Dispatcher struct {
	workflows  *repository.WorkflowRepository
	workspaces *repository.WorkspaceRepository
	executions *repository.ExecutionRepository
	compiler   *contract.Compiler
	catalog    contract.Catalog
	limiter    *ratelimit.Limiter
	meter      *credits.Meter
	replays    *replay.Service
	jobs       *queue.JobQueue
	statuses   *queue.JobStatusStore
	rateLimit  int64
	log        *logger.Logger

	dispatched *metrics.Counter
	rejected   *metrics.Counter
}

// DispatcherOpts wires the dispatcher's dependencies
type DispatcherOpts struct {
	Workflows  *repository.WorkflowRepository
	Workspaces *repository.WorkspaceRepository
	Executions *repository.ExecutionRepository
	Compiler   *contract.Compiler
	Catalog    contract.Catalog
	Limiter    *ratelimit.Limiter
	Meter      *credits.Meter
	Replays    *replay.Service
	Jobs       *queue.JobQueue
	Statuses   *queue.JobStatusStore
	RateLimit  int64
	Metrics    *metrics.Registry
	Logger     *logger.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(opts DispatcherOpts) *Dispatcher {
	d := &Dispatcher{
		workflows:  opts.Workflows,
		workspaces: opts.Workspaces,
		executions: opts.Executions,
		compiler:   opts.Compiler,
		catalog:    opts.Catalog,
		limiter:    opts.Limiter,
		meter:      opts.Meter,
		replays:    opts.Replays,
		jobs:       opts.Jobs,
		statuses:   opts.Statuses,
		rateLimit:  opts.RateLimit,
		log:        opts.Logger,
	}
	if d.rateLimit <= 0 {
		d.rateLimit = 100
	}
	if opts.Metrics != nil {
		d.dispatched = opts.Metrics.Counter("dispatch_admitted_total", "Runs admitted through all gates", nil)
		d.rejected = opts.Metrics.Counter("dispatch_rejected_total", "Runs rejected by a gate", nil)
	}
	return d
}

// Dispatch runs the gate sequence and enqueues the job
func (d *Dispatcher) Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchResult, error) {
	workflow, err := d.workflows.GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, d.reject(err)
	}

	// Gate 1: the workflow must be active and non-empty
	if !workflow.IsActive {
		return nil, d.reject(models.NewCodedError(models.CodeWorkflowInactive, "workflow is inactive"))
	}
	if len(workflow.Nodes) == 0 {
		return nil, d.reject(models.NewCodedError(models.CodeWorkflowInactive, "workflow has no nodes"))
	}

	// Gate 2: contracts must compile to something runnable
	snapshot, err := d.compiler.Compile(ctx, workflow.ID, workflow.Nodes, workflow.Edges, false)
	if err != nil {
		return nil, d.reject(fmt.Errorf("compile contracts: %w", err))
	}
	if snapshot.Status == models.ContractInvalid {
		return nil, d.reject(models.NewCodedError(models.CodeContractInvalid,
			fmt.Sprintf("workflow contracts invalid: %d issues", len(snapshot.Issues))))
	}

	// Gate 3: workspace policy
	wsPolicy, err := d.workspaces.GetPolicy(ctx, req.WorkspaceID)
	if err != nil {
		return nil, d.reject(fmt.Errorf("load policy: %w", err))
	}
	if violations := policy.Violations(wsPolicy, workflow.Nodes); len(violations) > 0 {
		v := violations[0]
		return nil, d.reject(models.NewCodedError(v.Code, v.Message))
	}

	// Gate 4: workspace rate limit
	limit, err := d.limiter.CheckWorkspace(ctx, req.WorkspaceID, d.rateLimit)
	if err != nil {
		return nil, d.reject(fmt.Errorf("rate limit check: %w", err))
	}
	if !limit.Allowed {
		return nil, d.reject(models.NewCodedError(models.CodeRateLimited,
			fmt.Sprintf("workspace rate limit exceeded, retry in %ds", limit.RetryAfterSeconds)))
	}

	// Gate 5: remaining credits must cover the estimate
	estimatedCredits := int64(len(workflow.Nodes))
	remaining, err := d.meter.Remaining(ctx, req.WorkspaceID)
	if err != nil {
		return nil, d.reject(fmt.Errorf("check credits: %w", err))
	}
	if remaining < estimatedCredits {
		return nil, d.reject(models.NewCodedError(models.CodeInsufficientCredits,
			fmt.Sprintf("requires %d credits, %d remaining", estimatedCredits, remaining)))
	}

	execution := &models.Execution{
		ID:               uuid.New(),
		WorkflowID:       workflow.ID,
		WorkspaceID:      req.WorkspaceID,
		Status:           models.ExecutionPending,
		Mode:             req.Mode,
		TriggeredBy:      req.TriggeredBy,
		TriggerData:      req.TriggerData,
		Attempt:          1,
		MaxAttempts:      maxAttempts(workflow.Settings),
		EstimatedCostUSD: d.estimateCostUSD(workflow),
		CreatedAt:        time.Now().UTC(),
	}
	if err := d.executions.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	if d.replays != nil {
		if _, err := d.replays.Capture(ctx, execution, workflow, rand.Int63()); err != nil {
			d.log.Error("replay capture failed", "execution_id", execution.ID, "error", err)
		}
	}

	payload := &queue.JobPayload{
		JobID:         uuid.New(),
		WorkflowID:    workflow.ID,
		ExecutionID:   execution.ID,
		WorkspaceID:   req.WorkspaceID,
		TriggerData:   req.TriggerData,
		CallbackToken: uuid.NewString(),
	}

	priority := req.Priority
	if priority == "" {
		priority = priorityFor(req.Mode)
	}

	partition, err := d.jobs.Enqueue(ctx, priority, payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	if d.statuses != nil {
		executionID := execution.ID
		if err := d.statuses.Put(ctx, &models.JobStatus{
			JobID:         payload.JobID,
			ExecutionID:   &executionID,
			Partition:     partition,
			CallbackToken: payload.CallbackToken,
			Status:        "queued",
		}); err != nil {
			d.log.Warn("job status write failed", "job_id", payload.JobID, "error", err)
		}
	}

	if d.dispatched != nil {
		d.dispatched.Inc()
	}
	d.log.Info("execution dispatched",
		"workflow_id", workflow.ID,
		"execution_id", execution.ID,
		"workspace_id", req.WorkspaceID,
		"priority", priority,
		"partition", partition)

	return &DispatchResult{
		JobID:       payload.JobID,
		ExecutionID: execution.ID,
		Partition:   partition,
		Status:      "queued",
	}, nil
}

// estimateCostUSD sums catalog cost hints over the workflow's nodes
func (d *Dispatcher) estimateCostUSD(workflow *models.Workflow) float64 {
	if d.catalog == nil {
		return 0
	}
	var total float64
	for _, n := range workflow.Nodes {
		if entry, ok := d.catalog.Lookup(n.Type); ok {
			total += entry.CostHintUSD
		}
	}
	return total
}

func (d *Dispatcher) reject(err error) error {
	if d.rejected != nil {
		d.rejected.Inc()
	}
	return err
}

// priorityFor maps execution modes to queue tiers: interactive runs go
// high so schedules cannot starve them.
func priorityFor(mode models.ExecutionMode) queue.Priority {
	switch mode {
	case models.ModeManual, models.ModeWebhook:
		return queue.PriorityHigh
	case models.ModeSchedule:
		return queue.PriorityDefault
	default:
		return queue.PriorityDefault
	}
}

func maxAttempts(settings models.WorkflowSettings) int {
	if retry := settings.Retry; retry != nil {
		if !retry.Enabled {
			return 1
		}
		if retry.MaxAttempts > 0 {
			return retry.MaxAttempts
		}
	}
	return 3
}
