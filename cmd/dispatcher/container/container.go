package container

import (
	"fmt"

	"github.com/loomery/loom/cmd/dispatcher/service"
	"github.com/loomery/loom/common/bootstrap"
	"github.com/loomery/loom/common/contract"
	"github.com/loomery/loom/common/credits"
	"github.com/loomery/loom/common/queue"
	"github.com/loomery/loom/common/ratelimit"
	"github.com/loomery/loom/common/reliability"
	"github.com/loomery/loom/common/replay"
	"github.com/loomery/loom/common/repository"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	WorkflowRepo      *repository.WorkflowRepository
	WorkspaceRepo     *repository.WorkspaceRepository
	ExecutionRepo     *repository.ExecutionRepository
	ExecutionNodeRepo *repository.ExecutionNodeRepository
	ExecutionLogRepo  *repository.ExecutionLogRepository
	ContractRepo      *repository.ContractSnapshotRepository
	CreditRepo        *repository.CreditRepository
	AttemptRepo       *repository.AttemptRepository
	ReplayRepo        *repository.ReplayPackRepository

	// Services
	Catalog     *contract.StaticCatalog
	Compiler    *contract.Compiler
	Limiter     *ratelimit.Limiter
	Meter       *credits.Meter
	Reliability *reliability.Service
	Replays     *replay.Service
	Jobs        *queue.JobQueue
	Statuses    *queue.JobStatusStore
	Dispatcher  *service.Dispatcher
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	workflowRepo := repository.NewWorkflowRepository(components.DB)
	workspaceRepo := repository.NewWorkspaceRepository(components.DB)
	executionRepo := repository.NewExecutionRepository(components.DB)
	executionNodeRepo := repository.NewExecutionNodeRepository(components.DB)
	executionLogRepo := repository.NewExecutionLogRepository(components.DB)
	contractRepo := repository.NewContractSnapshotRepository(components.DB)
	creditRepo := repository.NewCreditRepository(components.DB)
	attemptRepo := repository.NewAttemptRepository(components.DB)
	replayRepo := repository.NewReplayPackRepository(components.DB)

	catalog, err := contract.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}

	jobs := queue.New(components.Redis, cfg.Queue.Partitions)
	statuses := queue.NewJobStatusStore(components.Redis)

	compiler := contract.NewCompiler(catalog, contractRepo, log)
	limiter := ratelimit.NewLimiter(components.Redis.GetUnderlying(), log)
	meter := credits.NewMeter(creditRepo, components.Redis, log)
	rel := reliability.NewService(attemptRepo, executionNodeRepo, log)
	replays := replay.NewService(replayRepo, executionRepo, jobs, statuses, log)

	dispatcher := service.NewDispatcher(service.DispatcherOpts{
		Workflows:  workflowRepo,
		Workspaces: workspaceRepo,
		Executions: executionRepo,
		Compiler:   compiler,
		Catalog:    catalog,
		Limiter:    limiter,
		Meter:      meter,
		Replays:    replays,
		Jobs:       jobs,
		Statuses:   statuses,
		RateLimit:  cfg.Credits.RateLimitPerMinute,
		Metrics:    components.Metrics,
		Logger:     log,
	})

	return &Container{
		Components:        components,
		WorkflowRepo:      workflowRepo,
		WorkspaceRepo:     workspaceRepo,
		ExecutionRepo:     executionRepo,
		ExecutionNodeRepo: executionNodeRepo,
		ExecutionLogRepo:  executionLogRepo,
		ContractRepo:      contractRepo,
		CreditRepo:        creditRepo,
		AttemptRepo:       attemptRepo,
		ReplayRepo:        replayRepo,
		Catalog:           catalog,
		Compiler:          compiler,
		Limiter:           limiter,
		Meter:             meter,
		Reliability:       rel,
		Replays:           replays,
		Jobs:              jobs,
		Statuses:          statuses,
		Dispatcher:        dispatcher,
	}, nil
}
