package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/loomery/loom/common/bootstrap"
	"github.com/loomery/loom/common/contract"
	"github.com/loomery/loom/common/credential"
	"github.com/loomery/loom/common/credits"
	"github.com/loomery/loom/common/queue"
	"github.com/loomery/loom/common/reliability"
	"github.com/loomery/loom/common/repository"
	"github.com/loomery/loom/common/runbook"
	"github.com/loomery/loom/common/server"

	replaysvc "github.com/loomery/loom/common/replay"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components := bootstrap.MustSetup(ctx, "runner")
	defer components.Shutdown(context.Background())

	cfg := components.Config
	log := components.Logger

	workflows := repository.NewWorkflowRepository(components.DB)
	executions := repository.NewExecutionRepository(components.DB)
	execNodes := repository.NewExecutionNodeRepository(components.DB)
	execLogs := repository.NewExecutionLogRepository(components.DB)
	credentials := repository.NewCredentialRepository(components.DB)
	attempts := repository.NewAttemptRepository(components.DB)
	creditRepo := repository.NewCreditRepository(components.DB)
	packs := repository.NewReplayPackRepository(components.DB)
	runbooks := repository.NewRunbookRepository(components.DB)

	jobs := queue.New(components.Redis, cfg.Queue.Partitions)
	statuses := queue.NewJobStatusStore(components.Redis)

	catalog, err := contract.DefaultCatalog()
	if err != nil {
		log.Error("build node catalog", "error", err)
		os.Exit(1)
	}

	resolver := credential.NewResolver(credentials, components.Keyring, components.Cache, cfg.Cache.DefaultTTL, log)
	rel := reliability.NewService(attempts, execNodes, log)
	meter := credits.NewMeter(creditRepo, components.Redis, log)
	replays := replaysvc.NewService(packs, executions, jobs, statuses, log)
	synthesiser := runbook.NewSynthesiser(runbooks, log)
	estimator := runbook.NewCostEstimator(executions, log)
	callbacks := NewCallbackClient(cfg.Callback.DispatcherURL, cfg.Callback.SharedSecret, log)

	runner := NewRunner(RunnerOpts{
		Config:         cfg,
		Jobs:           jobs,
		Statuses:       statuses,
		Workflows:      workflows,
		Executions:     executions,
		ExecNodes:      execNodes,
		ExecLogs:       execLogs,
		Resolver:       resolver,
		Reliability:    rel,
		Meter:          meter,
		AppendFixtures: replays.AppendFixtures,
		Runbooks:       synthesiser,
		Estimator:      estimator,
		Callbacks:      callbacks,
		Kinds:          catalog.KindOf,
		Metrics:        components.Metrics,
		Logger:         log,
	})

	// Health and metrics surface for the fleet
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := components.Health(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	if cfg.Telemetry.EnableMetrics {
		mux.Handle(cfg.Telemetry.MetricsPath, components.Metrics.Handler())
	}

	go func() {
		srv := server.New("runner", cfg.Service.Port, mux, log)
		if err := srv.Start(); err != nil {
			log.Error("server stopped", "error", err)
		}
		cancel()
	}()

	go runner.Start(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-shutdown:
		log.Info("runner stopping", "signal", sig.String())
	case <-ctx.Done():
	}
	cancel()
}
