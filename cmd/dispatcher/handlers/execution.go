package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/queue"
	"github.com/loomery/loom/common/replay"
	"github.com/loomery/loom/common/repository"
)

// ExecutionHandler exposes execution detail, job status, and replay
type ExecutionHandler struct {
	executions *repository.ExecutionRepository
	execNodes  *repository.ExecutionNodeRepository
	execLogs   *repository.ExecutionLogRepository
	statuses   *queue.JobStatusStore
	replays    *replay.Service
	log        *logger.Logger
}

// NewExecutionHandler creates an execution handler
func NewExecutionHandler(
	executions *repository.ExecutionRepository,
	execNodes *repository.ExecutionNodeRepository,
	execLogs *repository.ExecutionLogRepository,
	statuses *queue.JobStatusStore,
	replays *replay.Service,
	log *logger.Logger,
) *ExecutionHandler {
	return &ExecutionHandler{
		executions: executions,
		execNodes:  execNodes,
		execLogs:   execLogs,
		statuses:   statuses,
		replays:    replays,
		log:        log,
	}
}

// GetExecution returns one execution with its nodes and logs
// GET /api/v1/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid execution id"})
	}

	ctx := c.Request().Context()
	execution, err := h.executions.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	nodes, err := h.execNodes.ListByExecution(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	logs, err := h.execLogs.ListByExecution(ctx, id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution": execution,
		"nodes":     nodes,
		"logs":      logs,
	})
}

// GetJobStatus returns the fleet-side status of a job
// GET /api/v1/jobs/:id
func (h *ExecutionHandler) GetJobStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid job id"})
	}

	status, err := h.statuses.Get(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

type replayRequest struct {
	TriggerOverride   map[string]interface{} `json:"trigger_override,omitempty"`
	UseLatestWorkflow bool                   `json:"use_latest_workflow,omitempty"`
	StrictReplay      bool                   `json:"strict_replay,omitempty"`
	TriggeredBy       string                 `json:"triggered_by,omitempty"`
}

// Replay starts a deterministic rerun of a captured execution
// POST /api/v1/executions/:id/replay
func (h *ExecutionHandler) Replay(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid execution id"})
	}

	var req replayRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}

	child, err := h.replays.Rerun(c.Request().Context(), id, replay.RerunOptions{
		TriggerOverride:   req.TriggerOverride,
		UseLatestWorkflow: req.UseLatestWorkflow,
		StrictReplay:      req.StrictReplay,
		TriggeredBy:       req.TriggeredBy,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"execution_id":        child.ID,
		"replay_of":           id,
		"status":              child.Status,
		"deterministic":       child.IsDeterministicReplay,
		"parent_execution_id": child.ParentExecutionID,
	})
}
