package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/loomery/loom/cmd/dispatcher/service"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
	"github.com/loomery/loom/common/queue"
)

// DispatchHandler exposes the run-submission surface
type DispatchHandler struct {
	dispatcher *service.Dispatcher
	log        *logger.Logger
}

// NewDispatchHandler creates a dispatch handler
func NewDispatchHandler(dispatcher *service.Dispatcher, log *logger.Logger) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher, log: log}
}

type dispatchRequest struct {
	WorkspaceID uuid.UUID              `json:"workspace_id"`
	Mode        string                 `json:"mode,omitempty"`
	TriggeredBy string                 `json:"triggered_by,omitempty"`
	TriggerData map[string]interface{} `json:"trigger_data,omitempty"`
	Priority    string                 `json:"priority,omitempty"`
}

// Dispatch submits a workflow run
// POST /api/v1/workflows/:id/dispatch
func (h *DispatchHandler) Dispatch(c echo.Context) error {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workflow id"})
	}

	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}
	if req.WorkspaceID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "workspace_id is required"})
	}

	mode := models.ExecutionMode(req.Mode)
	if mode == "" {
		mode = models.ModeManual
	}
	switch mode {
	case models.ModeManual, models.ModeSchedule, models.ModeWebhook, models.ModeRetry:
	default:
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid mode"})
	}

	var priority queue.Priority
	switch req.Priority {
	case "":
	case string(queue.PriorityLow), string(queue.PriorityDefault), string(queue.PriorityHigh):
		priority = queue.Priority(req.Priority)
	default:
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid priority"})
	}

	result, err := h.dispatcher.Dispatch(c.Request().Context(), &service.DispatchRequest{
		WorkflowID:  workflowID,
		WorkspaceID: req.WorkspaceID,
		Mode:        mode,
		TriggeredBy: req.TriggeredBy,
		TriggerData: req.TriggerData,
		Priority:    priority,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusAccepted, result)
}
