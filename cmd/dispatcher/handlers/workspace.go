package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/loomery/loom/common/credits"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/reliability"
	"github.com/loomery/loom/common/repository"
)

// WorkspaceHandler exposes per-workspace reliability and credit views
type WorkspaceHandler struct {
	rel   *reliability.Service
	meter *credits.Meter
	log   *logger.Logger
}

// NewWorkspaceHandler creates a workspace handler
func NewWorkspaceHandler(rel *reliability.Service, meter *credits.Meter, log *logger.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{rel: rel, meter: meter, log: log}
}

// ConnectorMetrics returns live connector reliability for a workspace
// GET /api/v1/workspaces/:id/connector-metrics?connector=...&since=...
func (h *WorkspaceHandler) ConnectorMetrics(c echo.Context) error {
	workspaceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workspace id"})
	}

	filters := repository.AttemptFilters{
		ConnectorKey: c.QueryParam("connector"),
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "since must be RFC3339"})
		}
		filters.Since = t
	}

	metrics, err := h.rel.Metrics(c.Request().Context(), workspaceID, filters)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"metrics": metrics})
}

// Credits returns the workspace's remaining credit balance
// GET /api/v1/workspaces/:id/credits
func (h *WorkspaceHandler) Credits(c echo.Context) error {
	workspaceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workspace id"})
	}

	remaining, err := h.meter.Remaining(c.Request().Context(), workspaceID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"workspace_id": workspaceID,
		"remaining":    remaining,
	})
}

// ReconcileCredits heals hot-counter drift from the ledger
// POST /api/v1/workspaces/:id/credits/reconcile
func (h *WorkspaceHandler) ReconcileCredits(c echo.Context) error {
	workspaceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workspace id"})
	}

	used, err := h.meter.Reconcile(c.Request().Context(), workspaceID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"workspace_id": workspaceID,
		"credits_used": used,
	})
}
