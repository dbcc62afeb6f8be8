package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/loomery/loom/cmd/dispatcher/container"
	"github.com/loomery/loom/cmd/dispatcher/handlers"
)

// RegisterWorkspaceRoutes registers reliability and credit routes
func RegisterWorkspaceRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkspaceHandler(c.Reliability, c.Meter, c.Components.Logger)

	ws := e.Group("/api/v1/workspaces")
	{
		ws.GET("/:id/connector-metrics", h.ConnectorMetrics)  // GET /api/v1/workspaces/{id}/connector-metrics
		ws.GET("/:id/credits", h.Credits)                     // GET /api/v1/workspaces/{id}/credits
		ws.POST("/:id/credits/reconcile", h.ReconcileCredits) // POST /api/v1/workspaces/{id}/credits/reconcile
	}
}
