package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/loomery/loom/cmd/dispatcher/container"
	"github.com/loomery/loom/cmd/dispatcher/handlers"
)

// RegisterDispatchRoutes registers workflow dispatch routes
func RegisterDispatchRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewDispatchHandler(c.Dispatcher, c.Components.Logger)

	wf := e.Group("/api/v1/workflows")
	{
		wf.POST("/:id/dispatch", h.Dispatch) // POST /api/v1/workflows/{workflow_id}/dispatch
	}
}
