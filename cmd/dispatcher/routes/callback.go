package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/loomery/loom/cmd/dispatcher/container"
	"github.com/loomery/loom/cmd/dispatcher/handlers"
	"github.com/loomery/loom/cmd/dispatcher/middleware"
)

// RegisterCallbackRoutes registers the HMAC-verified worker callback surface
func RegisterCallbackRoutes(e *echo.Echo, c *container.Container) {
	cfg := c.Components.Config
	h := handlers.NewCallbackHandler(c.Statuses, c.Components.Logger)

	internal := e.Group("/internal/v1/callbacks")
	internal.Use(middleware.VerifyCallback(cfg.Callback.SharedSecret, cfg.Callback.TTL, c.Components.Logger))
	{
		internal.POST("/jobs", h.JobCallback) // POST /internal/v1/callbacks/jobs
	}
}
