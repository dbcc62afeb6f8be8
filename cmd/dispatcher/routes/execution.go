package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/loomery/loom/cmd/dispatcher/container"
	"github.com/loomery/loom/cmd/dispatcher/handlers"
)

// RegisterExecutionRoutes registers execution detail, job status, and replay routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(
		c.ExecutionRepo,
		c.ExecutionNodeRepo,
		c.ExecutionLogRepo,
		c.Statuses,
		c.Replays,
		c.Components.Logger,
	)

	executions := e.Group("/api/v1/executions")
	{
		executions.GET("/:id", h.GetExecution)    // GET /api/v1/executions/{execution_id}
		executions.POST("/:id/replay", h.Replay)  // POST /api/v1/executions/{execution_id}/replay
	}

	jobs := e.Group("/api/v1/jobs")
	{
		jobs.GET("/:id", h.GetJobStatus) // GET /api/v1/jobs/{job_id}
	}
}
