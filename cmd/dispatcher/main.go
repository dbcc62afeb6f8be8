package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/loomery/loom/cmd/dispatcher/container"
	"github.com/loomery/loom/cmd/dispatcher/routes"
	"github.com/loomery/loom/common/bootstrap"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (DB, logger, redis, cache, metrics)
	components, err := bootstrap.Setup(ctx, "dispatcher")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap dispatcher: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	setupTelemetry(e, components)
	registerRoutes(e, serviceContainer)

	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"service": "dispatcher",
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "dispatcher",
		})
	})
}

// setupTelemetry wires the Prometheus endpoint and optional pprof routes
func setupTelemetry(e *echo.Echo, components *bootstrap.Components) {
	cfg := components.Config
	if cfg.Telemetry.EnableMetrics {
		e.GET(cfg.Telemetry.MetricsPath, echo.WrapHandler(components.Metrics.Handler()))
	}
	if cfg.Telemetry.EnablePprof {
		e.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
		e.GET("/debug/pprof/profile", echo.WrapHandler(http.HandlerFunc(pprof.Profile)))
		e.GET("/debug/pprof/trace", echo.WrapHandler(http.HandlerFunc(pprof.Trace)))
	}
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterDispatchRoutes(e, serviceContainer)
	routes.RegisterExecutionRoutes(e, serviceContainer)
	routes.RegisterWorkspaceRoutes(e, serviceContainer)
	routes.RegisterCallbackRoutes(e, serviceContainer)
}

// startServer starts the Echo server on the configured port
func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("Starting dispatcher", "port", port)

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
