package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/astrokit/sequencer/cmd/sequencerd/container"
	"github.com/astrokit/sequencer/cmd/sequencerd/routes"
	"github.com/astrokit/sequencer/common/bootstrap"
	"github.com/astrokit/sequencer/common/db"
	seqmw "github.com/astrokit/sequencer/common/middleware"
	"github.com/astrokit/sequencer/common/repository"
	"github.com/astrokit/sequencer/common/telemetry"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, DB, Redis); the DB init
	// hook applies the schema before anything touches the tables.
	components, err := bootstrap.Setup(ctx, "sequencerd",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return repository.InitSchema(ctx, database)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap sequencerd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	telemetry.New(components.Config.Service.PprofPort, components.Logger).Start()

	e := setupEcho()
	setupMiddleware(e, serviceContainer)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	startServer(e, serviceContainer)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, serviceContainer *container.Container) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	if serviceContainer.Components.Config.RateLimit.Enabled {
		e.Use(seqmw.RateLimit(serviceContainer.Limiter, serviceContainer.RateLimitCfg))
	}
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "sequencerd",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterSequenceRoutes(e, serviceContainer)
	routes.RegisterRunRoutes(e, serviceContainer)
}

// startServer starts the Echo server on the configured port and stops any
// active runs before exit
func startServer(e *echo.Echo, serviceContainer *container.Container) {
	components := serviceContainer.Components
	port := components.Config.Service.Port
	components.Logger.Info("Starting sequencerd", "port", port)

	err := e.Start(fmt.Sprintf(":%d", port))

	// Active runs must settle (and persist) before the process exits;
	// otherwise leases dangle and device hardware is left mid-operation.
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	serviceContainer.RunService.StopAll(stopCtx)

	if err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
