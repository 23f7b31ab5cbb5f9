package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/astrokit/sequencer/cmd/sequencerd/container"
	"github.com/astrokit/sequencer/cmd/sequencerd/handlers"
	"github.com/astrokit/sequencer/common/middleware"
)

// RegisterSequenceRoutes registers sequence CRUD, validation and
// estimation routes
func RegisterSequenceRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSequenceHandler(c.SequenceService)

	seq := e.Group("/api/v1/sequences")
	{
		seq.POST("", h.Create)
		seq.GET("", h.List)
		seq.GET("/:id", h.Get)
		seq.PUT("/:id", h.Update)
		seq.PATCH("/:id", h.Patch)
		seq.DELETE("/:id", h.Delete)
		seq.POST("/:id/validate", h.Validate)
		seq.GET("/:id/estimate", h.Estimate)
	}
}

// RegisterRunRoutes registers run lifecycle and progress routes
func RegisterRunRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewRunHandler(c.RunService)

	// Starting a run leases the sequence and drives hardware, so it carries
	// its own tighter budget on top of the service-wide limits.
	startMW := []echo.MiddlewareFunc{}
	if c.Components.Config.RateLimit.Enabled {
		startMW = append(startMW, middleware.RunStartRateLimit(c.Limiter, c.RateLimitCfg))
	}
	e.POST("/api/v1/sequences/:id/runs", h.Start, startMW...)
	e.GET("/api/v1/sequences/:id/runs", h.List)

	runs := e.Group("/api/v1/runs")
	{
		runs.GET("/:runId", h.Get)
		runs.GET("/:runId/progress", h.Progress)
		runs.POST("/:runId/stop", h.Stop)
		runs.POST("/:runId/pause", h.Pause)
		runs.POST("/:runId/resume", h.Resume)
	}
}
