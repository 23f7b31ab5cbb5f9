// Package middleware provides shared echo middleware for the sequencer's
// HTTP surfaces.
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/astrokit/sequencer/common/ratelimit"
)

// tooManyRequests renders the standard 429 payload
func tooManyRequests(c echo.Context, scope string, result *ratelimit.Result) error {
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error": scope + "_rate_limit_exceeded",
		"details": map[string]interface{}{
			"limit":               result.Limit,
			"current_count":       result.CurrentCount,
			"retry_after_seconds": result.RetryAfterSeconds,
		},
	})
}

// RateLimit enforces the global and per-client request budgets. Redis
// errors fail open; availability of the control API matters more than
// strict accounting.
func RateLimit(limiter *ratelimit.Limiter, cfg ratelimit.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			global, err := limiter.CheckGlobal(ctx, cfg)
			if err == nil && !global.Allowed {
				return tooManyRequests(c, "global", global)
			}

			client, err := limiter.CheckClient(ctx, c.RealIP(), cfg)
			if err == nil && !client.Allowed {
				return tooManyRequests(c, "client", client)
			}

			return next(c)
		}
	}
}

// RunStartRateLimit enforces the tighter per-client budget on run starts
func RunStartRateLimit(limiter *ratelimit.Limiter, cfg ratelimit.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := limiter.CheckRunStarts(c.Request().Context(), c.RealIP(), cfg)
			if err == nil && !result.Allowed {
				return tooManyRequests(c, "run_start", result)
			}
			return next(c)
		}
	}
}
