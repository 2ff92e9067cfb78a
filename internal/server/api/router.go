package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, limiter *RateLimiter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Execution (rate-limited)
	e.POST("/api/execute", handler.HandleExecute, limiter.Middleware())
	e.POST("/api/execute/archive", handler.HandleArchive, limiter.Middleware())

	// History
	e.GET("/api/runs/:id", handler.HandleInfo)
	e.GET("/r/:id", handler.HandleTranscript)
	e.DELETE("/api/runs/:id/:token", handler.HandleDelete)

	return e
}
