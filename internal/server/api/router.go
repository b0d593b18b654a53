package api

import (
	"gridxfer/internal/server/config"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. The returned limiter should be stopped on shutdown.
func SetupRouter(handler *Handler, cfg *config.Config) (*echo.Echo, *RateLimiter) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(RequestLogger())

	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	uploadMiddleware := []echo.MiddlewareFunc{uploadLimiter.Middleware()}
	if len(cfg.UploadUsers) > 0 {
		uploadMiddleware = append(uploadMiddleware, UploadAuth(cfg.UploadUsers))
	}

	e.GET("/health", handler.HandleHealth)

	g := e.Group("/grid-transfers")
	g.Any("/upload", handler.HandleUpload, uploadMiddleware...)
	g.Any("/stats", handler.HandleStats)
	g.Any("/stats/*", handler.HandleStats)

	return e, uploadLimiter
}
