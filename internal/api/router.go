package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"workfeed/internal/config"
	"workfeed/internal/constants"
	"workfeed/internal/logger"
	"workfeed/pkg/middleware"
	"workfeed/pkg/ratelimit"
	"workfeed/pkg/tracing"
)

// NewRouter builds the gin engine with the standard middleware chain and the
// handler's routes. ctx bounds background work of the middleware.
func NewRouter(ctx context.Context, cfg *config.Config, h *Handler, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
		router.Use(middleware.TraceContextMiddleware())
	}

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log))

	if cfg.Server.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(cfg.Server.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		log.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	h.RegisterRoutes(router)
	return router
}
