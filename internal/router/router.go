package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/recordflow/internal/config"
	"github.com/jwalitptl/recordflow/internal/handler/admin"
	"github.com/jwalitptl/recordflow/internal/handler/health"
	"github.com/jwalitptl/recordflow/internal/middleware"
	"github.com/jwalitptl/recordflow/pkg/logger"
)

// New builds the worker's HTTP surface: health probes, metrics, and
// the token-protected operator endpoints.
func New(cfg config.AdminConfig, adminHandler *admin.Handler, healthHandler *health.Handler, logger *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(logger))

	healthHandler.RegisterRoutes(r.Group("/health"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	adminGroup := r.Group("/admin", middleware.ServiceAuth(cfg.TokenSecret))
	adminHandler.RegisterRoutes(adminGroup)

	return r
}
