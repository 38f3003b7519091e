package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/auditreport/internal/handlers"
	"github.com/huangang/auditreport/internal/middleware"
	"github.com/huangang/auditreport/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.CORSOrigins))

	// Rate limiter for routes that call the generative service
	generativeLimiter := middleware.NewRateLimiter(svc.cfg.Server.RateLimit.RPS, svc.cfg.Server.RateLimit.Burst)

	// Health check and metrics
	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics())

	api := r.Group("/api")
	{
		// Inspections
		api.POST("/inspections/:id/complete", svc.inspectionHandler.Complete)
		api.POST("/inspections/:id/reports", generativeLimiter.Middleware(), svc.inspectionHandler.Regenerate)
		api.GET("/inspections/:id/reports", svc.inspectionHandler.ListReports)

		// Reports
		api.GET("/reports/:id", svc.reportHandler.Get)

		// Rewrites
		api.POST("/rewrite", generativeLimiter.Middleware(), svc.rewriteHandler.Rewrite)

		// Report status stream
		api.GET("/events/reports", svc.sseHandler.StreamReportEvents)

		// Prompts
		api.GET("/prompts", svc.promptHandler.List)
		api.POST("/prompts", svc.promptHandler.Create)
		api.PUT("/prompts/:id", svc.promptHandler.Update)
		api.DELETE("/prompts/:id", svc.promptHandler.Delete)

		// AI usage
		api.GET("/ai-usage/stats", svc.usageHandler.GetStats)
	}
}
