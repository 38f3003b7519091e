package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of every subsystem the pipeline needs.
type HealthHandler struct {
	db        *gorm.DB
	queue     services.TaskQueue
	hub       *services.SSEHub
	scheduler *services.ReportScheduler
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, hub *services.SSEHub, scheduler *services.ReportScheduler) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, hub: hub, scheduler: scheduler}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	counts := map[models.ReportStatus]int64{}
	for _, s := range []models.ReportStatus{models.ReportStatusPending, models.ReportStatusGenerating} {
		var n int64
		h.db.Model(&models.Report{}).Where("status = ?", s).Count(&n)
		counts[s] = n
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "auditreport",
		"components": gin.H{
			"database":           dbStatus,
			"queue_mode":         queueMode,
			"sse_clients":        h.hub.ClientCount(),
			"generating":         h.scheduler != nil && h.scheduler.Running(),
			"pending_reports":    counts[models.ReportStatusPending],
			"generating_reports": counts[models.ReportStatusGenerating],
		},
	})
}
