package handlers

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var startTime = time.Now()

// reportStatusCollector exposes the current number of reports per status,
// read from the database at scrape time.
type reportStatusCollector struct {
	db   *gorm.DB
	desc *prometheus.Desc
}

func newReportStatusCollector(db *gorm.DB) *reportStatusCollector {
	return &reportStatusCollector{
		db: db,
		desc: prometheus.NewDesc(
			"auditreport_reports",
			"Number of reports by status",
			[]string{"status"}, nil,
		),
	}
}

func (c *reportStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *reportStatusCollector) Collect(ch chan<- prometheus.Metric) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := c.db.Model(&models.Report{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return
	}
	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(r.Count), r.Status)
	}
}

var registerOnce sync.Once

// RegisterMetrics adds the service-level collectors to the default registry.
// Generation counters are registered by the services package itself.
func RegisterMetrics(db *gorm.DB, hub *services.SSEHub, queue services.TaskQueue) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			newReportStatusCollector(db),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "auditreport_uptime_seconds",
				Help: "Time since server start in seconds",
			}, func() float64 { return time.Since(startTime).Seconds() }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "auditreport_sse_active_clients",
				Help: "Number of active SSE connections",
			}, func() float64 { return float64(hub.ClientCount()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "auditreport_queue_async_enabled",
				Help: "Whether the Redis task queue is in use (1=yes, 0=no)",
			}, func() float64 {
				if queue != nil && queue.IsAsync() {
					return 1
				}
				return 0
			}),
		)
	})
}

// Metrics serves the Prometheus text format.
func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
