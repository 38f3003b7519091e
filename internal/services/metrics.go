package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generativeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditreport_generative_attempts_total",
		Help: "Generative call attempts by model and outcome",
	}, []string{"model", "outcome"})

	generativeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditreport_generative_fallbacks_total",
		Help: "Times a rate-limited model was replaced by the next candidate",
	})

	reportTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditreport_report_transitions_total",
		Help: "Report status transitions written by the scheduler",
	}, []string{"status"})

	reportsSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditreport_reports_swept_total",
		Help: "GENERATING reports failed by a sweep",
	}, []string{"reason"})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auditreport_generation_duration_seconds",
		Help:    "Wall time of one report generation procedure",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	generationInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auditreport_generation_in_flight",
		Help: "1 while this session is generating a report",
	})
)
