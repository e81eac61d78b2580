package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatcher_runs_total",
			Help: "Total number of evaluation runs by terminal state",
		},
		[]string{"state"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldwatcher_run_duration_seconds",
			Help:    "Duration of evaluation runs in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	DevicesEvaluatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatcher_devices_evaluated_total",
			Help: "Total number of device evaluations",
		},
	)

	DeviceErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatcher_device_errors_total",
			Help: "Total number of per-device evaluation errors",
		},
	)

	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatcher_findings_total",
			Help: "Total number of candidate findings by kind",
		},
		[]string{"kind"},
	)

	AlertsAdmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatcher_alerts_admitted_total",
			Help: "Total number of findings persisted as new alerts",
		},
	)

	AlertsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatcher_alerts_suppressed_total",
			Help: "Total number of findings suppressed by deduplication",
		},
	)

	NotificationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldwatcher_notification_failures_total",
			Help: "Total number of failed notification dispatches",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatcher_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coldwatcher_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 120},
		},
		[]string{"method", "endpoint", "status"},
	)

	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldwatcher_panics_recovered_total",
			Help: "Total number of recovered panics",
		},
		[]string{"location"},
	)
)
