// Package metrics provides Prometheus instrumentation for the escrow service.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "handypay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// IntentsCreatedTotal counts payment intent creations by result.
	IntentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "intents_created_total",
			Help:      "Total payment intent creations by result.",
		},
		[]string{"result"},
	)

	// CapturesTotal counts capture attempts by result.
	CapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "captures_total",
			Help:      "Total payment intent captures by result.",
		},
		[]string{"result"},
	)

	// TransfersTotal counts release transfers by recipient role and result.
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "transfers_total",
			Help:      "Total release transfers by recipient role and result.",
		},
		[]string{"role", "result"},
	)

	// ReversalsTotal counts transfer reversals by result.
	ReversalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "reversals_total",
			Help:      "Total transfer reversals by result.",
		},
		[]string{"result"},
	)

	// WebhookEventsTotal counts processor webhook events by type and result.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "webhook_events_total",
			Help:      "Total processor webhook events by type and result.",
		},
		[]string{"type", "result"},
	)

	// JobTransitionsTotal counts job status transitions.
	JobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "job_transitions_total",
			Help:      "Total job status transitions by target status.",
		},
		[]string{"to"},
	)

	// SweepRunsTotal counts auto-release sweep executions.
	SweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "sweep_runs_total",
			Help:      "Total auto-release sweep executions.",
		},
	)

	// SweepReleasedTotal counts jobs auto-released by sweeps.
	SweepReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "sweep_released_total",
			Help:      "Total jobs auto-released past their confirmation deadline.",
		},
	)

	// AlertsTotal counts operator alerts raised by severity.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "handypay",
			Name:      "alerts_total",
			Help:      "Total operator alerts raised by severity.",
		},
		[]string{"severity"},
	)

	// ActiveFeedClients tracks connected operator feed websockets.
	ActiveFeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "handypay",
			Name:      "feed_clients_active",
			Help:      "Currently connected live feed websocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		IntentsCreatedTotal,
		CapturesTotal,
		TransfersTotal,
		ReversalsTotal,
		WebhookEventsTotal,
		JobTransitionsTotal,
		SweepRunsTotal,
		SweepReleasedTotal,
		AlertsTotal,
		ActiveFeedClients,
	)
}

// Middleware returns a gin middleware recording request counts and latency.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, httpStatusLabel(status)).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func httpStatusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
