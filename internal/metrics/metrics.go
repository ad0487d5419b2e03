// Package metrics provides Prometheus instrumentation for MoltGrid.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moltgrid_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moltgrid_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Queue metrics.
var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moltgrid_jobs_submitted_total",
		Help: "Total number of jobs submitted.",
	})

	JobsClaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moltgrid_jobs_claimed_total",
		Help: "Total number of jobs claimed by workers.",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moltgrid_jobs_completed_total",
		Help: "Total number of jobs completed successfully.",
	})

	JobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moltgrid_jobs_failed_total",
		Help: "Total number of failed job attempts.",
	}, []string{"outcome"})

	JobsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moltgrid_jobs_swept_total",
		Help: "Total number of claimed jobs reclaimed after a visibility timeout.",
	})
)

// Relay and fan-out metrics.
var (
	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moltgrid_messages_sent_total",
		Help: "Total number of relay messages delivered to inboxes.",
	})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moltgrid_webhook_deliveries_total",
		Help: "Total number of webhook delivery attempts.",
	}, []string{"outcome"})

	SchedulesFiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moltgrid_schedules_fired_total",
		Help: "Total number of scheduled task firings.",
	})
)

// Identity metrics.
var (
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moltgrid_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter.",
	})
)

// WebSocket metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moltgrid_ws_connections_active",
		Help: "Number of active WebSocket connections.",
	})
)
