package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StepsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_steps_executed_total",
			Help: "Sequence steps executed, by channel and outcome (sent, failed, skipped, requeued, retried)",
		},
		[]string{"channel", "outcome"},
	)

	ProviderSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_sends_total",
			Help: "Send calls made against provider APIs",
		},
		[]string{"provider_type", "channel", "result"},
	)

	ProviderSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_send_duration_seconds",
			Help:    "Latency of provider send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider_type"},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Normalized webhook events, by type and whether a dispatch log matched",
		},
		[]string{"event", "matched"},
	)

	JobsScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_scheduled_total",
			Help: "Delayed step jobs handed to the job queue",
		},
	)

	CampaignTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_transitions_total",
			Help: "Campaign status transitions",
		},
		[]string{"to"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Register registers all metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(
		StepsExecutedTotal,
		ProviderSendsTotal,
		ProviderSendDuration,
		WebhookEventsTotal,
		JobsScheduledTotal,
		CampaignTransitionsTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Instrument records request count and latency per route template.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"path":   path,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
