package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	attestraAgentsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attestra_agents_total",
		Help: "Total number of registered agent identities.",
	})

	attestraRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attestra_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	attestraRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attestra_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	attestraAttestationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attestra_attestations_total",
		Help: "Total ledger append attempts by outcome.",
	}, []string{"outcome"})

	attestraVerifyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attestra_verify_failures_total",
		Help: "Total attestation verification failures by kind.",
	}, []string{"kind"})

	attestraScoreComputationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attestra_score_computations_total",
		Help: "Total trust score computations (cache misses).",
	})

	attestraWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attestra_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		attestraRequestsTotal.WithLabelValues(method, path, status).Inc()
		attestraRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records a ledger append attempt and its outcome.
func RecordAppend(outcome string) {
	attestraAttestationsTotal.WithLabelValues(outcome).Inc()
}

// RecordVerifyFailure records a failed attestation verification by kind.
func RecordVerifyFailure(kind string) {
	attestraVerifyFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordScoreComputation records a trust score computation that missed the cache.
func RecordScoreComputation() {
	attestraScoreComputationsTotal.Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		attestraWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		attestraWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// SetAgentsGauge sets the registered agent count gauge.
func SetAgentsGauge(count float64) {
	attestraAgentsTotal.Set(count)
}
