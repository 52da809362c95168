package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	vcClassificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veracite_classifications_total",
		Help: "Total classification resolutions by outcome and reason.",
	}, []string{"outcome", "reason"})

	vcCorrections = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "veracite_corrections_per_item",
		Help:    "Corrective rounds needed before a resolution terminated.",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})

	vcLedgerEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veracite_ledger_entries_total",
		Help: "Total verification ledger records appended.",
	})

	vcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veracite_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	vcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veracite_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
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

		vcRequestsTotal.WithLabelValues(method, path, status).Inc()
		vcRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordResolution records one completed agreement resolution.
func RecordResolution(outcome, reason string, corrections int) {
	vcClassificationsTotal.WithLabelValues(outcome, reason).Inc()
	vcCorrections.Observe(float64(corrections))
}

// RecordLedgerAppend records a ledger record append.
func RecordLedgerAppend() {
	vcLedgerEntriesTotal.Inc()
}
