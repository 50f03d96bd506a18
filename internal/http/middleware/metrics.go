// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file instruments HTTP traffic with Prometheus. Labels stay bounded:
// the path label uses the registered Gin route (e.g.
// /api/v1/automations/:id/dispatches), not the raw URL, and latency
// histograms omit status to keep series counts down.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpReqs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	httpLat = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	httpInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_inflight",
		Help: "Current number of in-flight HTTP requests.",
	})

	// Buckets tuned for JSON API payloads, 200B up to a few MiB.
	httpRespSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_response_size_bytes",
		Help: "Size of HTTP responses in bytes.",
		Buckets: []float64{
			200, 500, 1 << 10, 2 << 10, 5 << 10,
			10 << 10, 25 << 10, 50 << 10,
			100 << 10, 250 << 10, 500 << 10,
			1 << 20, 2 << 20, 5 << 20,
		},
	}, []string{"method", "path"})
)

// Metrics returns a Gin middleware recording request counts, latencies,
// in-flight concurrency, and response sizes. Mount /metrics with
// promhttp.Handler() to expose them.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			// No matched route (404s); the raw path is the best we have.
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
