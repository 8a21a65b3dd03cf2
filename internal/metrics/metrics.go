// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttendanceOutcomes counts attendance operations by result kind ("ok" on success).
	AttendanceOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "operations_total",
		Help:      "Attendance operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "notifications_total",
		Help:      "Recovery-code notifications handled by the worker.",
	}, []string{"result"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Observe records one attendance operation outcome.
func Observe(operation, outcome string) {
	if outcome == "" {
		outcome = "ok"
	}
	AttendanceOutcomes.WithLabelValues(operation, outcome).Inc()
}

// Middleware times requests by matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
