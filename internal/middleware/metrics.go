// Package middleware provides the Gin middleware chain shared by the Airlock
// server and gateway: request IDs, security headers, metrics, bearer-token
// authentication, role checks, rate limiting, and audit logging. Ordering is
// fixed in the routers: Recovery → RequestID → Metrics → SecurityHeaders →
// RateLimit → Auth → role checks → Audit.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-platform/airlock/internal/telemetry"
)

// MetricsMiddleware records a request counter and latency histogram for every
// request. The path label is c.FullPath() — the matched route template, not
// the raw URL — so user-supplied path segments cannot inflate label
// cardinality. Requests matching no route use "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
