package middleware

import (
	"strconv"
	"time"

	"slide_analyzer/internal/observability"

	"github.com/gin-gonic/gin"
)

const unmatchedRoute = "unmatched"

// PrometheusMiddleware records request counts, latency and in-flight
// requests per route template. Requests to the skipped paths are not
// recorded. A nil metrics set disables recording.
func PrometheusMiddleware(metrics *observability.Metrics, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		code := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, code).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(started).Seconds())
	}
}
