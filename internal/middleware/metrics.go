package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tripledger/internal/metrics"
)

// MetricsMiddleware observes request latency by method, route and status.
func MetricsMiddleware(m *metrics.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		m.RequestDuration.
			WithLabelValues(c.Request.Method, routeOf(c), strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
