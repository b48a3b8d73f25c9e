package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/service"
)

// unmatchedRoute labels requests no route matched; raw URLs never become label values.
const unmatchedRoute = "unmatched"

// Metrics records request counts and latency per route template.
// Scrapes of scrapePath are not counted.
func Metrics(metricsSvc *service.MetricsService, scrapePath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || (scrapePath != "" && c.Request.URL.Path == scrapePath) {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
