package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/models"
)

const (
	responseMetaKey = "response_meta"
	requestStartKey = "request_started_at"
)

// Response meta fields written by the dashboard and other cached reads.
const (
	MetaCacheHit       = "cache_hit"
	MetaCacheKey       = "cache_key"
	MetaPeriod         = "period"
	MetaRangeStart     = "range_start"
	MetaRangeEnd       = "range_end"
	MetaProcessingTime = "processing_time_ms"
)

// WithResponseMeta starts the request clock and an empty meta map for handlers to fill.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
	}
}

// SetCacheHit records whether the payload was served from the indicator cache.
func SetCacheHit(c *gin.Context, hit bool) {
	ensureMeta(c)[MetaCacheHit] = hit
}

// SetCacheResult records the cache key consulted and whether it hit.
func SetCacheResult(c *gin.Context, key string, hit bool) {
	meta := ensureMeta(c)
	meta[MetaCacheHit] = hit
	if key != "" {
		meta[MetaCacheKey] = key
	}
}

// SetPeriod records the dashboard period and the [start, end) range it resolved to.
func SetPeriod(c *gin.Context, period models.Period, start, end time.Time) {
	meta := ensureMeta(c)
	meta[MetaPeriod] = period
	meta[MetaRangeStart] = start
	meta[MetaRangeEnd] = end
}

// ExtractMeta returns the meta stored on the context, or nil when nothing was recorded.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	return nil
}

// ResponseMeta returns the recorded meta stamped with the time spent so far.
// Handlers call it right before writing so the timing lands in the body.
func ResponseMeta(c *gin.Context) map[string]interface{} {
	meta := ensureMeta(c)
	started := time.Now()
	if c != nil {
		if v, ok := c.Get(requestStartKey); ok {
			if t, ok := v.(time.Time); ok {
				started = t
			}
		}
	}
	meta[MetaProcessingTime] = time.Since(started).Milliseconds()
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if meta := ExtractMeta(c); meta != nil {
		return meta
	}
	newMeta := make(map[string]interface{})
	if c != nil {
		c.Set(responseMetaKey, newMeta)
	}
	return newMeta
}
