package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Maksone34334/x402new/internal/ratelimit"
)

// KeyFunc extracts the identifier a limiter tier is keyed by.
type KeyFunc func(*gin.Context) string

// ClientKey keys rate limits by network origin. Gin's ClientIP already
// resolves X-Forwarded-For against trusted proxies, so the spoofable raw
// header is never trusted directly.
func ClientKey() KeyFunc {
	return func(c *gin.Context) string {
		if ip := c.ClientIP(); ip != "" {
			return ip
		}
		return "unknown"
	}
}

// RateLimit enforces one limiter tier on a route. The X-RateLimit-*
// headers are attached to every outcome, including downstream 402s and
// 200s, so callers can pace themselves without being denied first.
func RateLimit(limiter *ratelimit.Limiter, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientKey()
	}

	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		res := limiter.CheckLimit(key(c))

		headers := c.Writer.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limiter.Max()))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))

		if !res.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "Rate limit exceeded",
				"message":   fmt.Sprintf("Too many requests. Limit resets at %s", res.ResetTime.UTC().Format("2006-01-02T15:04:05.000Z")),
				"resetTime": res.ResetTime.UnixMilli(),
			})
			return
		}

		c.Next()
	}
}
