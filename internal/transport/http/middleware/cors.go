package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Maksone34334/x402new/internal/x402"
)

// CORS adds Cross-Origin Resource Sharing headers to responses. Payment
// receipt headers are exposed so the browser-side agent can read them.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	originsMap := make(map[string]bool)
	allowAll := false

	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
		originsMap[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if originsMap[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Expose-Headers",
			x402.HeaderPaymentRequired+","+x402.HeaderPaymentResponse+","+x402.HeaderLegacyPaymentResponse)

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			c.Header("Access-Control-Allow-Headers",
				"Origin,Content-Type,Accept,Authorization,X-Request-ID,X-Trace-ID,"+x402.HeaderPaymentSignature)
			c.Header("Access-Control-Max-Age", "86400")

			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
