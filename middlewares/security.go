package middlewares

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders hardens JSON API responses. HSTS is only sent when the
// service is known to sit behind TLS.
func SecurityHeaders(strictTransport bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		// the API never serves documents
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")
		if strictTransport {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		// call state changes every few seconds
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}
