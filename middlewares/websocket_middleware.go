package middlewares

import (
	"github.com/gin-gonic/gin"
)

// WebSocketAuthMiddleware authenticates upgrade requests, which browsers send
// without custom headers, from the "token" query parameter.
func WebSocketAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatus(401)
			return
		}
		if !authenticate(c, token) {
			c.AbortWithStatus(401)
			return
		}
		c.Next()
	}
}
