package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/waiter-call/utils"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with a correlation id, reusing the caller's.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		infoLog, errLog := utils.Loggers()
		status := c.Writer.Status()
		entry := infoLog.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if uid := c.GetUint(ContextUserID); uid != 0 {
			entry = entry.WithField("user_id", uid)
		}
		if status >= 500 {
			errLog.WithFields(entry.Data).Error("request failed")
			return
		}
		entry.Info("request")
	}
}
