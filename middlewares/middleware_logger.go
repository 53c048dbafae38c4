package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/utils"
)

func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		entry := utils.InfoLogger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"ip":      c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Info("request")
	}
}
