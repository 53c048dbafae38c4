package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yeremiapane/omnipay-gateway/utils"
)

// PaymentSecurityHeaders adds headers for endpoints that return payment instructions.
func PaymentSecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Next()
	}
}

// PaymentRateLimiter limits payment calls per client IP with a token bucket.
func PaymentRateLimiter(perSecond float64, burst int) gin.HandlerFunc {
	return newIPLimiters(rate.Limit(perSecond), burst).handler("please wait before making another payment request")
}

// LogPaymentRequest logs every payment call with its order id when the route has one.
func LogPaymentRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}
		if id := c.Param("order_id"); id != "" {
			fields["order_id"] = id
		}
		utils.InfoLogger.WithFields(fields).Info("payment request")
	}
}
