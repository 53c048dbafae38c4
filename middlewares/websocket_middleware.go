package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/omnipay-gateway/utils"
)

// WebSocketAuthMiddleware reads the token from the query string, since browsers
// cannot set headers on a websocket handshake. Only admins may subscribe.
func WebSocketAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		claims, err := utils.ParseToken(token)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if claims.Role != utils.RoleAdmin {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Set("role", claims.Role)
		c.Set("subject", claims.Subject)
		c.Next()
	}
}
