package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/omnipay-gateway/utils"
)

// AuthMiddleware requires a valid bearer token and exposes its claims on the context.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("authorization header missing"))
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("invalid authorization format"))
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, err)
			c.Abort()
			return
		}
		if claims.Role == utils.RoleMerchant && claims.MerchantID == "" {
			utils.RespondError(c, http.StatusUnauthorized, errors.New("invalid merchant id in token"))
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("token", tokenString)
		c.Set("merchant_id", claims.MerchantID)
		c.Set("role", claims.Role)
		c.Next()
	}
}
