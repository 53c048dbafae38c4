package middlewares

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/omnipay-gateway/utils"
)

// RequireRole lets the request through when the authenticated role is one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := c.Get("role")
		if !exists {
			utils.RespondError(c, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			c.Abort()
			return
		}
		for _, role := range roles {
			if userRole == role {
				c.Next()
				return
			}
		}
		utils.RespondError(c, http.StatusForbidden, fmt.Errorf("%v access required", roles))
		c.Abort()
	}
}
