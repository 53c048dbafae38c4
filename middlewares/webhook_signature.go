package middlewares

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

const maxWebhookBody = 1 << 20

// VerifyWebhookSignature authenticates inbound webhooks on the raw body before
// any handler parses them. The verified body is stored under "raw_body".
func VerifyWebhookSignature(auth *services.WebhookAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := c.Param("provider")
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, errors.New("error reading webhook body"))
			c.Abort()
			return
		}
		if len(body) > maxWebhookBody {
			utils.RespondError(c, http.StatusRequestEntityTooLarge, errors.New("webhook body too large"))
			c.Abort()
			return
		}

		if err := auth.Authenticate(provider, c.Request.Header, body); err != nil {
			utils.RespondAppError(c, err)
			c.Abort()
			return
		}

		c.Set("raw_body", body)
		c.Next()
	}
}
