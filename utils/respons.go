package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
)

type JSONResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Status:  code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, err error) {
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: err.Error(),
		Data:    nil,
	})
}

// RespondAppError maps a domain error to its status code and kind. Internal
// details are logged, never returned.
func RespondAppError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	code := apperrors.HTTPStatus(kind)
	if code >= http.StatusInternalServerError {
		ErrorLogger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).WithError(err).Error("request failed")
	}
	c.JSON(code, JSONResponse{
		Status:  false,
		Message: apperrors.PublicMessage(err),
		Kind:    string(kind),
	})
}
