package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/store"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

func merchantID(c *gin.Context) (string, bool) {
	id := c.GetString("merchant_id")
	if id == "" {
		utils.RespondError(c, http.StatusUnauthorized, errors.New("merchant id not found in context"))
		return "", false
	}
	return id, true
}

func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, apperrors.New(apperrors.KindValidation, "invalid time %q, use RFC3339 or YYYY-MM-DD", value)
}

// orderFilter reads status, rail, from and to from the query string.
func orderFilter(c *gin.Context) (store.OrderFilter, error) {
	var filter store.OrderFilter
	if s := c.Query("status"); s != "" {
		filter.Status = models.OrderStatus(s)
		switch filter.Status {
		case models.OrderStatusPending, models.OrderStatusPaid, models.OrderStatusFailed,
			models.OrderStatusExpired, models.OrderStatusAbandoned:
		default:
			return filter, apperrors.New(apperrors.KindValidation, "unknown status %q", s)
		}
	}
	if r := c.Query("rail"); r != "" {
		rail, err := models.ParseRail(r)
		if err != nil {
			return filter, apperrors.Wrap(apperrors.KindValidation, err, "invalid rail")
		}
		filter.Rail = rail
	}
	var err error
	if filter.From, err = parseTime(c.Query("from")); err != nil {
		return filter, err
	}
	if filter.To, err = parseTime(c.Query("to")); err != nil {
		return filter, err
	}
	return filter, nil
}

// respondVerifyResult answers a state machine call. An order that is no longer
// pending is reported as a conflict carrying its current state.
func respondVerifyResult(c *gin.Context, res *services.VerifyResult) {
	if res.Outcome == services.OutcomeOrderNotPending {
		c.JSON(http.StatusConflict, utils.JSONResponse{
			Status:  false,
			Message: "order is " + string(res.Order.Status),
			Kind:    string(apperrors.KindOrderNotPending),
			Data:    res,
		})
		return
	}
	utils.RespondJSON(c, http.StatusOK, "order "+string(res.Outcome), res)
}
