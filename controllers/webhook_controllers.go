package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

const payoutProvider = "payouts"

type WebhookController struct {
	Orchestrator *services.Orchestrator
}

func NewWebhookController(o *services.Orchestrator) *WebhookController {
	return &WebhookController{Orchestrator: o}
}

// Handle applies an inbound webhook whose signature was already verified.
// Events for unknown orders or settlements are acknowledged so the sender stops retrying.
func (wc *WebhookController) Handle(c *gin.Context) {
	raw, ok := c.Get("raw_body")
	body, isBytes := raw.([]byte)
	if !ok || !isBytes {
		utils.RespondError(c, http.StatusUnauthorized, errors.New("unverified webhook"))
		return
	}
	provider := strings.ToLower(c.Param("provider"))
	log := utils.InfoLogger.WithField("provider", provider)

	if provider == payoutProvider {
		ev, err := services.ParsePayoutEvent(body)
		if err != nil {
			utils.RespondAppError(c, err)
			return
		}
		st, err := wc.Orchestrator.HandlePayoutEvent(c.Request.Context(), ev)
		if err != nil {
			wc.respondFailure(c, log.WithField("settlement_id", ev.SettlementID), err)
			return
		}
		utils.RespondJSON(c, http.StatusOK, "Payout event applied", st)
		return
	}

	ev, err := services.ParseProcessorEvent(provider, body)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	res, err := wc.Orchestrator.HandleProcessorEvent(c.Request.Context(), ev)
	if err != nil {
		wc.respondFailure(c, log.WithField("order_id", ev.OrderID), err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Processor event applied", gin.H{
		"order_id": res.Order.ID,
		"status":   res.Order.Status,
		"outcome":  res.Outcome,
	})
}

func (wc *WebhookController) respondFailure(c *gin.Context, log *logrus.Entry, err error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound, apperrors.KindValidation, apperrors.KindInvalidState,
		apperrors.KindProofAlreadyUsed, apperrors.KindInvalidProof:
		log.WithError(err).Warn("webhook acknowledged without effect")
		c.JSON(http.StatusOK, utils.JSONResponse{
			Status:  false,
			Message: apperrors.PublicMessage(err),
			Kind:    string(apperrors.KindOf(err)),
		})
		return
	}
	utils.RespondAppError(c, err)
}
