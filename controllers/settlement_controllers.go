package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

type SettlementController struct {
	Orchestrator *services.Orchestrator
}

func NewSettlementController(o *services.Orchestrator) *SettlementController {
	return &SettlementController{Orchestrator: o}
}

// CreateSettlement -> debits the balance and queues a payout
func (sc *SettlementController) CreateSettlement(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	st, err := sc.Orchestrator.CreateSettlement(c.Request.Context(), id, req.Amount)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Settlement requested", st)
}

func (sc *SettlementController) ListSettlements(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		return
	}
	list, err := sc.Orchestrator.ListSettlements(c.Request.Context(), id)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlements retrieved", list)
}

func (sc *SettlementController) GetSettlement(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		return
	}
	st, err := sc.Orchestrator.GetSettlement(c.Request.Context(), c.Param("settlement_id"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	if st.MerchantID != id {
		utils.RespondAppError(c, apperrors.New(apperrors.KindNotFound, "settlement %s not found", st.ID))
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement found", st)
}
