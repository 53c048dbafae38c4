package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/rates"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

type RateController struct {
	Rates *rates.Table
}

func NewRateController(table *rates.Table) *RateController {
	return &RateController{Rates: table}
}

// GetRates -> current snapshot with the supported currencies and rails
func (rc *RateController) GetRates(c *gin.Context) {
	utils.RespondJSON(c, http.StatusOK, "Rates retrieved", gin.H{
		"snapshot":   rc.Rates.Snapshot(),
		"currencies": rc.Rates.Currencies(),
		"rails":      models.AllRails,
	})
}

func (rc *RateController) Convert(c *gin.Context) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		From   string          `json:"from" binding:"required"`
		To     string          `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	converted, err := rc.Rates.Convert(req.Amount, req.From, req.To)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	rate, _ := rc.Rates.Rate(req.From, req.To)
	utils.RespondJSON(c, http.StatusOK, "Converted", gin.H{
		"amount":    req.Amount,
		"from":      req.From,
		"to":        req.To,
		"rate":      rate,
		"converted": converted,
	})
}

// Refresh -> pulls every rate source now. A failing source keeps its previous rates.
func (rc *RateController) Refresh(c *gin.Context) {
	err := rc.Rates.Refresh(c.Request.Context())
	message := "Rates refreshed"
	if err != nil {
		message = "Rates refreshed with errors"
		utils.ErrorLogger.WithError(err).Warn("manual rate refresh incomplete")
	}
	utils.RespondJSON(c, http.StatusOK, message, rc.Rates.Snapshot())
}
