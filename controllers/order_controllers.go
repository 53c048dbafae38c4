package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/rails"
	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

type OrderController struct {
	Orchestrator *services.Orchestrator
}

func NewOrderController(o *services.Orchestrator) *OrderController {
	return &OrderController{Orchestrator: o}
}

type createOrderRequest struct {
	MerchantID    string          `json:"merchant_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Rail          string          `json:"rail" binding:"required"`
	Token         string          `json:"token"`
	CustomerEmail string          `json:"customer_email"`
	CustomerPhone string          `json:"customer_phone"`
	Description   string          `json:"description"`
}

// CreateOrder -> creates a pending order and returns the payer instructions
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	rail, err := models.ParseRail(req.Rail)
	if err != nil {
		utils.RespondAppError(c, apperrors.Wrap(apperrors.KindValidation, err, "invalid rail"))
		return
	}

	res, err := oc.Orchestrator.CreateOrder(c.Request.Context(), services.CreateOrderRequest{
		MerchantID:    req.MerchantID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Rail:          rail,
		Token:         req.Token,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Description:   req.Description,
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order created", res)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	order, err := oc.Orchestrator.GetOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order found", order)
}

type verifyRequest struct {
	Kind  string `json:"proof_kind"`
	Value string `json:"proof" binding:"required"`
}

// VerifyPayment -> submits a UTR or transaction hash for a pending order
func (oc *OrderController) VerifyPayment(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	order, err := oc.Orchestrator.GetOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	if order.Rail == models.RailCard {
		utils.RespondAppError(c, apperrors.New(apperrors.KindValidation, "card payments are confirmed by the processor"))
		return
	}

	res, err := oc.Orchestrator.VerifyPayment(c.Request.Context(), order.ID, rails.Proof{
		Kind:  models.ProofKind(strings.ToUpper(req.Kind)),
		Value: req.Value,
	})
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	respondVerifyResult(c, res)
}

// ListMerchantOrders -> orders of the authenticated merchant
func (oc *OrderController) ListMerchantOrders(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		return
	}
	filter, err := orderFilter(c)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	filter.MerchantID = id

	orders, err := oc.Orchestrator.ListOrders(c.Request.Context(), filter)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Orders retrieved", orders)
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// RefundOrder -> refunds part or all of a paid card order. A zero amount refunds the remainder.
func (oc *OrderController) RefundOrder(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		return
	}
	var req refundRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondError(c, http.StatusBadRequest, err)
			return
		}
	}

	refund, err := oc.Orchestrator.RefundOrder(c.Request.Context(), id, c.Param("order_id"), req.Amount, req.Note)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	if refund.Status == models.RefundFailed {
		c.JSON(http.StatusBadGateway, utils.JSONResponse{
			Status:  false,
			Message: "processor rejected the refund",
			Data:    refund,
		})
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Refund completed", refund)
}

func (oc *OrderController) ListRefunds(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		return
	}
	order, err := oc.Orchestrator.GetOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	if !order.HasMerchant() || *order.MerchantID != id {
		utils.RespondAppError(c, apperrors.New(apperrors.KindNotFound, "order %s not found", order.ID))
		return
	}
	refunds, err := oc.Orchestrator.ListRefunds(c.Request.Context(), order.ID)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Refunds retrieved", refunds)
}
