package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

type MerchantController struct {
	Merchants *services.MerchantService
	TokenTTL  time.Duration
}

func NewMerchantController(merchants *services.MerchantService, tokenTTL time.Duration) *MerchantController {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &MerchantController{Merchants: merchants, TokenTTL: tokenTTL}
}

// Register -> onboards a merchant. The API key and secret are only shown here.
func (mc *MerchantController) Register(c *gin.Context) {
	var req services.RegisterMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	creds, err := mc.Merchants.Register(c.Request.Context(), req)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	utils.InfoLogger.WithField("merchant_id", creds.Merchant.ID).Info("new merchant registered")
	utils.RespondJSON(c, http.StatusCreated, "Merchant registered", gin.H{
		"merchant_id": creds.Merchant.ID,
		"api_key":     creds.APIKey,
		"api_secret":  creds.APISecret,
		"merchant":    creds.Merchant,
	})
}

// IssueToken -> exchanges merchant credentials for a bearer token
func (mc *MerchantController) IssueToken(c *gin.Context) {
	var input struct {
		MerchantID string `json:"merchant_id" binding:"required"`
		APIKey     string `json:"api_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	merchant, err := mc.Merchants.Authenticate(c.Request.Context(), input.MerchantID, input.APIKey)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	token, err := utils.GenerateToken(merchant.ID, utils.RoleMerchant, mc.TokenTTL)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Token issued", gin.H{
		"token":      token,
		"role":       utils.RoleMerchant,
		"expires_in": int(mc.TokenTTL.Seconds()),
	})
}

// Logout -> revokes the bearer token used for this request
func (mc *MerchantController) Logout(c *gin.Context) {
	token := c.GetString("token")
	if token == "" {
		utils.RespondError(c, http.StatusUnauthorized, errors.New("token not found in context"))
		return
	}
	until := time.Now().Add(mc.TokenTTL)
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(*utils.CustomClaims); ok && claims.ExpiresAt != nil {
			until = claims.ExpiresAt.Time
		}
	}
	utils.BlacklistToken(token, until)
	utils.RespondJSON(c, http.StatusOK, "Logged out", nil)
}

func (mc *MerchantController) Balance(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		return
	}
	balance, err := mc.Merchants.Balance(c.Request.Context(), id)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Balance retrieved", balance)
}

func (mc *MerchantController) Profile(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		return
	}
	merchant, err := mc.Merchants.Get(c.Request.Context(), id)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Merchant found", merchant)
}
