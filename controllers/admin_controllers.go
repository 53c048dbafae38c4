package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

type AdminController struct {
	Orchestrator *services.Orchestrator
	Email        string
	PasswordHash string
	TokenTTL     time.Duration
}

func NewAdminController(o *services.Orchestrator, email, passwordHash string, tokenTTL time.Duration) *AdminController {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AdminController{Orchestrator: o, Email: email, PasswordHash: passwordHash, TokenTTL: tokenTTL}
}

// Login -> operator token
func (ac *AdminController) Login(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	if ac.PasswordHash == "" || !strings.EqualFold(input.Email, ac.Email) {
		utils.RespondError(c, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ac.PasswordHash), []byte(input.Password)); err != nil {
		utils.RespondError(c, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}

	token, err := utils.GenerateToken(ac.Email, utils.RoleAdmin, ac.TokenTTL)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.InfoLogger.WithField("email", ac.Email).Info("admin login")
	utils.RespondJSON(c, http.StatusOK, "Login successful", gin.H{
		"token": token,
		"role":  utils.RoleAdmin,
	})
}

func (ac *AdminController) ListOrders(c *gin.Context) {
	filter, err := orderFilter(c)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	filter.MerchantID = c.Query("merchant_id")

	orders, err := ac.Orchestrator.ListOrders(c.Request.Context(), filter)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Orders retrieved", orders)
}

func (ac *AdminController) OrderVerifications(c *gin.Context) {
	records, err := ac.Orchestrator.ListVerifications(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Verifications retrieved", records)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func bindReason(c *gin.Context) (string, bool) {
	var req reasonRequest
	if c.Request.ContentLength == 0 {
		return "", true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return "", false
	}
	return strings.TrimSpace(req.Reason), true
}

func (ac *AdminController) AbandonOrder(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	res, err := ac.Orchestrator.AbandonOrder(c.Request.Context(), c.Param("order_id"), reason)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	respondVerifyResult(c, res)
}

func (ac *AdminController) FailOrder(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	if reason == "" {
		reason = "failed by operator"
	}
	res, err := ac.Orchestrator.FailOrder(c.Request.Context(), c.Param("order_id"), reason)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	respondVerifyResult(c, res)
}

func (ac *AdminController) SweepExpired(c *gin.Context) {
	n, err := ac.Orchestrator.SweepExpired(c.Request.Context())
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Expired orders swept", gin.H{"expired": n})
}

func (ac *AdminController) CompleteSettlement(c *gin.Context) {
	var req struct {
		UTR string `json:"utr" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	st, err := ac.Orchestrator.CompleteSettlement(c.Request.Context(), c.Param("settlement_id"), req.UTR)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement completed", st)
}

func (ac *AdminController) FailSettlement(c *gin.Context) {
	reason, ok := bindReason(c)
	if !ok {
		return
	}
	if reason == "" {
		reason = "failed by operator"
	}
	st, err := ac.Orchestrator.FailSettlement(c.Request.Context(), c.Param("settlement_id"), reason)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement failed, balance restored", st)
}

func (ac *AdminController) reportDay(c *gin.Context) (time.Time, error) {
	day := time.Now().UTC()
	if d := c.Query("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			return day, apperrors.New(apperrors.KindValidation, "date must be YYYY-MM-DD")
		}
		day = parsed
	}
	return day, nil
}

func (ac *AdminController) DailyReport(c *gin.Context) {
	day, err := ac.reportDay(c)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	report, err := ac.Orchestrator.DailyReport(c.Request.Context(), day, c.Query("merchant_id"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Daily report", report)
}

// ExportDailyReport -> the daily report as an .xlsx download
func (ac *AdminController) ExportDailyReport(c *gin.Context) {
	day, err := ac.reportDay(c)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	report, err := ac.Orchestrator.DailyReport(c.Request.Context(), day, c.Query("merchant_id"))
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=omnipay-report-%s.xlsx", report.Date))
	if err := services.WriteDailyReportXLSX(report, c.Writer); err != nil {
		utils.ErrorLogger.WithError(err).Error("error writing report workbook")
		c.Status(http.StatusInternalServerError)
	}
}

func (ac *AdminController) ProcessorSettlements(c *gin.Context) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if t, err := parseTime(c.Query("from")); err != nil {
		utils.RespondAppError(c, err)
		return
	} else if t != nil {
		from = *t
	}
	if t, err := parseTime(c.Query("to")); err != nil {
		utils.RespondAppError(c, err)
		return
	} else if t != nil {
		to = *t
	}

	list, err := ac.Orchestrator.ProcessorSettlements(c.Request.Context(), from, to)
	if err != nil {
		utils.RespondAppError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Processor settlements retrieved", list)
}

func (ac *AdminController) Metrics(c *gin.Context) {
	utils.RespondJSON(c, http.StatusOK, "Payment metrics", ac.Orchestrator.Metrics().GetMetrics())
}
