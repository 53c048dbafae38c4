package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/omnipay-gateway/controllers"
	"github.com/yeremiapane/omnipay-gateway/hub"
	"github.com/yeremiapane/omnipay-gateway/middlewares"
	"github.com/yeremiapane/omnipay-gateway/rates"
	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

// Dependencies is everything the HTTP layer needs from main.
type Dependencies struct {
	Orchestrator *services.Orchestrator
	Merchants    *services.MerchantService
	Rates        *rates.Table
	Hub          *hub.Hub
	WebhookAuth  *services.WebhookAuthenticator

	CORSOrigin        string
	TokenTTL          time.Duration
	AdminEmail        string
	AdminPasswordHash string

	// RequestsPerSecond caps order traffic per client IP. Zero uses 10.
	RequestsPerSecond float64
}

func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(deps.CORSOrigin))
	r.Use(middlewares.LoggerMiddleware())
	r.Use(middlewares.NewRateLimiter(600, time.Minute).RateLimit())

	merchantCtrl := controllers.NewMerchantController(deps.Merchants, deps.TokenTTL)
	orderCtrl := controllers.NewOrderController(deps.Orchestrator)
	settlementCtrl := controllers.NewSettlementController(deps.Orchestrator)
	rateCtrl := controllers.NewRateController(deps.Rates)
	webhookCtrl := controllers.NewWebhookController(deps.Orchestrator)
	adminCtrl := controllers.NewAdminController(deps.Orchestrator, deps.AdminEmail, deps.AdminPasswordHash, deps.TokenTTL)
	eventsCtrl := controllers.NewEventsController(deps.Hub)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		utils.RespondJSON(c, 200, "pong", gin.H{"time": time.Now().UTC()})
	})

	// Rate limiter for onboarding and login
	public := r.Group("/")
	public.Use(middlewares.NewStrictRateLimiter())
	{
		public.POST("/merchants", merchantCtrl.Register)
		public.POST("/auth/token", merchantCtrl.IssueToken)
		public.POST("/auth/admin", adminCtrl.Login)
	}

	r.GET("/rates", rateCtrl.GetRates)
	r.POST("/rates/convert", rateCtrl.Convert)

	rps := deps.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	orders := r.Group("/orders")
	orders.Use(middlewares.PaymentRateLimiter(rps, int(rps*2)))
	orders.Use(middlewares.PaymentSecurityHeaders())
	orders.Use(middlewares.LogPaymentRequest())
	{
		orders.POST("", orderCtrl.CreateOrder)
		orders.GET("/:order_id", orderCtrl.GetOrder)
		orders.POST("/:order_id/verify", orderCtrl.VerifyPayment)
	}

	webhooks := r.Group("/webhooks")
	webhooks.Use(middlewares.VerifyWebhookSignature(deps.WebhookAuth))
	{
		webhooks.POST("/:provider", webhookCtrl.Handle)
	}

	// ----------------------------------------------------------------
	//                      MERCHANT ROUTES
	// ----------------------------------------------------------------
	r.POST("/auth/logout", middlewares.AuthMiddleware(), merchantCtrl.Logout)

	merchant := r.Group("/merchant")
	merchant.Use(middlewares.AuthMiddleware(), middlewares.RequireRole(utils.RoleMerchant))
	{
		merchant.GET("/profile", merchantCtrl.Profile)
		merchant.GET("/balance", merchantCtrl.Balance)
		merchant.GET("/orders", orderCtrl.ListMerchantOrders)
		merchant.POST("/orders/:order_id/refund", orderCtrl.RefundOrder)
		merchant.GET("/orders/:order_id/refunds", orderCtrl.ListRefunds)
		merchant.POST("/settlements", settlementCtrl.CreateSettlement)
		merchant.GET("/settlements", settlementCtrl.ListSettlements)
		merchant.GET("/settlements/:settlement_id", settlementCtrl.GetSettlement)
	}

	// ----------------------------------------------------------------
	//                      ADMIN ROUTES
	// ----------------------------------------------------------------
	admin := r.Group("/admin")
	admin.Use(middlewares.AuthMiddleware(), middlewares.RequireRole(utils.RoleAdmin))
	{
		admin.GET("/orders", adminCtrl.ListOrders)
		admin.GET("/orders/:order_id/verifications", adminCtrl.OrderVerifications)
		admin.POST("/orders/:order_id/abandon", adminCtrl.AbandonOrder)
		admin.POST("/orders/:order_id/fail", adminCtrl.FailOrder)
		admin.POST("/orders/sweep", adminCtrl.SweepExpired)

		admin.POST("/settlements/:settlement_id/complete", adminCtrl.CompleteSettlement)
		admin.POST("/settlements/:settlement_id/fail", adminCtrl.FailSettlement)

		admin.GET("/reports/daily", adminCtrl.DailyReport)
		admin.GET("/reports/daily/export", adminCtrl.ExportDailyReport)
		admin.GET("/processor/settlements", adminCtrl.ProcessorSettlements)

		admin.POST("/rates/refresh", rateCtrl.Refresh)
		admin.GET("/metrics", adminCtrl.Metrics)
	}

	r.GET("/ws/events", middlewares.WebSocketAuthMiddleware(), eventsCtrl.Stream)

	return r
}
