package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yeremiapane/omnipay-gateway/config"
	"github.com/yeremiapane/omnipay-gateway/hub"
	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/queue"
	"github.com/yeremiapane/omnipay-gateway/rails"
	"github.com/yeremiapane/omnipay-gateway/rates"
	"github.com/yeremiapane/omnipay-gateway/router"
	"github.com/yeremiapane/omnipay-gateway/services"
	"github.com/yeremiapane/omnipay-gateway/store"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

// gateway holds the wired services and background workers.
type gateway struct {
	cfg          *config.Config
	orchestrator *services.Orchestrator
	merchants    *services.MerchantService
	rates        *rates.Table
	hub          *hub.Hub
	webhookAuth  *services.WebhookAuthenticator
	notifier     *services.WebhookNotifier
	redis        *redis.Client

	payoutWorker   *services.PayoutWorker
	paymentMonitor *services.PaymentMonitor
	sweeper        *services.ExpirySweeper
	dashboard      *services.DashboardMonitor
	stopCleanup    chan struct{}
}

func newGateway(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gateway, error) {
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}
	st := store.NewGormStore(db)
	metrics := services.NewMetrics()

	table := rates.NewTable(utils.Component("rates"),
		rates.NewCoinGeckoSource(cfg.CoinGeckoURL),
		rates.NewFiatSource(cfg.FiatRatesURL, "INR"),
	)
	if cfg.RatesInterval > 0 {
		table.Interval = cfg.RatesInterval
	}

	adapters := []rails.Adapter{
		rails.NewUPIAdapter(),
		rails.NewCryptoAdapter(rails.NewExplorerLookup(cfg.ExplorerBaseURL, cfg.ExplorerAPIKey)),
	}
	bank, err := rails.NewBankAdapter(cfg.BankNodeID)
	if err != nil {
		return nil, err
	}
	adapters = append(adapters, bank)

	var processor rails.RailClient
	if cfg.ProcessorServerKey != "" {
		client := services.NewProcessorClient(&services.ProcessorConfig{
			ServerKey:    cfg.ProcessorServerKey,
			BaseURL:      cfg.ProcessorBaseURL,
			IsProduction: cfg.ProcessorProduction,
			MerchantName: cfg.ProcessorMerchantName,
			NotifyURL:    cfg.ProcessorNotifyURL,
		}, utils.Component("processor"))
		if err := client.ValidateConfig(); err != nil {
			utils.ErrorLogger.WithError(err).Error("card processor config incomplete")
		}
		processor = client
		adapters = append(adapters, rails.NewCardAdapter(client, cfg.CheckoutURL, utils.Component("card")))
	} else {
		utils.InfoLogger.Warn("PROCESSOR_SERVER_KEY not set, card orders use the hosted checkout only")
		adapters = append(adapters, rails.NewCardAdapter(nil, cfg.CheckoutURL, utils.Component("card")))
	}

	registry, err := rails.NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}

	var jobs queue.Queue = queue.NewMemoryQueue(0)
	if cfg.SQSQueueURL != "" {
		sqsQueue, err := queue.NewSQSQueue(ctx, queue.SQSConfig{
			Region:    cfg.SQSRegion,
			QueueURL:  cfg.SQSQueueURL,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
			Endpoint:  cfg.SQSEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating payout queue: %w", err)
		}
		jobs = sqsQueue
		utils.InfoLogger.WithField("queue", cfg.SQSQueueURL).Info("payout jobs on SQS")
	}

	g := &gateway{cfg: cfg, rates: table, stopCleanup: make(chan struct{})}

	var locker services.Locker = services.NewKeyedLocker()
	if cfg.RedisAddr != "" {
		g.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := g.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("error connecting to redis: %w", err)
		}
		locker = services.NewRedisLocker(g.redis, "omnipay:lock:")
		utils.InfoLogger.WithField("addr", cfg.RedisAddr).Info("using redis locks")
	}

	g.hub = hub.NewHub(utils.Component("hub"))
	g.notifier = services.NewWebhookNotifier(utils.Component("notifier"))
	g.orchestrator = services.NewOrchestrator(services.Deps{
		Store:     st,
		Rails:     registry,
		Rates:     table,
		Locker:    locker,
		Queue:     jobs,
		Notifier:  g.notifier,
		Events:    g.hub,
		Metrics:   metrics,
		Processor: processor,
		Logger:    utils.Component("orchestrator"),
	}, services.OrchestratorConfig{HousePayee: housePayee(cfg)})
	g.merchants = services.NewMerchantService(st, utils.Component("merchants"))

	g.webhookAuth = services.NewWebhookAuthenticator(utils.Component("webhooks"), metrics,
		services.DefaultWebhookSchemes(cfg.CashfreeWebhookSecret, cfg.RazorpayWebhookSecret, cfg.PayoutWebhookSecret, cfg.WebhookMaxSkew)...)
	for _, provider := range []string{"cashfree", "razorpay", "payouts"} {
		if !g.webhookAuth.Knows(provider) {
			utils.InfoLogger.WithField("provider", provider).Warn("no webhook secret configured, callbacks will be rejected")
		}
	}

	var dispatcher services.PayoutDispatcher = services.NewManualPayouts(utils.Component("payouts"))
	if cfg.PayoutAPIURL != "" {
		dispatcher = services.NewHTTPPayouts(cfg.PayoutAPIURL, cfg.PayoutAPIKey)
	}
	g.payoutWorker = services.NewPayoutWorker(g.orchestrator, dispatcher, utils.Component("payout-worker"))

	if processor != nil {
		g.paymentMonitor = services.NewPaymentMonitor(g.orchestrator, processor, utils.Component("payment-monitor"))
		if cfg.ReconcileInterval > 0 {
			g.paymentMonitor.Interval = cfg.ReconcileInterval
		}
	}
	g.sweeper = services.NewExpirySweeper(g.orchestrator, utils.Component("expiry-sweeper"))
	if cfg.ExpirySweepInterval > 0 {
		g.sweeper.Interval = cfg.ExpirySweepInterval
	}
	g.dashboard = services.NewDashboardMonitor(g.orchestrator, g.hub, utils.Component("dashboard"))
	if cfg.DashboardInterval > 0 {
		g.dashboard.Interval = cfg.DashboardInterval
	}
	return g, nil
}

func housePayee(cfg *config.Config) rails.Payee {
	payee := rails.Payee{
		Name:      cfg.HouseName,
		UPIHandle: cfg.HouseUPIHandle,
		Wallets:   map[string]string{},
	}
	if cfg.HouseAccountNumber != "" {
		payee.Bank = &models.BankAccount{
			AccountName:   cfg.HouseAccountName,
			AccountNumber: cfg.HouseAccountNumber,
			IFSC:          cfg.HouseIFSC,
			BankName:      cfg.HouseBankName,
		}
	}
	for token, address := range map[string]string{
		"USDT": cfg.HouseUSDTAddress,
		"BTC":  cfg.HouseBTCAddress,
		"ETH":  cfg.HouseETHAddress,
	} {
		if address != "" {
			payee.Wallets[token] = address
		}
	}
	return payee
}

func (g *gateway) router() *gin.Engine {
	return router.SetupRouter(router.Dependencies{
		Orchestrator:      g.orchestrator,
		Merchants:         g.merchants,
		Rates:             g.rates,
		Hub:               g.hub,
		WebhookAuth:       g.webhookAuth,
		CORSOrigin:        g.cfg.CORSOrigin,
		TokenTTL:          g.cfg.TokenTTL,
		AdminEmail:        g.cfg.AdminEmail,
		AdminPasswordHash: g.cfg.AdminPasswordHash,
	})
}

func (g *gateway) start() {
	g.rates.Start()
	g.payoutWorker.Start()
	if g.paymentMonitor != nil {
		g.paymentMonitor.Start()
	}
	g.sweeper.Start()
	g.dashboard.Start()
	utils.StartBlacklistCleanup(10*time.Minute, g.stopCleanup)
}

func (g *gateway) stop() {
	close(g.stopCleanup)
	g.dashboard.Stop()
	g.sweeper.Stop()
	if g.paymentMonitor != nil {
		g.paymentMonitor.Stop()
	}
	g.payoutWorker.Stop()
	g.rates.Stop()
	g.notifier.Wait()
	if g.redis != nil {
		if err := g.redis.Close(); err != nil {
			utils.ErrorLogger.WithError(err).Error("error closing redis client")
		}
	}
}
