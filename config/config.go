package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Config is everything the gateway reads from the environment.
type Config struct {
	Port       string
	GinMode    string
	LogLevel   string
	CORSOrigin string

	DBDriver string
	DBDSN    string

	JWTSecret         string
	TokenTTL          time.Duration
	AdminEmail        string
	AdminPasswordHash string

	ProcessorServerKey    string
	ProcessorBaseURL      string
	ProcessorProduction   bool
	ProcessorMerchantName string
	ProcessorNotifyURL    string
	CheckoutURL           string

	CashfreeWebhookSecret string
	RazorpayWebhookSecret string
	PayoutWebhookSecret   string
	WebhookMaxSkew        time.Duration

	ExplorerBaseURL string
	ExplorerAPIKey  string
	CoinGeckoURL    string
	FiatRatesURL    string
	RatesInterval   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQSQueueURL  string
	SQSRegion    string
	SQSEndpoint  string
	AWSAccessKey string
	AWSSecretKey string

	PayoutAPIURL string
	PayoutAPIKey string

	BankNodeID int64

	HouseName          string
	HouseUPIHandle     string
	HouseAccountName   string
	HouseAccountNumber string
	HouseIFSC          string
	HouseBankName      string
	HouseUSDTAddress   string
	HouseBTCAddress    string
	HouseETHAddress    string

	ExpirySweepInterval time.Duration
	ReconcileInterval   time.Duration
	DashboardInterval   time.Duration
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := cast.ToDurationE(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads the configuration. Call godotenv.Load first to pick up a .env file.
func Load() *Config {
	return &Config{
		Port:       getEnv("PORT", "8080"),
		GinMode:    getEnv("GIN_MODE", "debug"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		DBDriver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:    getEnv("DB_DSN", "omnipay.db"),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		TokenTTL:          getDuration("TOKEN_TTL", 24*time.Hour),
		AdminEmail:        getEnv("ADMIN_EMAIL", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		ProcessorServerKey:    getEnv("PROCESSOR_SERVER_KEY", ""),
		ProcessorBaseURL:      getEnv("PROCESSOR_BASE_URL", ""),
		ProcessorProduction:   cast.ToBool(getEnv("PROCESSOR_PRODUCTION", "false")),
		ProcessorMerchantName: getEnv("PROCESSOR_MERCHANT_NAME", ""),
		ProcessorNotifyURL:    getEnv("PROCESSOR_NOTIFY_URL", ""),
		CheckoutURL:           getEnv("CHECKOUT_URL", ""),

		CashfreeWebhookSecret: getEnv("CASHFREE_WEBHOOK_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		PayoutWebhookSecret:   getEnv("PAYOUT_WEBHOOK_SECRET", ""),
		WebhookMaxSkew:        getDuration("WEBHOOK_MAX_SKEW", 5*time.Minute),

		ExplorerBaseURL: getEnv("EXPLORER_BASE_URL", ""),
		ExplorerAPIKey:  getEnv("EXPLORER_API_KEY", ""),
		CoinGeckoURL:    getEnv("COINGECKO_URL", ""),
		FiatRatesURL:    getEnv("FIAT_RATES_URL", ""),
		RatesInterval:   getDuration("RATES_INTERVAL", 5*time.Minute),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       cast.ToInt(getEnv("REDIS_DB", "0")),

		SQSQueueURL:  getEnv("SQS_QUEUE_URL", ""),
		SQSRegion:    getEnv("AWS_REGION", "ap-south-1"),
		SQSEndpoint:  getEnv("SQS_ENDPOINT", ""),
		AWSAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		PayoutAPIURL: getEnv("PAYOUT_API_URL", ""),
		PayoutAPIKey: getEnv("PAYOUT_API_KEY", ""),

		BankNodeID: cast.ToInt64(getEnv("BANK_REFERENCE_NODE", "1")),

		HouseName:          getEnv("HOUSE_NAME", "OmniPay"),
		HouseUPIHandle:     getEnv("HOUSE_UPI_ID", ""),
		HouseAccountName:   getEnv("HOUSE_ACCOUNT_NAME", ""),
		HouseAccountNumber: getEnv("HOUSE_ACCOUNT_NUMBER", ""),
		HouseIFSC:          getEnv("HOUSE_IFSC", ""),
		HouseBankName:      getEnv("HOUSE_BANK_NAME", ""),
		HouseUSDTAddress:   getEnv("HOUSE_USDT_ADDRESS", ""),
		HouseBTCAddress:    getEnv("HOUSE_BTC_ADDRESS", ""),
		HouseETHAddress:    getEnv("HOUSE_ETH_ADDRESS", ""),

		ExpirySweepInterval: getDuration("EXPIRY_SWEEP_INTERVAL", 5*time.Minute),
		ReconcileInterval:   getDuration("RECONCILE_INTERVAL", time.Minute),
		DashboardInterval:   getDuration("DASHBOARD_INTERVAL", 10*time.Second),
	}
}

// Validate reports settings the gateway cannot start without.
func (c *Config) Validate() []string {
	var problems []string
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is not set")
	}
	switch c.DBDriver {
	case "sqlite", "mysql", "postgres":
	default:
		problems = append(problems, "DB_DRIVER must be sqlite, mysql or postgres")
	}
	return problems
}
