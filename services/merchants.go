package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/store"
)

type RegisterMerchantRequest struct {
	Name          string `json:"business_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	UPIHandle     string `json:"upi_id"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bank_name"`
	USDTAddress   string `json:"usdt_address"`
	BTCAddress    string `json:"btc_address"`
	ETHAddress    string `json:"eth_address"`
	WebhookURL    string `json:"webhook_url"`
	Currency      string `json:"balance_currency"`
}

// MerchantCredentials are shown once, at registration. Only the key hash is stored.
type MerchantCredentials struct {
	Merchant  *models.Merchant `json:"merchant"`
	APIKey    string           `json:"api_key"`
	APISecret string           `json:"api_secret"`
}

type Balance struct {
	MerchantID     string          `json:"merchant_id"`
	Balance        decimal.Decimal `json:"balance"`
	TotalProcessed decimal.Decimal `json:"total_processed"`
	Currency       string          `json:"currency"`
}

type MerchantService struct {
	store  store.MerchantStore
	logger logrus.FieldLogger
}

func NewMerchantService(s store.MerchantStore, logger logrus.FieldLogger) *MerchantService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MerchantService{store: s, logger: logger}
}

func (s *MerchantService) Register(ctx context.Context, req RegisterMerchantRequest) (*MerchantCredentials, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" {
		return nil, apperrors.New(apperrors.KindValidation, "business_name is required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "a valid email is required")
	}
	if req.AccountNumber != "" && req.IFSC == "" {
		return nil, apperrors.New(apperrors.KindValidation, "ifsc is required with account_number")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	apiKey, err := randomToken("pk_")
	if err != nil {
		return nil, err
	}
	apiSecret, err := randomToken("sk_")
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing api key: %w", err)
	}

	now := time.Now().UTC()
	merchant := &models.Merchant{
		ID:              "mch_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		UPIHandle:       strings.TrimSpace(req.UPIHandle),
		AccountName:     req.AccountName,
		AccountNumber:   req.AccountNumber,
		IFSC:            strings.ToUpper(req.IFSC),
		BankName:        req.BankName,
		USDTAddress:     req.USDTAddress,
		BTCAddress:      req.BTCAddress,
		ETHAddress:      req.ETHAddress,
		WebhookURL:      req.WebhookURL,
		WebhookSecret:   apiSecret,
		APIKeyHash:      string(hash),
		Status:          models.MerchantStatusActive,
		BalanceCurrency: currency,
		Balance:         decimal.Zero,
		TotalProcessed:  decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateMerchant(ctx, merchant); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"merchant_id": merchant.ID, "name": merchant.Name}).Info("merchant registered")
	return &MerchantCredentials{Merchant: merchant, APIKey: apiKey, APISecret: apiSecret}, nil
}

// Authenticate checks an API key against the stored hash.
func (s *MerchantService) Authenticate(ctx context.Context, merchantID, apiKey string) (*models.Merchant, error) {
	merchant, err := s.store.GetMerchant(ctx, merchantID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, apperrors.New(apperrors.KindUnauthorized, "invalid merchant credentials")
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(merchant.APIKeyHash), []byte(apiKey)) != nil {
		return nil, apperrors.New(apperrors.KindUnauthorized, "invalid merchant credentials")
	}
	if merchant.Status != models.MerchantStatusActive {
		return nil, apperrors.New(apperrors.KindUnauthorized, "merchant is %s", merchant.Status)
	}
	return merchant, nil
}

func (s *MerchantService) Get(ctx context.Context, merchantID string) (*models.Merchant, error) {
	return s.store.GetMerchant(ctx, merchantID)
}

func (s *MerchantService) Balance(ctx context.Context, merchantID string) (*Balance, error) {
	merchant, err := s.store.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		MerchantID:     merchant.ID,
		Balance:        merchant.Balance,
		TotalProcessed: merchant.TotalProcessed,
		Currency:       merchant.BalanceCurrency,
	}, nil
}

func randomToken(prefix string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("error generating token: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}
