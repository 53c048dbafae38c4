package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MerchantStatusActive    = "active"
	MerchantStatusSuspended = "suspended"
)

// Merchant owns a balance credited by verified orders and debited by settlements and refunds.
type Merchant struct {
	ID              string          `gorm:"primaryKey;size:64" json:"merchant_id"`
	Name            string          `gorm:"size:191;not null" json:"business_name"`
	Email           string          `gorm:"size:191" json:"email"`
	Phone           string          `gorm:"size:32" json:"phone"`
	UPIHandle       string          `gorm:"size:100" json:"upi_id,omitempty"`
	AccountName     string          `gorm:"size:191" json:"account_name,omitempty"`
	AccountNumber   string          `gorm:"size:64" json:"account_number,omitempty"`
	IFSC            string          `gorm:"size:32" json:"ifsc,omitempty"`
	BankName        string          `gorm:"size:191" json:"bank_name,omitempty"`
	USDTAddress     string          `gorm:"size:128" json:"usdt_address,omitempty"`
	BTCAddress      string          `gorm:"size:128" json:"btc_address,omitempty"`
	ETHAddress      string          `gorm:"size:128" json:"eth_address,omitempty"`
	WebhookURL      string          `gorm:"size:255" json:"webhook_url,omitempty"`
	WebhookSecret   string          `gorm:"size:128" json:"-"`
	APIKeyHash      string          `gorm:"size:128" json:"-"`
	Status          string          `gorm:"size:16;not null" json:"status"`
	BalanceCurrency string          `gorm:"size:10;not null" json:"balance_currency"`
	Balance         decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"balance"`
	TotalProcessed  decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"total_processed"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// BankAccount returns the merchant's payout account, or nil when none is configured.
func (m *Merchant) BankAccount() *BankAccount {
	if m.AccountNumber == "" {
		return nil
	}
	return &BankAccount{
		AccountName:   m.AccountName,
		AccountNumber: m.AccountNumber,
		IFSC:          m.IFSC,
		BankName:      m.BankName,
	}
}

// Wallets maps token symbols to the merchant's receiving addresses.
func (m *Merchant) Wallets() map[string]string {
	wallets := make(map[string]string)
	if m.USDTAddress != "" {
		wallets["USDT"] = m.USDTAddress
	}
	if m.BTCAddress != "" {
		wallets["BTC"] = m.BTCAddress
	}
	if m.ETHAddress != "" {
		wallets["ETH"] = m.ETHAddress
	}
	return wallets
}
