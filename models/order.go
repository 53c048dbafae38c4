package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Rail is the settlement channel an order is paid through.
type Rail string

const (
	RailUPI    Rail = "UPI"
	RailBank   Rail = "BANK"
	RailCrypto Rail = "CRYPTO"
	RailCard   Rail = "CARD"
)

// AllRails lists every rail the gateway accepts.
var AllRails = []Rail{RailUPI, RailBank, RailCrypto, RailCard}

// ParseRail accepts the canonical names plus the aliases used by older clients.
func ParseRail(s string) (Rail, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UPI":
		return RailUPI, nil
	case "BANK", "BANK_TRANSFER":
		return RailBank, nil
	case "CRYPTO", "USDT":
		return RailCrypto, nil
	case "CARD", "USD":
		return RailCard, nil
	}
	return "", fmt.Errorf("unsupported rail %q", s)
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
	OrderStatusAbandoned OrderStatus = "ABANDONED"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

// BankAccount holds the payee details shown for bank transfers.
type BankAccount struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bank_name"`
	Branch        string `json:"branch,omitempty"`
}

// RailDescriptor is what the payer needs to complete the payment.
type RailDescriptor struct {
	Rail                  Rail         `json:"rail"`
	PaymentURI            string       `json:"payment_uri,omitempty"`
	PayeeName             string       `json:"payee_name,omitempty"`
	UPIHandle             string       `json:"upi_handle,omitempty"`
	Bank                  *BankAccount `json:"bank,omitempty"`
	ReferenceCode         string       `json:"reference_code,omitempty"`
	Token                 string       `json:"token,omitempty"`
	Network               string       `json:"network,omitempty"`
	Address               string       `json:"address,omitempty"`
	RequiredConfirmations int          `json:"required_confirmations,omitempty"`
	RedirectURL           string       `json:"redirect_url,omitempty"`
	Amount                string       `json:"amount"`
	Currency              string       `json:"currency"`
	Instructions          []string     `json:"instructions,omitempty"`
}

type Order struct {
	ID              string                             `gorm:"primaryKey;size:64" json:"order_id"`
	MerchantID      *string                            `gorm:"size:64;index" json:"merchant_id,omitempty"`
	Amount          decimal.Decimal                    `gorm:"type:decimal(24,8);not null" json:"amount"`
	Currency        string                             `gorm:"size:10;not null" json:"currency"`
	Rail            Rail                               `gorm:"size:10;not null;index" json:"rail"`
	Status          OrderStatus                        `gorm:"size:12;not null;index" json:"status"`
	Descriptor      datatypes.JSONType[RailDescriptor] `json:"rail_descriptor"`
	RailAmount      decimal.Decimal                    `gorm:"type:decimal(24,8)" json:"rail_amount"`
	RailCurrency    string                             `gorm:"size:10" json:"rail_currency"`
	BalanceAmount   decimal.Decimal                    `gorm:"type:decimal(24,8)" json:"balance_amount"`
	BalanceCurrency string                             `gorm:"size:10" json:"balance_currency"`
	CustomerEmail   string                             `gorm:"size:191" json:"customer_email,omitempty"`
	CustomerPhone   string                             `gorm:"size:32" json:"customer_phone,omitempty"`
	Description     string                             `gorm:"size:255" json:"description,omitempty"`
	RemoteOrderID   string                             `gorm:"size:100" json:"remote_order_id,omitempty"`
	FailureReason   string                             `gorm:"size:255" json:"failure_reason,omitempty"`
	CreatedAt       time.Time                          `gorm:"not null;index" json:"created_at"`
	ExpiresAt       time.Time                          `gorm:"not null;index" json:"expires_at"`
	PaidAt          *time.Time                         `json:"paid_at,omitempty"`
	ResolvedAt      *time.Time                         `json:"resolved_at,omitempty"`
}

// RailDescriptor returns the stored payer instructions.
func (o *Order) RailDescriptor() RailDescriptor {
	return o.Descriptor.Data()
}

// HasMerchant reports whether the order belongs to a registered merchant.
func (o *Order) HasMerchant() bool {
	return o.MerchantID != nil && *o.MerchantID != ""
}

// PastWindow reports whether a pending order is past expiresAt, whatever its rail.
func (o *Order) PastWindow(now time.Time) bool {
	return o.Status == OrderStatusPending && now.After(o.ExpiresAt)
}

// Expired reports whether a pending order is past its payment window. Card orders
// only expire once the processor confirms nothing was captured.
func (o *Order) Expired(now time.Time) bool {
	return o.Rail != RailCard && o.PastWindow(now)
}

// EffectiveStatus projects expiry at read time; a persisted status always wins over the projection.
func (o *Order) EffectiveStatus(now time.Time) OrderStatus {
	if o.Expired(now) {
		return OrderStatusExpired
	}
	return o.Status
}
