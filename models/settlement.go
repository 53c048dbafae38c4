package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SettlementStatus string

const (
	SettlementProcessing SettlementStatus = "PROCESSING"
	SettlementCompleted  SettlementStatus = "COMPLETED"
	SettlementFailed     SettlementStatus = "FAILED"
)

// Settlement is a payout of merchant balance. The amount is debited when the row is created.
type Settlement struct {
	ID            string           `gorm:"primaryKey;size:64" json:"settlement_id"`
	MerchantID    string           `gorm:"size:64;not null;index" json:"merchant_id"`
	Amount        decimal.Decimal  `gorm:"type:decimal(24,8);not null" json:"amount"`
	Currency      string           `gorm:"size:10;not null" json:"currency"`
	Status        SettlementStatus `gorm:"size:12;not null;index" json:"status"`
	ExternalRef   string           `gorm:"size:100" json:"utr,omitempty"`
	FailureReason string           `gorm:"size:255" json:"failure_reason,omitempty"`
	Attempts      int              `json:"attempts"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundCompleted RefundStatus = "COMPLETED"
	RefundFailed    RefundStatus = "FAILED"
)

// Refund returns part or all of a paid card order to the customer.
type Refund struct {
	ID             string          `gorm:"primaryKey;size:64" json:"refund_id"`
	OrderID        string          `gorm:"size:64;not null;index" json:"order_id"`
	MerchantID     string          `gorm:"size:64;not null;index" json:"merchant_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"amount"`
	Currency       string          `gorm:"size:10;not null" json:"currency"`
	BalanceAmount  decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"balance_amount"`
	Status         RefundStatus    `gorm:"size:12;not null" json:"status"`
	RemoteRefundID string          `gorm:"size:100" json:"remote_refund_id,omitempty"`
	Note           string          `gorm:"size:255" json:"note,omitempty"`
	FailureReason  string          `gorm:"size:255" json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
