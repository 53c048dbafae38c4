package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yeremiapane/omnipay-gateway/models"
)

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	Status     models.OrderStatus
	Rail       models.Rail
	MerchantID string
	From       *time.Time
	To         *time.Time
	Limit      int
}

func (f OrderFilter) match(o *models.Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Rail != "" && o.Rail != f.Rail {
		return false
	}
	if f.MerchantID != "" && (o.MerchantID == nil || *o.MerchantID != f.MerchantID) {
		return false
	}
	if f.From != nil && o.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !o.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

// PaidTransition is everything MarkOrderPaid commits in one unit.
type PaidTransition struct {
	OrderID string
	Record  models.VerificationRecord
	PaidAt  time.Time
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	// TransitionOrder moves an order from one status to another only if it is still in from.
	// It returns KindOrderNotPending when the order already left from.
	TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus, reason string, at time.Time) (*models.Order, error)
	// MarkOrderPaid inserts the verification record, flips PENDING to PAID and credits the
	// merchant in one atomic unit. A duplicate proof yields KindProofAlreadyUsed.
	MarkOrderPaid(ctx context.Context, t PaidTransition) (*models.Order, error)
}

type VerificationStore interface {
	FindVerification(ctx context.Context, kind models.ProofKind, value string) (*models.VerificationRecord, error)
	ListVerifications(ctx context.Context, orderID string) ([]models.VerificationRecord, error)
}

type MerchantStore interface {
	CreateMerchant(ctx context.Context, merchant *models.Merchant) error
	GetMerchant(ctx context.Context, id string) (*models.Merchant, error)
}

type SettlementStore interface {
	// CreateSettlement debits the merchant balance and stores a PROCESSING settlement.
	CreateSettlement(ctx context.Context, s *models.Settlement) error
	GetSettlement(ctx context.Context, id string) (*models.Settlement, error)
	ListSettlements(ctx context.Context, merchantID string) ([]models.Settlement, error)
	// CompleteSettlement is idempotent for an already completed settlement.
	CompleteSettlement(ctx context.Context, id, externalRef string, at time.Time) (*models.Settlement, error)
	// FailSettlement credits the amount back exactly once. The bool reports whether this call did the credit.
	FailSettlement(ctx context.Context, id, reason string, at time.Time) (*models.Settlement, bool, error)
	RecordSettlementAttempt(ctx context.Context, id string) error
}

type RefundStore interface {
	// CreateRefund debits the merchant and stores a PENDING refund for a PAID order.
	CreateRefund(ctx context.Context, r *models.Refund) error
	GetRefund(ctx context.Context, id string) (*models.Refund, error)
	ListRefunds(ctx context.Context, orderID string) ([]models.Refund, error)
	CompleteRefund(ctx context.Context, id, remoteRefundID string) (*models.Refund, error)
	FailRefund(ctx context.Context, id, reason string) (*models.Refund, bool, error)
}

// Store is the full persistence contract used by the orchestrator.
type Store interface {
	OrderStore
	VerificationStore
	MerchantStore
	SettlementStore
	RefundStore
}

// refundable returns how much of an order can still be refunded.
func refundable(order *models.Order, refunds []models.Refund) decimal.Decimal {
	left := order.Amount
	for _, r := range refunds {
		if r.Status != models.RefundFailed {
			left = left.Sub(r.Amount)
		}
	}
	return left
}
