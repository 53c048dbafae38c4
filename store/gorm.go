package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
)

var forUpdate = clause.Locking{Strength: "UPDATE"}

// GormStore persists the gateway in any gorm dialect. Compound operations run
// in a single transaction with row locks on the order and merchant rows.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates every table the store needs.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Merchant{},
		&models.Order{},
		&models.VerificationRecord{},
		&models.Settlement{},
		&models.Refund{},
	)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.New(apperrors.KindNotFound, format, args...)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func (s *GormStore) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		if isUniqueViolation(err) {
			return apperrors.New(apperrors.KindValidation, "order %s already exists", order.ID)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (s *GormStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "order %s not found", id)
	}
	return &order, nil
}

func (s *GormStore) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	q := s.db.WithContext(ctx).Model(&models.Order{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Rail != "" {
		q = q.Where("rail = ?", filter.Rail)
	}
	if filter.MerchantID != "" {
		q = q.Where("merchant_id = ?", filter.MerchantID)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var orders []models.Order
	if err := q.Order("created_at desc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *GormStore) TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus, reason string, at time.Time) (*models.Order, error) {
	var result *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]interface{}{
				"status":         to,
				"failure_reason": reason,
				"resolved_at":    at,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update order %s: %w", id, res.Error)
		}
		var order models.Order
		if err := tx.First(&order, "id = ?", id).Error; err != nil {
			return notFound(err, "order %s not found", id)
		}
		result = &order
		if res.RowsAffected == 0 {
			return apperrors.New(apperrors.KindOrderNotPending, "order %s is %s", id, order.Status)
		}
		return nil
	})
	return result, err
}

func (s *GormStore) MarkOrderPaid(ctx context.Context, t PaidTransition) (*models.Order, error) {
	var result *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(forUpdate).First(&order, "id = ?", t.OrderID).Error; err != nil {
			return notFound(err, "order %s not found", t.OrderID)
		}
		if order.Status != models.OrderStatusPending {
			result = &order
			return apperrors.New(apperrors.KindOrderNotPending, "order %s is %s", order.ID, order.Status)
		}

		rec := t.Record
		rec.OrderID = order.ID
		if err := tx.Create(&rec).Error; err != nil {
			if isUniqueViolation(err) {
				return apperrors.New(apperrors.KindProofAlreadyUsed, "proof already used by another order")
			}
			return fmt.Errorf("failed to record verification: %w", err)
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
			Updates(map[string]interface{}{
				"status":      models.OrderStatusPaid,
				"paid_at":     t.PaidAt,
				"resolved_at": t.PaidAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark order %s paid: %w", order.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.New(apperrors.KindOrderNotPending, "order %s is no longer pending", order.ID)
		}

		if order.HasMerchant() {
			if err := adjustBalance(tx, *order.MerchantID, order.BalanceAmount, true); err != nil {
				return err
			}
		}

		paidAt := t.PaidAt
		order.Status = models.OrderStatusPaid
		order.PaidAt = &paidAt
		order.ResolvedAt = &paidAt
		result = &order
		return nil
	})
	return result, err
}

// adjustBalance adds delta to the merchant balance under a row lock. A negative
// delta that would overdraw the balance fails with KindInsufficientBalance.
func adjustBalance(tx *gorm.DB, merchantID string, delta decimal.Decimal, processed bool) error {
	var merchant models.Merchant
	if err := tx.Clauses(forUpdate).First(&merchant, "id = ?", merchantID).Error; err != nil {
		return notFound(err, "merchant %s not found", merchantID)
	}
	balance := merchant.Balance.Add(delta)
	if balance.IsNegative() {
		return apperrors.New(apperrors.KindInsufficientBalance, "balance %s is below %s", merchant.Balance.String(), delta.Neg().String())
	}
	updates := map[string]interface{}{"balance": balance}
	if processed {
		updates["total_processed"] = merchant.TotalProcessed.Add(delta)
	}
	if err := tx.Model(&models.Merchant{}).Where("id = ?", merchantID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update merchant %s balance: %w", merchantID, err)
	}
	return nil
}

func (s *GormStore) FindVerification(ctx context.Context, kind models.ProofKind, value string) (*models.VerificationRecord, error) {
	var rec models.VerificationRecord
	err := s.db.WithContext(ctx).
		Where("proof_kind = ? AND proof_value = ?", kind, value).
		First(&rec).Error
	if err != nil {
		return nil, notFound(err, "no verification for %s", kind)
	}
	return &rec, nil
}

func (s *GormStore) ListVerifications(ctx context.Context, orderID string) ([]models.VerificationRecord, error) {
	var recs []models.VerificationRecord
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	return recs, nil
}

func (s *GormStore) CreateMerchant(ctx context.Context, merchant *models.Merchant) error {
	if err := s.db.WithContext(ctx).Create(merchant).Error; err != nil {
		if isUniqueViolation(err) {
			return apperrors.New(apperrors.KindValidation, "merchant %s already exists", merchant.ID)
		}
		return fmt.Errorf("failed to create merchant: %w", err)
	}
	return nil
}

func (s *GormStore) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	var merchant models.Merchant
	if err := s.db.WithContext(ctx).First(&merchant, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "merchant %s not found", id)
	}
	return &merchant, nil
}

func (s *GormStore) CreateSettlement(ctx context.Context, st *models.Settlement) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := adjustBalance(tx, st.MerchantID, st.Amount.Neg(), false); err != nil {
			return err
		}
		st.Status = models.SettlementProcessing
		if err := tx.Create(st).Error; err != nil {
			return fmt.Errorf("failed to create settlement: %w", err)
		}
		return nil
	})
}

func (s *GormStore) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	var st models.Settlement
	if err := s.db.WithContext(ctx).First(&st, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "settlement %s not found", id)
	}
	return &st, nil
}

func (s *GormStore) ListSettlements(ctx context.Context, merchantID string) ([]models.Settlement, error) {
	q := s.db.WithContext(ctx).Model(&models.Settlement{})
	if merchantID != "" {
		q = q.Where("merchant_id = ?", merchantID)
	}
	var out []models.Settlement
	if err := q.Order("created_at desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	return out, nil
}

func (s *GormStore) CompleteSettlement(ctx context.Context, id, externalRef string, at time.Time) (*models.Settlement, error) {
	var result *models.Settlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st models.Settlement
		if err := tx.Clauses(forUpdate).First(&st, "id = ?", id).Error; err != nil {
			return notFound(err, "settlement %s not found", id)
		}
		result = &st
		switch st.Status {
		case models.SettlementCompleted:
			return nil
		case models.SettlementFailed:
			return apperrors.New(apperrors.KindInvalidState, "settlement %s already failed", id)
		}
		res := tx.Model(&models.Settlement{}).
			Where("id = ? AND status = ?", id, models.SettlementProcessing).
			Updates(map[string]interface{}{
				"status":       models.SettlementCompleted,
				"external_ref": externalRef,
				"completed_at": at,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to complete settlement %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.New(apperrors.KindInvalidState, "settlement %s left processing", id)
		}
		st.Status = models.SettlementCompleted
		st.ExternalRef = externalRef
		st.CompletedAt = &at
		return nil
	})
	return result, err
}

func (s *GormStore) FailSettlement(ctx context.Context, id, reason string, at time.Time) (*models.Settlement, bool, error) {
	var result *models.Settlement
	credited := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st models.Settlement
		if err := tx.Clauses(forUpdate).First(&st, "id = ?", id).Error; err != nil {
			return notFound(err, "settlement %s not found", id)
		}
		result = &st
		switch st.Status {
		case models.SettlementFailed:
			return nil
		case models.SettlementCompleted:
			return apperrors.New(apperrors.KindInvalidState, "settlement %s already completed", id)
		}
		res := tx.Model(&models.Settlement{}).
			Where("id = ? AND status = ?", id, models.SettlementProcessing).
			Updates(map[string]interface{}{
				"status":         models.SettlementFailed,
				"failure_reason": reason,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to fail settlement %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.New(apperrors.KindInvalidState, "settlement %s left processing", id)
		}
		if err := adjustBalance(tx, st.MerchantID, st.Amount, false); err != nil {
			return err
		}
		st.Status = models.SettlementFailed
		st.FailureReason = reason
		credited = true
		return nil
	})
	if err != nil {
		credited = false
	}
	return result, credited, err
}

func (s *GormStore) RecordSettlementAttempt(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("failed to record settlement attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.KindNotFound, "settlement %s not found", id)
	}
	return nil
}

func (s *GormStore) CreateRefund(ctx context.Context, r *models.Refund) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(forUpdate).First(&order, "id = ?", r.OrderID).Error; err != nil {
			return notFound(err, "order %s not found", r.OrderID)
		}
		if order.Status != models.OrderStatusPaid {
			return apperrors.New(apperrors.KindInvalidState, "order %s is %s", order.ID, order.Status)
		}
		var existing []models.Refund
		if err := tx.Where("order_id = ?", r.OrderID).Find(&existing).Error; err != nil {
			return fmt.Errorf("failed to load refunds: %w", err)
		}
		if refundable(&order, existing).LessThan(r.Amount) {
			return apperrors.New(apperrors.KindValidation, "refund exceeds the refundable amount")
		}
		if err := adjustBalance(tx, r.MerchantID, r.BalanceAmount.Neg(), false); err != nil {
			return err
		}
		r.Status = models.RefundPending
		if err := tx.Create(r).Error; err != nil {
			return fmt.Errorf("failed to create refund: %w", err)
		}
		return nil
	})
}

func (s *GormStore) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	var r models.Refund
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "refund %s not found", id)
	}
	return &r, nil
}

func (s *GormStore) ListRefunds(ctx context.Context, orderID string) ([]models.Refund, error) {
	var out []models.Refund
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	return out, nil
}

func (s *GormStore) CompleteRefund(ctx context.Context, id, remoteRefundID string) (*models.Refund, error) {
	var result *models.Refund
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r models.Refund
		if err := tx.Clauses(forUpdate).First(&r, "id = ?", id).Error; err != nil {
			return notFound(err, "refund %s not found", id)
		}
		result = &r
		switch r.Status {
		case models.RefundCompleted:
			return nil
		case models.RefundFailed:
			return apperrors.New(apperrors.KindInvalidState, "refund %s already failed", id)
		}
		err := tx.Model(&models.Refund{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":           models.RefundCompleted,
			"remote_refund_id": remoteRefundID,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to complete refund %s: %w", id, err)
		}
		r.Status = models.RefundCompleted
		r.RemoteRefundID = remoteRefundID
		return nil
	})
	return result, err
}

func (s *GormStore) FailRefund(ctx context.Context, id, reason string) (*models.Refund, bool, error) {
	var result *models.Refund
	credited := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r models.Refund
		if err := tx.Clauses(forUpdate).First(&r, "id = ?", id).Error; err != nil {
			return notFound(err, "refund %s not found", id)
		}
		result = &r
		switch r.Status {
		case models.RefundFailed:
			return nil
		case models.RefundCompleted:
			return apperrors.New(apperrors.KindInvalidState, "refund %s already completed", id)
		}
		err := tx.Model(&models.Refund{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":         models.RefundFailed,
			"failure_reason": reason,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to fail refund %s: %w", id, err)
		}
		if err := adjustBalance(tx, r.MerchantID, r.BalanceAmount, false); err != nil {
			return err
		}
		r.Status = models.RefundFailed
		r.FailureReason = reason
		credited = true
		return nil
	})
	if err != nil {
		credited = false
	}
	return result, credited, err
}
