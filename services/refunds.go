package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/rates"
)

const refundTimeout = 10 * time.Second

// RefundOrder refunds part or all of a paid card order. A zero amount refunds what is left.
// The merchant is debited first and credited back if the processor refuses.
func (o *Orchestrator) RefundOrder(ctx context.Context, merchantID, orderID string, amount decimal.Decimal, note string) (*models.Refund, error) {
	if o.processor == nil {
		return nil, apperrors.New(apperrors.KindValidation, "no card processor configured")
	}
	if amount.IsNegative() {
		return nil, apperrors.New(apperrors.KindValidation, "amount must not be negative")
	}

	unlock, err := o.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTimeout, err, "order %s is busy", orderID)
	}
	defer unlock()

	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.HasMerchant() || *order.MerchantID != merchantID {
		return nil, apperrors.New(apperrors.KindNotFound, "order %s not found", orderID)
	}
	if order.Rail != models.RailCard {
		return nil, apperrors.New(apperrors.KindValidation, "only card orders can be refunded")
	}
	if order.Status != models.OrderStatusPaid {
		return nil, apperrors.New(apperrors.KindInvalidState, "order %s is %s", order.ID, order.Status)
	}

	if amount.IsZero() {
		previous, err := o.store.ListRefunds(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		amount = order.Amount
		for _, r := range previous {
			if r.Status != models.RefundFailed {
				amount = amount.Sub(r.Amount)
			}
		}
		if !amount.IsPositive() {
			return nil, apperrors.New(apperrors.KindValidation, "order %s is fully refunded", order.ID)
		}
	}

	// Debit the share of the credited balance that this refund represents.
	balanceAmount := order.BalanceAmount
	if !amount.Equal(order.Amount) {
		balanceAmount = rates.Round(order.BalanceAmount.Mul(amount).DivRound(order.Amount, 16), order.BalanceCurrency)
	}

	unlockMerchant, err := o.locker.Lock(ctx, merchantLockKey(merchantID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTimeout, err, "merchant %s is busy", merchantID)
	}
	defer unlockMerchant()

	now := o.now().UTC()
	refund := &models.Refund{
		ID:            "rfd_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		OrderID:       order.ID,
		MerchantID:    merchantID,
		Amount:        amount,
		Currency:      order.Currency,
		BalanceAmount: balanceAmount,
		Status:        models.RefundPending,
		Note:          note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	fields := logrus.Fields{"refund_id": refund.ID, "order_id": order.ID, "amount": amount.String()}
	remoteCtx, cancel := context.WithTimeout(ctx, refundTimeout)
	defer cancel()
	remote, err := o.processor.CreateRefund(remoteCtx, order.ID, refund.ID, rates.Round(amount.Mul(order.RailAmount).DivRound(order.Amount, 16), order.RailCurrency), note)
	if err != nil {
		o.logger.WithFields(fields).WithError(err).Warn("processor refused refund, restoring balance")
		failed, _, ferr := o.store.FailRefund(ctx, refund.ID, truncate(err.Error(), 200))
		if ferr != nil {
			return nil, ferr
		}
		return failed, nil
	}

	completed, err := o.store.CompleteRefund(ctx, refund.ID, remote.RefundID)
	if err != nil {
		return nil, err
	}
	o.logger.WithFields(fields).Info("refund completed")
	o.publish("refund.completed", completed)
	return completed, nil
}

func (o *Orchestrator) ListRefunds(ctx context.Context, orderID string) ([]models.Refund, error) {
	return o.store.ListRefunds(ctx, orderID)
}
