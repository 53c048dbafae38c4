package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/queue"
	"github.com/yeremiapane/omnipay-gateway/rails"
)

const compensationEnqueueTimeout = 5 * time.Second

var errCompensationNotQueued = errors.New("compensation job not queued")

// CreateSettlement debits the merchant balance and queues the payout.
func (o *Orchestrator) CreateSettlement(ctx context.Context, merchantID string, amount decimal.Decimal) (*models.Settlement, error) {
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.KindValidation, "amount must be greater than zero")
	}

	unlock, err := o.locker.Lock(ctx, merchantLockKey(merchantID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTimeout, err, "merchant %s is busy", merchantID)
	}
	defer unlock()

	merchant, err := o.store.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	settlement := &models.Settlement{
		ID:         "stl_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		MerchantID: merchant.ID,
		Amount:     amount,
		Currency:   merchant.BalanceCurrency,
		Status:     models.SettlementProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.CreateSettlement(ctx, settlement); err != nil {
		if apperrors.Is(err, apperrors.KindInsufficientBalance) {
			o.logger.WithFields(logrus.Fields{"merchant_id": merchantID, "amount": amount.String()}).Info("settlement refused: insufficient balance")
		}
		return nil, err
	}

	fields := logrus.Fields{"settlement_id": settlement.ID, "merchant_id": merchantID, "amount": amount.String()}
	if err := o.queue.Enqueue(ctx, queue.Job{Kind: queue.JobDispatchPayout, SettlementID: settlement.ID}); err != nil {
		// The debit stands; an operator completes or fails it by hand.
		o.logger.WithFields(fields).WithError(err).Error("error queueing payout")
	}
	o.logger.WithFields(fields).Info("settlement created")
	o.publish("settlement.created", settlement)
	return settlement, nil
}

func (o *Orchestrator) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	return o.store.GetSettlement(ctx, id)
}

func (o *Orchestrator) ListSettlements(ctx context.Context, merchantID string) ([]models.Settlement, error) {
	return o.store.ListSettlements(ctx, merchantID)
}

// CompleteSettlement records the payout reference. Completing twice is a no-op.
func (o *Orchestrator) CompleteSettlement(ctx context.Context, id, externalRef string) (*models.Settlement, error) {
	if strings.TrimSpace(externalRef) == "" {
		return nil, apperrors.New(apperrors.KindValidation, "utr is required")
	}
	settlement, err := o.store.CompleteSettlement(ctx, id, strings.TrimSpace(externalRef), o.now().UTC())
	if err != nil {
		return settlement, err
	}
	o.logger.WithFields(logrus.Fields{"settlement_id": id, "utr": externalRef}).Info("settlement completed")
	o.publish("settlement.completed", settlement)
	return settlement, nil
}

// FailSettlement marks the payout failed and credits the merchant back. If the credit
// cannot be committed now, a compensation job keeps retrying it.
func (o *Orchestrator) FailSettlement(ctx context.Context, id, reason string) (*models.Settlement, error) {
	if reason == "" {
		reason = "payout failed"
	}
	settlement, err := o.compensate(ctx, id, reason)
	if err == nil || apperrors.Is(err, apperrors.KindInvalidState) || apperrors.Is(err, apperrors.KindNotFound) {
		return settlement, err
	}

	o.logger.WithField("settlement_id", id).WithError(err).Error("compensation failed, queueing retry")
	enqueueCtx, cancel := context.WithTimeout(context.Background(), compensationEnqueueTimeout)
	defer cancel()
	if qerr := o.queue.Enqueue(enqueueCtx, queue.Job{Kind: queue.JobCompensate, SettlementID: id, Reason: reason}); qerr != nil {
		o.logger.WithField("settlement_id", id).WithError(qerr).Error("error queueing compensation")
		return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Errorf("%w: %v", errCompensationNotQueued, qerr), "settlement %s compensation failed", id)
	}
	return nil, apperrors.Wrap(apperrors.KindInternal, err, "settlement %s compensation pending", id)
}

func (o *Orchestrator) compensate(ctx context.Context, id, reason string) (*models.Settlement, error) {
	current, err := o.store.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := o.locker.Lock(ctx, merchantLockKey(current.MerchantID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	settlement, credited, err := o.store.FailSettlement(ctx, id, reason, o.now().UTC())
	if err != nil {
		return settlement, err
	}
	if credited {
		o.metrics.SettlementFailed()
		o.logger.WithFields(logrus.Fields{
			"settlement_id": id,
			"merchant_id":   settlement.MerchantID,
			"amount":        settlement.Amount.String(),
		}).Warnf("settlement failed, balance restored: %s", reason)
		o.publish("settlement.failed", settlement)
	}
	return settlement, nil
}

// HandlePayoutEvent applies an authenticated payout provider callback.
func (o *Orchestrator) HandlePayoutEvent(ctx context.Context, ev *PayoutEvent) (*models.Settlement, error) {
	switch ev.Status {
	case "SUCCESS", "COMPLETED", "PROCESSED":
		return o.CompleteSettlement(ctx, ev.SettlementID, ev.UTR)
	case "FAILED", "REJECTED", "REVERSED":
		return o.FailSettlement(ctx, ev.SettlementID, firstNonEmpty(ev.Reason, "payout "+strings.ToLower(ev.Status)))
	}
	return o.store.GetSettlement(ctx, ev.SettlementID)
}

// ProcessorSettlements passes the card processor's own settlement report through.
func (o *Orchestrator) ProcessorSettlements(ctx context.Context, from, to time.Time) ([]rails.RemoteSettlement, error) {
	if o.processor == nil {
		return nil, apperrors.New(apperrors.KindValidation, "no card processor configured")
	}
	list, err := o.processor.FetchSettlements(ctx, from, to)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "error fetching processor settlements")
	}
	return list, nil
}
