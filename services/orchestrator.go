package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/queue"
	"github.com/yeremiapane/omnipay-gateway/rails"
	"github.com/yeremiapane/omnipay-gateway/rates"
	"github.com/yeremiapane/omnipay-gateway/store"
)

// EventPublisher fans out order and settlement events to live dashboards.
type EventPublisher interface {
	Publish(event string, data interface{})
}

// ResultOutcome says what a state machine call did to the order.
type ResultOutcome string

const (
	OutcomePaid            ResultOutcome = "paid"
	OutcomeFailed          ResultOutcome = "failed"
	OutcomeAbandoned       ResultOutcome = "abandoned"
	OutcomeExpired         ResultOutcome = "expired"
	OutcomeIgnored         ResultOutcome = "ignored"
	OutcomeOrderNotPending ResultOutcome = "order_not_pending"
)

// VerifyResult reports the order after a transition attempt.
// OrderNotPending is an outcome here, not an error.
type VerifyResult struct {
	Order   *models.Order `json:"order"`
	Outcome ResultOutcome `json:"outcome"`
}

// Success reports whether the order ended up PAID.
func (r *VerifyResult) Success() bool {
	return r != nil && r.Order != nil && r.Order.Status == models.OrderStatusPaid
}

type OrchestratorConfig struct {
	DefaultCurrency        string
	DefaultBalanceCurrency string
	DisplayCurrencies      []string
	// HousePayee receives payments for orders created without a merchant.
	HousePayee rails.Payee
}

// Deps wires the orchestrator. Store, Rails and Rates are required.
type Deps struct {
	Store     store.Store
	Rails     *rails.Registry
	Rates     *rates.Table
	Locker    Locker
	Queue     queue.Queue
	Notifier  Notifier
	Events    EventPublisher
	Metrics   *Metrics
	Processor rails.RailClient
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

// Orchestrator owns every order, settlement and refund transition.
type Orchestrator struct {
	store     store.Store
	rails     *rails.Registry
	rates     *rates.Table
	locker    Locker
	queue     queue.Queue
	notifier  Notifier
	events    EventPublisher
	metrics   *Metrics
	processor rails.RailClient
	logger    logrus.FieldLogger
	now       func() time.Time
	config    OrchestratorConfig
}

func NewOrchestrator(deps Deps, config OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		store:     deps.Store,
		rails:     deps.Rails,
		rates:     deps.Rates,
		locker:    deps.Locker,
		queue:     deps.Queue,
		notifier:  deps.Notifier,
		events:    deps.Events,
		metrics:   deps.Metrics,
		processor: deps.Processor,
		logger:    deps.Logger,
		now:       deps.Now,
		config:    config,
	}
	if o.locker == nil {
		o.locker = NewKeyedLocker()
	}
	if o.queue == nil {
		o.queue = queue.NewMemoryQueue(0)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.config.DefaultCurrency == "" {
		o.config.DefaultCurrency = "INR"
	}
	if o.config.DefaultBalanceCurrency == "" {
		o.config.DefaultBalanceCurrency = "INR"
	}
	if len(o.config.DisplayCurrencies) == 0 {
		o.config.DisplayCurrencies = []string{"INR", "USD", "USDT"}
	}
	return o
}

func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

func (o *Orchestrator) Rates() *rates.Table { return o.rates }

func (o *Orchestrator) publish(event string, data interface{}) {
	if o.events != nil {
		o.events.Publish(event, data)
	}
}

func orderLockKey(id string) string { return "order:" + id }
func merchantLockKey(id string) string { return "merchant:" + id }

// CreateOrderRequest is the input of CreateOrder. Token picks the coin for CRYPTO orders.
type CreateOrderRequest struct {
	MerchantID    string
	Amount        decimal.Decimal
	Currency      string
	Rail          models.Rail
	Token         string
	CustomerEmail string
	CustomerPhone string
	Description   string
}

type CreateOrderResult struct {
	Order       *models.Order              `json:"order"`
	Conversions map[string]decimal.Decimal `json:"conversions"`
}

// CreateOrder prices the order on its rail, asks the adapter for payer instructions and stores it PENDING.
func (o *Orchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if !req.Amount.IsPositive() {
		return nil, apperrors.New(apperrors.KindValidation, "amount must be greater than zero")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = o.config.DefaultCurrency
	}
	adapter, err := o.rails.Get(req.Rail)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err, "unsupported rail %q", req.Rail)
	}

	payee := o.config.HousePayee
	balanceCurrency := o.config.DefaultBalanceCurrency
	var merchantID *string
	if req.MerchantID != "" {
		merchant, err := o.store.GetMerchant(ctx, req.MerchantID)
		if err != nil {
			return nil, err
		}
		if merchant.Status != models.MerchantStatusActive {
			return nil, apperrors.New(apperrors.KindValidation, "merchant %s is %s", merchant.ID, merchant.Status)
		}
		payee = rails.Payee{
			Name:      merchant.Name,
			UPIHandle: merchant.UPIHandle,
			Bank:      merchant.BankAccount(),
			Wallets:   merchant.Wallets(),
		}
		if merchant.BalanceCurrency != "" {
			balanceCurrency = merchant.BalanceCurrency
		}
		id := merchant.ID
		merchantID = &id
	}

	railCurrency, err := adapter.Currency(req.Token, currency)
	if err != nil {
		return nil, err
	}
	railAmount, err := o.rates.Convert(req.Amount, currency, railCurrency)
	if err != nil {
		return nil, err
	}
	balanceAmount, err := o.rates.Convert(req.Amount, currency, balanceCurrency)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	order := &models.Order{
		ID:              "ord_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		MerchantID:      merchantID,
		Amount:          req.Amount,
		Currency:        currency,
		Rail:            adapter.Rail(),
		Status:          models.OrderStatusPending,
		RailAmount:      railAmount,
		RailCurrency:    railCurrency,
		BalanceAmount:   balanceAmount,
		BalanceCurrency: balanceCurrency,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		Description:     req.Description,
		CreatedAt:       now,
		ExpiresAt:       now.Add(adapter.ExpiryWindow()),
	}

	desc, err := adapter.BuildDescriptor(ctx, order, payee)
	if err != nil {
		return nil, err
	}
	order.Descriptor = datatypes.NewJSONType(desc)
	if order.Rail == models.RailCard {
		order.RemoteOrderID = desc.ReferenceCode
	}

	if err := o.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	o.metrics.OrderCreated()
	o.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"rail":     order.Rail,
		"amount":   order.Amount.String(),
		"currency": order.Currency,
	}).Info("order created")
	o.publish("order.created", order)

	return &CreateOrderResult{
		Order:       order,
		Conversions: o.rates.Conversions(req.Amount, currency, o.config.DisplayCurrencies...),
	}, nil
}

// GetOrder returns the order with expiry projected onto its status.
func (o *Orchestrator) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := o.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Status = order.EffectiveStatus(o.now())
	return order, nil
}

func (o *Orchestrator) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	// EXPIRED is mostly a projection, so the status filter is applied again after projecting.
	want := filter.Status
	if want == models.OrderStatusExpired {
		filter.Status = ""
	}
	orders, err := o.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := o.now()
	out := orders[:0]
	for _, order := range orders {
		order.Status = order.EffectiveStatus(now)
		if want != "" && order.Status != want {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

func (o *Orchestrator) ListVerifications(ctx context.Context, orderID string) ([]models.VerificationRecord, error) {
	return o.store.ListVerifications(ctx, orderID)
}

// VerifyPayment settles a PENDING order with proof. It runs under the order lock so
// concurrent attempts on the same order are serialized; replays across orders are
// stopped by the store's unique proof index.
func (o *Orchestrator) VerifyPayment(ctx context.Context, orderID string, proof rails.Proof) (*VerifyResult, error) {
	unlock, err := o.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTimeout, err, "order %s is busy", orderID)
	}
	defer unlock()

	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	now := o.now()
	if order.Status.Terminal() || order.Expired(now) {
		order.Status = order.EffectiveStatus(now)
		return &VerifyResult{Order: order, Outcome: OutcomeOrderNotPending}, nil
	}

	adapter, err := o.rails.Get(order.Rail)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "no adapter for order %s", order.ID)
	}
	kind := adapter.ProofKind()
	if proof.Kind != "" && proof.Kind != kind {
		return nil, apperrors.New(apperrors.KindValidation, "%s orders take a %s proof, got %s", order.Rail, kind, proof.Kind)
	}
	value := models.NormalizeProof(kind, proof.Value)
	if value == "" {
		return nil, apperrors.New(apperrors.KindValidation, "proof value is required")
	}

	// Fail fast on a known replay before asking the rail.
	if rec, err := o.store.FindVerification(ctx, kind, value); err == nil && rec.OrderID != order.ID {
		o.metrics.ReplayRejected()
		o.logReplay(order, kind)
		return nil, apperrors.New(apperrors.KindProofAlreadyUsed, "proof already used by another order")
	}

	judgement := adapter.IsProofValid(ctx, order, rails.Proof{Kind: kind, Value: value, Outcome: proof.Outcome})
	fields := logrus.Fields{"order_id": order.ID, "rail": order.Rail}
	switch judgement.Verdict {
	case rails.Invalid:
		o.metrics.InvalidProof()
		o.logger.WithFields(fields).Infof("proof rejected: %s", judgement.Reason)
		return nil, apperrors.New(apperrors.KindInvalidProof, "%s", judgement.Reason)
	case rails.Indeterminate:
		o.metrics.Indeterminate()
		o.logger.WithFields(fields).Infof("proof not yet decidable: %s", judgement.Reason)
		if judgement.TimedOut {
			return nil, apperrors.Wrap(apperrors.KindTimeout, judgement.Err, "%s", judgement.Reason)
		}
		return nil, apperrors.Wrap(apperrors.KindIndeterminate, judgement.Err, "%s", judgement.Reason)
	}

	if order.HasMerchant() {
		unlockMerchant, err := o.locker.Lock(ctx, merchantLockKey(*order.MerchantID))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindTimeout, err, "merchant %s is busy", *order.MerchantID)
		}
		defer unlockMerchant()
	}

	paidAt := o.now().UTC()
	paid, err := o.store.MarkOrderPaid(ctx, store.PaidTransition{
		OrderID: order.ID,
		PaidAt:  paidAt,
		Record: models.VerificationRecord{
			OrderID:    order.ID,
			Rail:       order.Rail,
			ProofKind:  kind,
			ProofValue: value,
			VerifiedAt: paidAt,
		},
	})
	switch {
	case apperrors.Is(err, apperrors.KindOrderNotPending) && paid != nil:
		return &VerifyResult{Order: paid, Outcome: OutcomeOrderNotPending}, nil
	case apperrors.Is(err, apperrors.KindProofAlreadyUsed):
		o.metrics.ReplayRejected()
		o.logReplay(order, kind)
		return nil, err
	case err != nil:
		return nil, err
	}

	o.metrics.OrderPaid(paid.Rail)
	o.logger.WithFields(fields).WithField("proof_kind", kind).Info("order paid")
	o.publish("order.paid", paid)
	o.notifyPaid(ctx, paid)
	return &VerifyResult{Order: paid, Outcome: OutcomePaid}, nil
}

func (o *Orchestrator) logReplay(order *models.Order, kind models.ProofKind) {
	o.logger.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"rail":       order.Rail,
		"proof_kind": kind,
	}).Warn("proof replay rejected")
}

func (o *Orchestrator) notifyPaid(ctx context.Context, order *models.Order) {
	if o.notifier == nil || !order.HasMerchant() {
		return
	}
	merchant, err := o.store.GetMerchant(ctx, *order.MerchantID)
	if err != nil {
		o.logger.WithField("order_id", order.ID).WithError(err).Warn("skipping merchant webhook")
		return
	}
	o.notifier.NotifyOrderPaid(merchant, order)
}

// FailOrder records an explicit failure reported by the rail.
func (o *Orchestrator) FailOrder(ctx context.Context, orderID, reason string) (*VerifyResult, error) {
	return o.resolve(ctx, orderID, models.OrderStatusFailed, reason, false)
}

// AbandonOrder records that the customer left, or an operator gave up on the order.
func (o *Orchestrator) AbandonOrder(ctx context.Context, orderID, reason string) (*VerifyResult, error) {
	if reason == "" {
		reason = "abandoned"
	}
	return o.resolve(ctx, orderID, models.OrderStatusAbandoned, reason, false)
}

func (o *Orchestrator) resolve(ctx context.Context, orderID string, to models.OrderStatus, reason string, onlyExpired bool) (*VerifyResult, error) {
	unlock, err := o.locker.Lock(ctx, orderLockKey(orderID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTimeout, err, "order %s is busy", orderID)
	}
	defer unlock()

	if onlyExpired {
		current, err := o.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !current.PastWindow(o.now()) {
			return &VerifyResult{Order: current, Outcome: OutcomeIgnored}, nil
		}
	}

	order, err := o.store.TransitionOrder(ctx, orderID, models.OrderStatusPending, to, reason, o.now().UTC())
	if apperrors.Is(err, apperrors.KindOrderNotPending) && order != nil {
		return &VerifyResult{Order: order, Outcome: OutcomeOrderNotPending}, nil
	}
	if err != nil {
		return nil, err
	}

	o.metrics.OrderResolved(to)
	o.logger.WithFields(logrus.Fields{"order_id": order.ID, "rail": order.Rail, "status": to}).Infof("order resolved: %s", reason)
	o.publish("order."+strings.ToLower(string(to)), order)

	outcome := map[models.OrderStatus]ResultOutcome{
		models.OrderStatusFailed:    OutcomeFailed,
		models.OrderStatusAbandoned: OutcomeAbandoned,
		models.OrderStatusExpired:   OutcomeExpired,
	}[to]
	return &VerifyResult{Order: order, Outcome: outcome}, nil
}

// HandleProcessorEvent applies an authenticated processor callback.
func (o *Orchestrator) HandleProcessorEvent(ctx context.Context, ev *ProcessorEvent) (*VerifyResult, error) {
	order, err := o.store.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Rail != models.RailCard {
		return nil, apperrors.New(apperrors.KindValidation, "order %s is not a card order", order.ID)
	}

	switch ev.Outcome {
	case rails.OutcomeSuccess:
		if ev.PaymentID == "" {
			return nil, apperrors.New(apperrors.KindValidation, "success event for %s has no payment id", ev.OrderID)
		}
		res, err := o.VerifyPayment(ctx, ev.OrderID, rails.Proof{
			Kind:    models.ProofProcessorSignature,
			Value:   ev.PaymentID,
			Outcome: string(ev.Outcome),
		})
		if err == nil && res.Outcome == OutcomeOrderNotPending && res.Order.Status != models.OrderStatusPaid {
			err = o.refundOrphanCapture(ctx, res.Order, ev)
		}
		return res, err
	case rails.OutcomeFailed:
		return o.FailOrder(ctx, ev.OrderID, firstNonEmpty(ev.Reason, "processor reported failure"))
	case rails.OutcomeDropped:
		return o.AbandonOrder(ctx, ev.OrderID, firstNonEmpty(ev.Reason, "customer dropped"))
	}
	o.logger.WithFields(logrus.Fields{"order_id": ev.OrderID, "provider": ev.Provider, "type": ev.Type}).Info("processor event ignored")
	order.Status = order.EffectiveStatus(o.now())
	return &VerifyResult{Order: order, Outcome: OutcomeIgnored}, nil
}

// refundOrphanCapture hands back money the processor captured for an order that was
// already closed here. The refund id is derived from the order so redeliveries dedupe.
func (o *Orchestrator) refundOrphanCapture(ctx context.Context, order *models.Order, ev *ProcessorEvent) error {
	o.metrics.OrphanCapture()
	fields := logrus.Fields{"order_id": order.ID, "status": order.Status, "payment_id": ev.PaymentID, "provider": ev.Provider}
	o.logger.WithFields(fields).Error("processor captured payment for a closed order")
	o.publish("order.capture_orphaned", order)
	if o.processor == nil {
		return nil
	}

	remoteCtx, cancel := context.WithTimeout(ctx, refundTimeout)
	defer cancel()
	remote, err := o.processor.CreateRefund(remoteCtx, order.ID, "rfd_orphan_"+order.ID, order.RailAmount, "payment captured after order closed")
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "error refunding capture on closed order %s", order.ID)
	}
	o.logger.WithFields(fields).WithField("refund_id", remote.RefundID).Warn("capture on closed order refunded")
	return nil
}

// ExpireCardOrder persists EXPIRED for a card order past its window, once the
// processor has reported that nothing was captured.
func (o *Orchestrator) ExpireCardOrder(ctx context.Context, orderID string) (*VerifyResult, error) {
	return o.resolve(ctx, orderID, models.OrderStatusExpired, "processor reported no capture in the payment window", true)
}

// SweepExpired persists EXPIRED for pending orders past their window. It never touches PAID
// orders, and leaves card orders to the payment monitor.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int, error) {
	pending, err := o.store.ListOrders(ctx, store.OrderFilter{Status: models.OrderStatusPending})
	if err != nil {
		return 0, err
	}
	now := o.now()
	swept := 0
	for i := range pending {
		if !pending[i].Expired(now) {
			continue
		}
		res, err := o.resolve(ctx, pending[i].ID, models.OrderStatusExpired, "payment window elapsed", true)
		if err != nil {
			o.logger.WithField("order_id", pending[i].ID).WithError(err).Error("error expiring order")
			continue
		}
		if res.Outcome == OutcomeExpired {
			swept++
		}
	}
	return swept, nil
}
