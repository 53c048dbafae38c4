package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/rails"
	"github.com/yeremiapane/omnipay-gateway/store"
)

// PaymentMonitor polls the card processor for pending card orders whose webhook
// never arrived, and applies the outcome through the orchestrator.
type PaymentMonitor struct {
	orchestrator *Orchestrator
	client       rails.RailClient
	logger       logrus.FieldLogger
	retryQueue   []string
	mutex        sync.Mutex
	Interval     time.Duration
	// MinAge skips orders younger than this so the webhook gets a chance first.
	MinAge      time.Duration
	CallTimeout time.Duration
	StopChan    chan struct{}
}

func NewPaymentMonitor(o *Orchestrator, client rails.RailClient, logger logrus.FieldLogger) *PaymentMonitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PaymentMonitor{
		orchestrator: o,
		client:       client,
		logger:       logger,
		retryQueue:   make([]string, 0),
		Interval:     time.Minute,
		MinAge:       2 * time.Minute,
		CallTimeout:  5 * time.Second,
		StopChan:     make(chan struct{}),
	}
}

func (pm *PaymentMonitor) Start() {
	go func() {
		ticker := time.NewTicker(pm.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pm.Reconcile(context.Background())
			case <-pm.StopChan:
				return
			}
		}
	}()
	pm.logger.Info("Payment monitor started")
}

func (pm *PaymentMonitor) Stop() {
	close(pm.StopChan)
}

// AddToRetryQueue schedules an order for the next pass regardless of its age.
func (pm *PaymentMonitor) AddToRetryQueue(orderID string) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	for _, id := range pm.retryQueue {
		if id == orderID {
			return
		}
	}
	pm.retryQueue = append(pm.retryQueue, orderID)
}

func (pm *PaymentMonitor) drainRetryQueue() []string {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	queue := pm.retryQueue
	pm.retryQueue = make([]string, 0)
	return queue
}

// Reconcile runs one pass and returns how many orders changed state.
func (pm *PaymentMonitor) Reconcile(ctx context.Context) int {
	if pm.client == nil {
		return 0
	}
	orders, err := pm.orchestrator.store.ListOrders(ctx, store.OrderFilter{
		Status: models.OrderStatusPending,
		Rail:   models.RailCard,
	})
	if err != nil {
		pm.logger.WithError(err).Error("error listing pending card orders")
		return 0
	}

	now := pm.orchestrator.now()
	candidates := make(map[string]bool)
	for _, id := range pm.drainRetryQueue() {
		candidates[id] = true
	}
	for _, order := range orders {
		if now.Sub(order.CreatedAt) >= pm.MinAge {
			candidates[order.ID] = true
		}
	}

	changed := 0
	for id := range candidates {
		if pm.reconcileOrder(ctx, id) {
			changed++
		}
	}
	return changed
}

func (pm *PaymentMonitor) reconcileOrder(ctx context.Context, orderID string) bool {
	callCtx, cancel := context.WithTimeout(ctx, pm.CallTimeout)
	status, err := pm.client.FetchRemoteStatus(callCtx, orderID)
	cancel()
	if err != nil {
		pm.logger.WithField("order_id", orderID).WithError(err).Warn("error checking processor status")
		pm.AddToRetryQueue(orderID)
		return false
	}

	ev := &ProcessorEvent{
		Provider:  "poll",
		Type:      "status",
		OrderID:   orderID,
		PaymentID: status.PaymentID,
		Outcome:   status.Outcome,
	}
	if ev.Outcome == rails.OutcomeSuccess && ev.PaymentID == "" {
		ev.PaymentID = orderID
	}
	res, err := pm.orchestrator.HandleProcessorEvent(ctx, ev)
	if err != nil {
		pm.logger.WithField("order_id", orderID).WithError(err).Warn("error applying processor status")
		return false
	}
	if res.Outcome == OutcomeIgnored && res.Order.PastWindow(pm.orchestrator.now()) {
		res, err = pm.orchestrator.ExpireCardOrder(ctx, orderID)
		if err != nil {
			pm.logger.WithField("order_id", orderID).WithError(err).Warn("error expiring card order")
			return false
		}
	}
	switch res.Outcome {
	case OutcomePaid, OutcomeFailed, OutcomeAbandoned, OutcomeExpired:
		pm.logger.WithFields(logrus.Fields{"order_id": orderID, "outcome": res.Outcome}).Info("order reconciled from processor status")
		return true
	}
	return false
}
