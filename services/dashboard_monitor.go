package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/rates"
	"github.com/yeremiapane/omnipay-gateway/store"
)

const EventDashboardUpdate = "dashboard_update"

// DashboardSnapshot is pushed to operator dashboards on every tick.
type DashboardSnapshot struct {
	Metrics       PaymentMetrics `json:"metrics"`
	PendingOrders int            `json:"pending_orders"`
	Rates         rates.Snapshot `json:"rates"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// DashboardMonitor periodically publishes a DashboardSnapshot through the event publisher.
type DashboardMonitor struct {
	orchestrator *Orchestrator
	events       EventPublisher
	logger       logrus.FieldLogger
	StopChan     chan struct{}
	Interval     time.Duration
}

func NewDashboardMonitor(o *Orchestrator, events EventPublisher, logger logrus.FieldLogger) *DashboardMonitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DashboardMonitor{
		orchestrator: o,
		events:       events,
		logger:       logger,
		StopChan:     make(chan struct{}),
		Interval:     10 * time.Second,
	}
}

func (dm *DashboardMonitor) Start() {
	go func() {
		ticker := time.NewTicker(dm.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				dm.Publish(context.Background())
			case <-dm.StopChan:
				return
			}
		}
	}()
}

func (dm *DashboardMonitor) Stop() {
	close(dm.StopChan)
}

// Snapshot collects the current dashboard state.
func (dm *DashboardMonitor) Snapshot(ctx context.Context) (*DashboardSnapshot, error) {
	pending, err := dm.orchestrator.ListOrders(ctx, store.OrderFilter{Status: models.OrderStatusPending})
	if err != nil {
		return nil, err
	}
	open := 0
	for _, order := range pending {
		if order.Status == models.OrderStatusPending {
			open++
		}
	}
	return &DashboardSnapshot{
		Metrics:       dm.orchestrator.Metrics().GetMetrics(),
		PendingOrders: open,
		Rates:         dm.orchestrator.Rates().Snapshot(),
		GeneratedAt:   dm.orchestrator.now().UTC(),
	}, nil
}

func (dm *DashboardMonitor) Publish(ctx context.Context) {
	if dm.events == nil {
		return
	}
	snap, err := dm.Snapshot(ctx)
	if err != nil {
		dm.logger.WithError(err).Error("error building dashboard snapshot")
		return
	}
	dm.events.Publish(EventDashboardUpdate, snap)
}
