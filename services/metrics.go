package services

import (
	"sync"

	"github.com/yeremiapane/omnipay-gateway/models"
)

// PaymentMetrics is a point in time copy of the gateway counters.
type PaymentMetrics struct {
	OrdersCreated      int64                 `json:"orders_created"`
	PaidOrders         int64                 `json:"paid_orders"`
	FailedOrders       int64                 `json:"failed_orders"`
	AbandonedOrders    int64                 `json:"abandoned_orders"`
	ExpiredOrders      int64                 `json:"expired_orders"`
	InvalidProofs      int64                 `json:"invalid_proofs"`
	IndeterminateProof int64                 `json:"indeterminate_proofs"`
	ReplaysRejected    int64                 `json:"replays_rejected"`
	SignaturesRejected int64                 `json:"signatures_rejected"`
	SettlementsFailed  int64                 `json:"settlements_failed"`
	OrphanCaptures     int64                 `json:"orphan_captures"`
	PaidByRail         map[models.Rail]int64 `json:"paid_by_rail"`
}

// Metrics counts payment outcomes. Safe for concurrent use.
type Metrics struct {
	mutex   sync.Mutex
	metrics PaymentMetrics
}

func NewMetrics() *Metrics {
	return &Metrics{metrics: PaymentMetrics{PaidByRail: make(map[models.Rail]int64)}}
}

func (m *Metrics) update(fn func(p *PaymentMetrics)) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	fn(&m.metrics)
}

func (m *Metrics) OrderCreated() { m.update(func(p *PaymentMetrics) { p.OrdersCreated++ }) }

func (m *Metrics) OrderPaid(rail models.Rail) {
	m.update(func(p *PaymentMetrics) {
		p.PaidOrders++
		p.PaidByRail[rail]++
	})
}

// OrderResolved counts a non-paid terminal transition.
func (m *Metrics) OrderResolved(status models.OrderStatus) {
	m.update(func(p *PaymentMetrics) {
		switch status {
		case models.OrderStatusFailed:
			p.FailedOrders++
		case models.OrderStatusAbandoned:
			p.AbandonedOrders++
		case models.OrderStatusExpired:
			p.ExpiredOrders++
		}
	})
}

func (m *Metrics) InvalidProof() { m.update(func(p *PaymentMetrics) { p.InvalidProofs++ }) }
func (m *Metrics) Indeterminate() { m.update(func(p *PaymentMetrics) { p.IndeterminateProof++ }) }
func (m *Metrics) ReplayRejected() { m.update(func(p *PaymentMetrics) { p.ReplaysRejected++ }) }
func (m *Metrics) SignatureRejected() { m.update(func(p *PaymentMetrics) { p.SignaturesRejected++ }) }
func (m *Metrics) SettlementFailed() { m.update(func(p *PaymentMetrics) { p.SettlementsFailed++ }) }
func (m *Metrics) OrphanCapture() { m.update(func(p *PaymentMetrics) { p.OrphanCaptures++ }) }

// GetMetrics returns the current counters.
func (m *Metrics) GetMetrics() PaymentMetrics {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := m.metrics
	out.PaidByRail = make(map[models.Rail]int64, len(m.metrics.PaidByRail))
	for rail, n := range m.metrics.PaidByRail {
		out.PaidByRail[rail] = n
	}
	return out
}
