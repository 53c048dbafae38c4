package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
)

type proofKey struct {
	kind  models.ProofKind
	value string
}

// MemoryStore keeps everything in maps behind a single mutex, so every compound
// operation is trivially atomic. Used for tests and single-node development.
type MemoryStore struct {
	mu            sync.Mutex
	orders        map[string]models.Order
	verifications map[proofKey]models.VerificationRecord
	merchants     map[string]models.Merchant
	settlements   map[string]models.Settlement
	refunds       map[string]models.Refund
	nextRecordID  uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:        make(map[string]models.Order),
		verifications: make(map[proofKey]models.VerificationRecord),
		merchants:     make(map[string]models.Merchant),
		settlements:   make(map[string]models.Settlement),
		refunds:       make(map[string]models.Refund),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return apperrors.New(apperrors.KindValidation, "order %s already exists", order.ID)
	}
	s.orders[order.ID] = *order
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "order %s not found", id)
	}
	return &o, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, filter OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Order, 0)
	for _, o := range s.orders {
		o := o
		if filter.match(&o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) TransitionOrder(_ context.Context, id string, from, to models.OrderStatus, reason string, at time.Time) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "order %s not found", id)
	}
	if o.Status != from {
		return &o, apperrors.New(apperrors.KindOrderNotPending, "order %s is %s", id, o.Status)
	}
	o.Status = to
	o.FailureReason = reason
	o.ResolvedAt = &at
	s.orders[id] = o
	return &o, nil
}

func (s *MemoryStore) MarkOrderPaid(_ context.Context, t PaidTransition) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[t.OrderID]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "order %s not found", t.OrderID)
	}
	if o.Status != models.OrderStatusPending {
		return &o, apperrors.New(apperrors.KindOrderNotPending, "order %s is %s", o.ID, o.Status)
	}
	key := proofKey{kind: t.Record.ProofKind, value: t.Record.ProofValue}
	if _, used := s.verifications[key]; used {
		return nil, apperrors.New(apperrors.KindProofAlreadyUsed, "proof already used by another order")
	}

	var merchant models.Merchant
	if o.HasMerchant() {
		m, found := s.merchants[*o.MerchantID]
		if !found {
			return nil, apperrors.New(apperrors.KindNotFound, "merchant %s not found", *o.MerchantID)
		}
		merchant = m
	}

	s.nextRecordID++
	rec := t.Record
	rec.ID = s.nextRecordID
	rec.OrderID = o.ID
	s.verifications[key] = rec

	paidAt := t.PaidAt
	o.Status = models.OrderStatusPaid
	o.PaidAt = &paidAt
	o.ResolvedAt = &paidAt
	s.orders[o.ID] = o

	if o.HasMerchant() {
		merchant.Balance = merchant.Balance.Add(o.BalanceAmount)
		merchant.TotalProcessed = merchant.TotalProcessed.Add(o.BalanceAmount)
		merchant.UpdatedAt = paidAt
		s.merchants[merchant.ID] = merchant
	}
	return &o, nil
}

func (s *MemoryStore) FindVerification(_ context.Context, kind models.ProofKind, value string) (*models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.verifications[proofKey{kind: kind, value: value}]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "no verification for %s", kind)
	}
	return &rec, nil
}

func (s *MemoryStore) ListVerifications(_ context.Context, orderID string) ([]models.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.VerificationRecord, 0)
	for _, rec := range s.verifications {
		if rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateMerchant(_ context.Context, merchant *models.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.merchants[merchant.ID]; ok {
		return apperrors.New(apperrors.KindValidation, "merchant %s already exists", merchant.ID)
	}
	s.merchants[merchant.ID] = *merchant
	return nil
}

func (s *MemoryStore) GetMerchant(_ context.Context, id string) (*models.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "merchant %s not found", id)
	}
	return &m, nil
}

func (s *MemoryStore) CreateSettlement(_ context.Context, st *models.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[st.MerchantID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "merchant %s not found", st.MerchantID)
	}
	if m.Balance.LessThan(st.Amount) {
		return apperrors.New(apperrors.KindInsufficientBalance, "balance %s is below %s", m.Balance.String(), st.Amount.String())
	}
	m.Balance = m.Balance.Sub(st.Amount)
	s.merchants[m.ID] = m
	st.Status = models.SettlementProcessing
	s.settlements[st.ID] = *st
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, id string) (*models.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settlements[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "settlement %s not found", id)
	}
	return &st, nil
}

func (s *MemoryStore) ListSettlements(_ context.Context, merchantID string) ([]models.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Settlement, 0)
	for _, st := range s.settlements {
		if merchantID == "" || st.MerchantID == merchantID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CompleteSettlement(_ context.Context, id, externalRef string, at time.Time) (*models.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settlements[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "settlement %s not found", id)
	}
	switch st.Status {
	case models.SettlementCompleted:
		return &st, nil
	case models.SettlementFailed:
		return &st, apperrors.New(apperrors.KindInvalidState, "settlement %s already failed", id)
	}
	st.Status = models.SettlementCompleted
	st.ExternalRef = externalRef
	st.CompletedAt = &at
	st.UpdatedAt = at
	s.settlements[id] = st
	return &st, nil
}

func (s *MemoryStore) FailSettlement(_ context.Context, id, reason string, at time.Time) (*models.Settlement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settlements[id]
	if !ok {
		return nil, false, apperrors.New(apperrors.KindNotFound, "settlement %s not found", id)
	}
	switch st.Status {
	case models.SettlementFailed:
		return &st, false, nil
	case models.SettlementCompleted:
		return &st, false, apperrors.New(apperrors.KindInvalidState, "settlement %s already completed", id)
	}
	m, found := s.merchants[st.MerchantID]
	if !found {
		return nil, false, apperrors.New(apperrors.KindNotFound, "merchant %s not found", st.MerchantID)
	}
	m.Balance = m.Balance.Add(st.Amount)
	s.merchants[m.ID] = m

	st.Status = models.SettlementFailed
	st.FailureReason = reason
	st.UpdatedAt = at
	s.settlements[id] = st
	return &st, true, nil
}

func (s *MemoryStore) RecordSettlementAttempt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settlements[id]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "settlement %s not found", id)
	}
	st.Attempts++
	s.settlements[id] = st
	return nil
}

func (s *MemoryStore) CreateRefund(_ context.Context, r *models.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[r.OrderID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "order %s not found", r.OrderID)
	}
	if o.Status != models.OrderStatusPaid {
		return apperrors.New(apperrors.KindInvalidState, "order %s is %s", o.ID, o.Status)
	}
	existing := make([]models.Refund, 0)
	for _, rf := range s.refunds {
		if rf.OrderID == r.OrderID {
			existing = append(existing, rf)
		}
	}
	if refundable(&o, existing).LessThan(r.Amount) {
		return apperrors.New(apperrors.KindValidation, "refund exceeds the refundable amount")
	}
	m, found := s.merchants[r.MerchantID]
	if !found {
		return apperrors.New(apperrors.KindNotFound, "merchant %s not found", r.MerchantID)
	}
	if m.Balance.LessThan(r.BalanceAmount) {
		return apperrors.New(apperrors.KindInsufficientBalance, "balance %s is below %s", m.Balance.String(), r.BalanceAmount.String())
	}
	m.Balance = m.Balance.Sub(r.BalanceAmount)
	s.merchants[m.ID] = m
	r.Status = models.RefundPending
	s.refunds[r.ID] = *r
	return nil
}

func (s *MemoryStore) GetRefund(_ context.Context, id string) (*models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "refund %s not found", id)
	}
	return &r, nil
}

func (s *MemoryStore) ListRefunds(_ context.Context, orderID string) ([]models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Refund, 0)
	for _, r := range s.refunds {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CompleteRefund(_ context.Context, id, remoteRefundID string) (*models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "refund %s not found", id)
	}
	switch r.Status {
	case models.RefundCompleted:
		return &r, nil
	case models.RefundFailed:
		return &r, apperrors.New(apperrors.KindInvalidState, "refund %s already failed", id)
	}
	r.Status = models.RefundCompleted
	r.RemoteRefundID = remoteRefundID
	s.refunds[id] = r
	return &r, nil
}

func (s *MemoryStore) FailRefund(_ context.Context, id, reason string) (*models.Refund, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return nil, false, apperrors.New(apperrors.KindNotFound, "refund %s not found", id)
	}
	switch r.Status {
	case models.RefundFailed:
		return &r, false, nil
	case models.RefundCompleted:
		return &r, false, apperrors.New(apperrors.KindInvalidState, "refund %s already completed", id)
	}
	m, found := s.merchants[r.MerchantID]
	if !found {
		return nil, false, apperrors.New(apperrors.KindNotFound, "merchant %s not found", r.MerchantID)
	}
	m.Balance = m.Balance.Add(r.BalanceAmount)
	s.merchants[m.ID] = m
	r.Status = models.RefundFailed
	r.FailureReason = reason
	s.refunds[id] = r
	return &r, true, nil
}
