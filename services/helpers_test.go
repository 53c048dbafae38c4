package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/queue"
	"github.com/yeremiapane/omnipay-gateway/rails"
	"github.com/yeremiapane/omnipay-gateway/rates"
	"github.com/yeremiapane/omnipay-gateway/store"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeLookup struct {
	mu  sync.Mutex
	txs map[string]*rails.Transaction
	err error
}

func (f *fakeLookup) FetchTransaction(_ context.Context, _, hash string) (*rails.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[strings.ToLower(hash)]
	if !ok {
		return nil, rails.ErrTransactionNotFound
	}
	return tx, nil
}

type fakeProcessor struct {
	mu          sync.Mutex
	statuses    map[string]*rails.RemoteStatus
	statusErr   error
	refundErr   error
	refunds     []string
	settlements []rails.RemoteSettlement
}

func (f *fakeProcessor) CreateRemoteOrder(_ context.Context, order *models.Order) (*rails.RemoteOrder, error) {
	return &rails.RemoteOrder{RemoteID: "tx-" + order.ID, RedirectURL: "https://processor.example/pay/" + order.ID}, nil
}

func (f *fakeProcessor) FetchRemoteStatus(_ context.Context, orderID string) (*rails.RemoteStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if st, ok := f.statuses[orderID]; ok {
		return st, nil
	}
	return &rails.RemoteStatus{OrderID: orderID, Outcome: rails.OutcomePending}, nil
}

func (f *fakeProcessor) CreateRefund(_ context.Context, orderID, refundID string, _ decimal.Decimal, _ string) (*rails.RemoteRefund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunds = append(f.refunds, orderID)
	return &rails.RemoteRefund{RefundID: "remote-" + refundID, Status: "COMPLETED"}, nil
}

func (f *fakeProcessor) FetchSettlements(context.Context, time.Time, time.Time) ([]rails.RemoteSettlement, error) {
	return f.settlements, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
}

func (r *recordingNotifier) NotifyOrderPaid(_ *models.Merchant, order *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order.ID)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) Publish(event string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type harness struct {
	o         *Orchestrator
	store     *store.MemoryStore
	rates     *rates.Table
	lookup    *fakeLookup
	processor *fakeProcessor
	notifier  *recordingNotifier
	events    *recordingEvents
	queue     *queue.MemoryQueue
	mu        sync.Mutex
	now       time.Time
}

const testMerchantID = "mch_test"

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     store.NewMemoryStore(),
		rates:     rates.NewTable(quietLogger()),
		lookup:    &fakeLookup{txs: make(map[string]*rails.Transaction)},
		processor: &fakeProcessor{statuses: make(map[string]*rails.RemoteStatus)},
		notifier:  &recordingNotifier{},
		events:    &recordingEvents{},
		queue:     queue.NewMemoryQueue(16),
		now:       time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}

	bank, err := rails.NewBankAdapter(7)
	require.NoError(t, err)
	registry, err := rails.NewRegistry(
		rails.NewUPIAdapter(),
		bank,
		rails.NewCryptoAdapter(h.lookup),
		rails.NewCardAdapter(h.processor, "https://pay.example/checkout", quietLogger()),
	)
	require.NoError(t, err)

	h.o = NewOrchestrator(Deps{
		Store:     h.store,
		Rails:     registry,
		Rates:     h.rates,
		Queue:     h.queue,
		Notifier:  h.notifier,
		Events:    h.events,
		Processor: h.processor,
		Logger:    quietLogger(),
		Now:       h.clock,
	}, OrchestratorConfig{})

	require.NoError(t, h.store.CreateMerchant(context.Background(), &models.Merchant{
		ID:              testMerchantID,
		Name:            "Chai Point",
		Email:           "owner@chaipoint.in",
		UPIHandle:       "chai@upi",
		AccountName:     "Chai Point Pvt Ltd",
		AccountNumber:   "001122334455",
		IFSC:            "HDFC0001234",
		BankName:        "HDFC Bank",
		USDTAddress:     "TXmerchantWallet",
		BTCAddress:      "bc1qmerchant",
		WebhookURL:      "https://merchant.example/hooks",
		WebhookSecret:   "sk_test",
		Status:          models.MerchantStatusActive,
		BalanceCurrency: "INR",
		Balance:         decimal.Zero,
		TotalProcessed:  decimal.Zero,
	}))
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) createOrder(t *testing.T, rail models.Rail, amount, currency, token string) *models.Order {
	t.Helper()
	res, err := h.o.CreateOrder(context.Background(), CreateOrderRequest{
		MerchantID: testMerchantID,
		Amount:     decimal.RequireFromString(amount),
		Currency:   currency,
		Rail:       rail,
		Token:      token,
	})
	require.NoError(t, err)
	return res.Order
}

func (h *harness) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	m, err := h.store.GetMerchant(context.Background(), testMerchantID)
	require.NoError(t, err)
	return m.Balance
}

// fund pays a UPI order so the merchant has something to settle.
func (h *harness) fund(t *testing.T, amount, utr string) *models.Order {
	t.Helper()
	order := h.createOrder(t, models.RailUPI, amount, "INR", "")
	res, err := h.o.VerifyPayment(context.Background(), order.ID, rails.Proof{Value: utr})
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, res.Outcome)
	return res.Order
}

var errBoom = errors.New("boom")
