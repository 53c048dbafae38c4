package rails

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testPayee() Payee {
	return Payee{
		Name:      "Chai Point",
		UPIHandle: "chai@upi",
		Bank: &models.BankAccount{
			AccountName:   "Chai Point Pvt Ltd",
			AccountNumber: "001122334455",
			IFSC:          "HDFC0001234",
			BankName:      "HDFC Bank",
		},
		Wallets: map[string]string{"USDT": "TXyzMerchantWallet", "BTC": "bc1qmerchant"},
	}
}

func testOrder(rail models.Rail, amount, currency string) *models.Order {
	return &models.Order{
		ID:           "ord-123",
		Rail:         rail,
		Status:       models.OrderStatusPending,
		Amount:       decimal.RequireFromString(amount),
		Currency:     currency,
		RailAmount:   decimal.RequireFromString(amount),
		RailCurrency: currency,
		Description:  "Masala chai",
	}
}

func TestRegistryRequiresEveryRail(t *testing.T) {
	bank, err := NewBankAdapter(1)
	require.NoError(t, err)

	_, err = NewRegistry(NewUPIAdapter(), bank)
	assert.Error(t, err)

	_, err = NewRegistry(NewUPIAdapter(), NewUPIAdapter())
	assert.Error(t, err)

	reg, err := NewRegistry(NewUPIAdapter(), bank, NewCryptoAdapter(nil), NewCardAdapter(nil, "https://pay.example.com/checkout", quietLogger()))
	require.NoError(t, err)
	a, err := reg.Get(models.RailCrypto)
	require.NoError(t, err)
	assert.Equal(t, models.ProofTxHash, a.ProofKind())
}

func TestExpiryWindows(t *testing.T) {
	bank, _ := NewBankAdapter(1)
	assert.Equal(t, 15*time.Minute, NewUPIAdapter().ExpiryWindow())
	assert.Equal(t, 24*time.Hour, bank.ExpiryWindow())
	assert.Equal(t, 30*time.Minute, NewCryptoAdapter(nil).ExpiryWindow())
	assert.Equal(t, 15*time.Minute, NewCardAdapter(nil, "", nil).ExpiryWindow())
}

func TestUPIDescriptor(t *testing.T) {
	order := testOrder(models.RailUPI, "500", "INR")
	desc, err := NewUPIAdapter().BuildDescriptor(context.Background(), order, testPayee())
	require.NoError(t, err)

	assert.Equal(t, "upi://pay?pa=chai@upi&pn=Chai%20Point&am=500.00&cu=INR&tn=Masala%20chai&tr=ord-123", desc.PaymentURI)
	assert.Equal(t, "500.00", desc.Amount)
	assert.NotEmpty(t, desc.Instructions)

	again, err := NewUPIAdapter().BuildDescriptor(context.Background(), order, testPayee())
	require.NoError(t, err)
	assert.Equal(t, desc.PaymentURI, again.PaymentURI)

	_, err = NewUPIAdapter().BuildDescriptor(context.Background(), order, Payee{Name: "nobody"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestReferenceLengthRule(t *testing.T) {
	bank, _ := NewBankAdapter(1)
	tests := []struct {
		name  string
		value string
		want  Verdict
	}{
		{"twelve digits", "123456789012", Valid},
		{"longer", "HDFCN52023101512345", Valid},
		{"eleven", "12345678901", Invalid},
		{"padded short", "   1234567  ", Invalid},
		{"empty", "", Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proof := Proof{Kind: models.ProofUTR, Value: tt.value}
			assert.Equal(t, tt.want, NewUPIAdapter().IsProofValid(context.Background(), nil, proof).Verdict)
			assert.Equal(t, tt.want, bank.IsProofValid(context.Background(), nil, proof).Verdict)
		})
	}
}

func TestBankDescriptorUniqueReference(t *testing.T) {
	bank, err := NewBankAdapter(2)
	require.NoError(t, err)
	order := testOrder(models.RailBank, "2500", "INR")

	a, err := bank.BuildDescriptor(context.Background(), order, testPayee())
	require.NoError(t, err)
	b, err := bank.BuildDescriptor(context.Background(), order, testPayee())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.ReferenceCode, "OMNI"))
	assert.NotEqual(t, a.ReferenceCode, b.ReferenceCode)
	assert.Equal(t, "HDFC0001234", a.Bank.IFSC)

	_, err = bank.BuildDescriptor(context.Background(), order, Payee{})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

type fakeLookup struct {
	tx    *Transaction
	err   error
	delay time.Duration
}

func (f *fakeLookup) FetchTransaction(ctx context.Context, _, _ string) (*Transaction, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.tx, f.err
}

func cryptoOrder(t *testing.T, token, amount string) *models.Order {
	a := NewCryptoAdapter(nil)
	order := testOrder(models.RailCrypto, "1000", "INR")
	order.RailCurrency = token
	order.RailAmount = decimal.RequireFromString(amount)
	desc, err := a.BuildDescriptor(context.Background(), order, testPayee())
	require.NoError(t, err)
	order.Descriptor = datatypes.NewJSONType(desc)
	return order
}

func TestCryptoDescriptor(t *testing.T) {
	order := cryptoOrder(t, "USDT", "12.030799")
	desc := order.RailDescriptor()
	assert.Equal(t, "tron:TXyzMerchantWallet?amount=12.030799&token=USDT", desc.PaymentURI)
	assert.Equal(t, "TRC20", desc.Network)
	assert.Equal(t, 1, desc.RequiredConfirmations)

	btc := cryptoOrder(t, "BTC", "0.00018").RailDescriptor()
	assert.Equal(t, 3, btc.RequiredConfirmations)
	assert.Equal(t, "0.000180", btc.Amount)

	eth := testOrder(models.RailCrypto, "1", "INR")
	eth.RailCurrency = "ETH"
	_, err := NewCryptoAdapter(nil).BuildDescriptor(context.Background(), eth, testPayee())
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = NewCryptoAdapter(nil).Currency("DOGE", "INR")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	cur, err := NewCryptoAdapter(nil).Currency("", "INR")
	require.NoError(t, err)
	assert.Equal(t, "USDT", cur)
}

func TestCryptoProofVerdicts(t *testing.T) {
	confirmed := func(to, amount string, confirmations int) *Transaction {
		return &Transaction{Confirmed: true, ToAddress: to, Amount: decimal.RequireFromString(amount), Confirmations: confirmations}
	}
	tests := []struct {
		name     string
		token    string
		lookup   *fakeLookup
		want     Verdict
		timedOut bool
	}{
		{"usdt one confirmation", "USDT", &fakeLookup{tx: confirmed("TXyzMerchantWallet", "12.030799", 1)}, Valid, false},
		{"address case insensitive", "USDT", &fakeLookup{tx: confirmed("txyzmerchantwallet", "12.5", 4)}, Valid, false},
		{"btc below threshold", "BTC", &fakeLookup{tx: confirmed("bc1qmerchant", "12.030799", 1)}, Indeterminate, false},
		{"unconfirmed", "USDT", &fakeLookup{tx: &Transaction{ToAddress: "TXyzMerchantWallet", Amount: decimal.NewFromInt(20)}}, Indeterminate, false},
		{"wrong address", "USDT", &fakeLookup{tx: confirmed("TAttacker", "12.030799", 5)}, Invalid, false},
		{"short amount", "USDT", &fakeLookup{tx: confirmed("TXyzMerchantWallet", "12.03", 5)}, Invalid, false},
		{"not indexed", "USDT", &fakeLookup{err: ErrTransactionNotFound}, Indeterminate, false},
		{"lookup error", "USDT", &fakeLookup{err: errors.New("explorer 502")}, Indeterminate, false},
		{"lookup timeout", "USDT", &fakeLookup{delay: time.Second}, Indeterminate, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := cryptoOrder(t, tt.token, "12.030799")
			a := NewCryptoAdapter(tt.lookup)
			a.LookupTimeout = 20 * time.Millisecond
			j := a.IsProofValid(context.Background(), order, Proof{Kind: models.ProofTxHash, Value: "0xabc"})
			assert.Equal(t, tt.want, j.Verdict, j.Reason)
			assert.Equal(t, tt.timedOut, j.TimedOut)
		})
	}
}

type fakeRailClient struct {
	remote *RemoteOrder
	err    error
	delay  time.Duration
}

func (f *fakeRailClient) CreateRemoteOrder(ctx context.Context, _ *models.Order) (*RemoteOrder, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.remote, f.err
}

func (f *fakeRailClient) FetchRemoteStatus(context.Context, string) (*RemoteStatus, error) {
	return nil, errors.New("not used")
}

func (f *fakeRailClient) CreateRefund(context.Context, string, string, decimal.Decimal, string) (*RemoteRefund, error) {
	return nil, errors.New("not used")
}

func (f *fakeRailClient) FetchSettlements(context.Context, time.Time, time.Time) ([]RemoteSettlement, error) {
	return nil, errors.New("not used")
}

func TestCardDescriptor(t *testing.T) {
	order := testOrder(models.RailCard, "49.99", "USD")
	tests := []struct {
		name         string
		client       *fakeRailClient
		wantRedirect string
		wantRef      string
	}{
		{"processor session", &fakeRailClient{remote: &RemoteOrder{RemoteID: "cf_1", RedirectURL: "https://processor.example/pay/cf_1"}}, "https://processor.example/pay/cf_1", "cf_1"},
		{"processor down", &fakeRailClient{err: errors.New("503")}, "https://pay.example.com/checkout/ord-123", ""},
		{"processor slow", &fakeRailClient{delay: time.Second}, "https://pay.example.com/checkout/ord-123", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewCardAdapter(tt.client, "https://pay.example.com/checkout/", quietLogger())
			a.RemoteTimeout = 20 * time.Millisecond
			desc, err := a.BuildDescriptor(context.Background(), order, testPayee())
			require.NoError(t, err)
			assert.Equal(t, tt.wantRedirect, desc.RedirectURL)
			assert.Equal(t, tt.wantRef, desc.ReferenceCode)
			assert.Equal(t, "49.99", desc.Amount)
		})
	}
}

func TestCardProofIsStatusCheck(t *testing.T) {
	a := NewCardAdapter(nil, "", nil)
	assert.Equal(t, Valid, a.IsProofValid(context.Background(), nil, Proof{Value: "pay_1", Outcome: "success"}).Verdict)
	assert.Equal(t, Invalid, a.IsProofValid(context.Background(), nil, Proof{Value: "pay_1", Outcome: "FAILED"}).Verdict)
	assert.Equal(t, Indeterminate, a.IsProofValid(context.Background(), nil, Proof{Value: "pay_1", Outcome: "PENDING"}).Verdict)
	assert.Equal(t, Invalid, a.IsProofValid(context.Background(), nil, Proof{Outcome: "SUCCESS"}).Verdict)
}

func TestExplorerLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tx/trc20/0xabc":
			assert.Equal(t, "key", r.Header.Get("X-API-Key"))
			w.Write([]byte(`{"hash":"0xabc","confirmed":true,"to":"TXyz","amount":"12.030799","confirmations":2}`))
		case "/api/tx/trc20/0xmissing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	l := NewExplorerLookup(server.URL, "key")
	tx, err := l.FetchTransaction(context.Background(), "TRC20", "0xabc")
	require.NoError(t, err)
	assert.True(t, tx.Confirmed)
	assert.Equal(t, 2, tx.Confirmations)
	assert.Equal(t, "12.030799", tx.Amount.String())

	_, err = l.FetchTransaction(context.Background(), "TRC20", "0xmissing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = l.FetchTransaction(context.Background(), "TRC20", "0xboom")
	assert.Error(t, err)
}
