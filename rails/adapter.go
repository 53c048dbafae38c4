package rails

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/rates"
)

type Verdict string

const (
	Valid         Verdict = "valid"
	Invalid       Verdict = "invalid"
	Indeterminate Verdict = "indeterminate"
)

// Judgement is an adapter's answer to "does this proof settle this order".
type Judgement struct {
	Verdict  Verdict
	Reason   string
	TimedOut bool
	Err      error
}

func valid() Judgement { return Judgement{Verdict: Valid} }

func invalid(format string, args ...interface{}) Judgement {
	return Judgement{Verdict: Invalid, Reason: fmt.Sprintf(format, args...)}
}

func indeterminate(format string, args ...interface{}) Judgement {
	return Judgement{Verdict: Indeterminate, Reason: fmt.Sprintf(format, args...)}
}

// Proof is caller or processor supplied evidence of payment. Outcome is only
// meaningful for processor callbacks and carries the authenticated result.
type Proof struct {
	Kind    models.ProofKind
	Value   string
	Outcome string
}

// Payee is where money for an order should land.
type Payee struct {
	Name      string
	UPIHandle string
	Bank      *models.BankAccount
	Wallets   map[string]string
}

// Adapter is the per-rail contract used by the orchestrator.
type Adapter interface {
	Rail() models.Rail
	ProofKind() models.ProofKind
	ExpiryWindow() time.Duration
	// Currency is the unit the payer sends on this rail.
	Currency(requested, orderCurrency string) (string, error)
	BuildDescriptor(ctx context.Context, order *models.Order, payee Payee) (models.RailDescriptor, error)
	IsProofValid(ctx context.Context, order *models.Order, proof Proof) Judgement
}

// Registry dispatches a rail to its adapter.
type Registry struct {
	adapters map[models.Rail]Adapter
}

// NewRegistry fails unless every rail has exactly one adapter.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[models.Rail]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Rail()]; dup {
			return nil, fmt.Errorf("duplicate adapter for rail %s", a.Rail())
		}
		r.adapters[a.Rail()] = a
	}
	for _, rail := range models.AllRails {
		if _, ok := r.adapters[rail]; !ok {
			return nil, fmt.Errorf("no adapter for rail %s", rail)
		}
	}
	return r, nil
}

func (r *Registry) Get(rail models.Rail) (Adapter, error) {
	a, ok := r.adapters[rail]
	if !ok {
		return nil, fmt.Errorf("no adapter for rail %s", rail)
	}
	return a, nil
}

// FormatAmount renders amount with the unit precision of currency.
func FormatAmount(amount decimal.Decimal, currency string) string {
	if rates.IsCrypto(currency) {
		return rates.Round(amount, currency).StringFixed(6)
	}
	return rates.Round(amount, currency).StringFixed(2)
}

// queryEscape escapes a payment URI parameter, keeping '@' readable and encoding spaces as %20.
func queryEscape(v string) string {
	escaped := url.QueryEscape(v)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	return strings.ReplaceAll(escaped, "%40", "@")
}
