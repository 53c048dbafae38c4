package rails

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
)

// ErrTransactionNotFound means the explorer has not indexed the hash (yet).
var ErrTransactionNotFound = errors.New("transaction not found")

// Transaction is the normalized on-chain view of a payment.
type Transaction struct {
	Hash          string
	Confirmed     bool
	ToAddress     string
	Amount        decimal.Decimal
	Confirmations int
}

// OnChainLookup resolves a transaction hash on a network.
type OnChainLookup interface {
	FetchTransaction(ctx context.Context, network, hash string) (*Transaction, error)
}

type token struct {
	network       string
	scheme        string
	confirmations int
}

var tokens = map[string]token{
	"USDT": {network: "TRC20", scheme: "tron", confirmations: 1},
	"BTC":  {network: "BTC", scheme: "bitcoin", confirmations: 3},
	"ETH":  {network: "ERC20", scheme: "ethereum", confirmations: 3},
}

// RequiredConfirmations returns the confirmation threshold for a token, or 0 if unsupported.
func RequiredConfirmations(symbol string) int {
	return tokens[strings.ToUpper(symbol)].confirmations
}

type CryptoAdapter struct {
	lookup        OnChainLookup
	LookupTimeout time.Duration
}

func NewCryptoAdapter(lookup OnChainLookup) *CryptoAdapter {
	return &CryptoAdapter{lookup: lookup, LookupTimeout: 10 * time.Second}
}

func (a *CryptoAdapter) Rail() models.Rail { return models.RailCrypto }
func (a *CryptoAdapter) ProofKind() models.ProofKind { return models.ProofTxHash }
func (a *CryptoAdapter) ExpiryWindow() time.Duration { return 30 * time.Minute }

func (a *CryptoAdapter) Currency(requested, _ string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(requested))
	if symbol == "" {
		symbol = "USDT"
	}
	if _, ok := tokens[symbol]; !ok {
		return "", apperrors.New(apperrors.KindValidation, "unsupported token %s", requested)
	}
	return symbol, nil
}

func (a *CryptoAdapter) BuildDescriptor(_ context.Context, order *models.Order, payee Payee) (models.RailDescriptor, error) {
	tk, ok := tokens[order.RailCurrency]
	if !ok {
		return models.RailDescriptor{}, apperrors.New(apperrors.KindValidation, "unsupported token %s", order.RailCurrency)
	}
	address := payee.Wallets[order.RailCurrency]
	if address == "" {
		return models.RailDescriptor{}, apperrors.New(apperrors.KindValidation, "payee has no %s wallet", order.RailCurrency)
	}
	amount := FormatAmount(order.RailAmount, order.RailCurrency)
	uri := fmt.Sprintf("%s:%s?amount=%s", tk.scheme, address, amount)
	if order.RailCurrency == "USDT" {
		uri += "&token=USDT"
	}
	return models.RailDescriptor{
		Rail:                  models.RailCrypto,
		PaymentURI:            uri,
		PayeeName:             payee.Name,
		Token:                 order.RailCurrency,
		Network:               tk.network,
		Address:               address,
		RequiredConfirmations: tk.confirmations,
		Amount:                amount,
		Currency:              order.RailCurrency,
		Instructions: []string{
			fmt.Sprintf("Send exactly %s %s on the %s network", amount, order.RailCurrency, tk.network),
			fmt.Sprintf("Destination address: %s", address),
			fmt.Sprintf("Payment confirms after %d network confirmation(s)", tk.confirmations),
			"Submit the transaction hash to confirm",
		},
	}, nil
}

// IsProofValid checks the transaction against the descriptor. Anything the chain may
// still change (unconfirmed, not indexed, lookup failure) is Indeterminate, never Invalid.
func (a *CryptoAdapter) IsProofValid(ctx context.Context, order *models.Order, proof Proof) Judgement {
	desc := order.RailDescriptor()
	hash := strings.TrimSpace(proof.Value)
	if hash == "" {
		return invalid("transaction hash is empty")
	}
	if a.lookup == nil {
		return indeterminate("no on-chain lookup configured")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.LookupTimeout)
	defer cancel()
	tx, err := a.lookup.FetchTransaction(lookupCtx, desc.Network, hash)
	if err != nil {
		switch {
		case errors.Is(err, ErrTransactionNotFound):
			return indeterminate("transaction not indexed yet")
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(lookupCtx.Err(), context.DeadlineExceeded):
			return Judgement{Verdict: Indeterminate, Reason: "on-chain lookup timed out", TimedOut: true, Err: err}
		}
		return Judgement{Verdict: Indeterminate, Reason: "on-chain lookup failed", Err: err}
	}

	if !tx.Confirmed {
		return indeterminate("transaction not confirmed")
	}
	if !strings.EqualFold(strings.TrimSpace(tx.ToAddress), desc.Address) {
		return invalid("transaction was sent to a different address")
	}
	if tx.Amount.LessThan(order.RailAmount) {
		return invalid("transaction amount %s is below %s", tx.Amount.String(), order.RailAmount.String())
	}
	required := desc.RequiredConfirmations
	if required == 0 {
		required = RequiredConfirmations(order.RailCurrency)
	}
	if tx.Confirmations < required {
		return indeterminate("%d of %d confirmations", tx.Confirmations, required)
	}
	return valid()
}
