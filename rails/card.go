package rails

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/models"
)

// Outcome is a processor reported payment result, normalized.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePending Outcome = "PENDING"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeDropped Outcome = "USER_DROPPED"
	OutcomeUnknown Outcome = "UNKNOWN"
)

type RemoteOrder struct {
	RemoteID    string
	RedirectURL string
}

type RemoteStatus struct {
	OrderID   string
	PaymentID string
	Outcome   Outcome
	Amount    decimal.Decimal
}

type RemoteRefund struct {
	RefundID string
	Status   string
}

type RemoteSettlement struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	UTR       string          `json:"utr,omitempty"`
	SettledAt *time.Time      `json:"settled_at,omitempty"`
}

// RailClient is the card processor as seen by the gateway. Only normalized fields cross it.
type RailClient interface {
	CreateRemoteOrder(ctx context.Context, order *models.Order) (*RemoteOrder, error)
	FetchRemoteStatus(ctx context.Context, orderID string) (*RemoteStatus, error)
	CreateRefund(ctx context.Context, orderID, refundID string, amount decimal.Decimal, note string) (*RemoteRefund, error)
	FetchSettlements(ctx context.Context, from, to time.Time) ([]RemoteSettlement, error)
}

// CardAdapter registers the order with the processor and trusts only outcomes
// that reached it through an authenticated webhook or a status poll.
type CardAdapter struct {
	client        RailClient
	CheckoutURL   string
	RemoteTimeout time.Duration
	logger        logrus.FieldLogger
}

func NewCardAdapter(client RailClient, checkoutURL string, logger logrus.FieldLogger) *CardAdapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CardAdapter{
		client:        client,
		CheckoutURL:   strings.TrimRight(checkoutURL, "/"),
		RemoteTimeout: 5 * time.Second,
		logger:        logger,
	}
}

func (a *CardAdapter) Rail() models.Rail { return models.RailCard }
func (a *CardAdapter) ProofKind() models.ProofKind { return models.ProofProcessorSignature }
func (a *CardAdapter) ExpiryWindow() time.Duration { return 15 * time.Minute }

func (a *CardAdapter) Currency(_, orderCurrency string) (string, error) {
	return strings.ToUpper(orderCurrency), nil
}

// BuildDescriptor falls back to the hosted checkout URL when the processor is slow or down.
func (a *CardAdapter) BuildDescriptor(ctx context.Context, order *models.Order, payee Payee) (models.RailDescriptor, error) {
	amount := FormatAmount(order.RailAmount, order.RailCurrency)
	desc := models.RailDescriptor{
		Rail:        models.RailCard,
		PayeeName:   payee.Name,
		RedirectURL: fmt.Sprintf("%s/%s", a.CheckoutURL, order.ID),
		Amount:      amount,
		Currency:    order.RailCurrency,
		Instructions: []string{
			"Open the checkout link to pay by card, netbanking or wallet",
			fmt.Sprintf("Amount due: %s %s", amount, order.RailCurrency),
		},
	}
	if a.client == nil {
		return desc, nil
	}

	remoteCtx, cancel := context.WithTimeout(ctx, a.RemoteTimeout)
	defer cancel()
	remote, err := a.client.CreateRemoteOrder(remoteCtx, order)
	if err != nil {
		a.logger.WithFields(logrus.Fields{"order_id": order.ID}).WithError(err).Warn("processor order registration failed, using hosted checkout")
		return desc, nil
	}
	desc.ReferenceCode = remote.RemoteID
	if remote.RedirectURL != "" {
		desc.RedirectURL = remote.RedirectURL
	}
	return desc, nil
}

// IsProofValid is a pure status check: the outcome was already authenticated upstream.
func (a *CardAdapter) IsProofValid(_ context.Context, _ *models.Order, proof Proof) Judgement {
	if strings.TrimSpace(proof.Value) == "" {
		return invalid("processor payment id is empty")
	}
	switch Outcome(strings.ToUpper(proof.Outcome)) {
	case OutcomeSuccess:
		return valid()
	case OutcomeFailed, OutcomeDropped:
		return invalid("processor reported %s", strings.ToUpper(proof.Outcome))
	}
	return indeterminate("processor outcome %q is not final", proof.Outcome)
}
