package rails

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
)

// MinReferenceLength is the shortest UTR accepted for UPI and bank transfers.
// The length rule stands in for a bank statement lookup.
const MinReferenceLength = 12

func checkReference(proof Proof) Judgement {
	ref := strings.TrimSpace(proof.Value)
	if len(ref) < MinReferenceLength {
		return invalid("reference must be at least %d characters", MinReferenceLength)
	}
	return valid()
}

type UPIAdapter struct{}

func NewUPIAdapter() *UPIAdapter { return &UPIAdapter{} }

func (a *UPIAdapter) Rail() models.Rail { return models.RailUPI }
func (a *UPIAdapter) ProofKind() models.ProofKind { return models.ProofUTR }
func (a *UPIAdapter) ExpiryWindow() time.Duration { return 15 * time.Minute }

func (a *UPIAdapter) Currency(_, _ string) (string, error) { return "INR", nil }

func (a *UPIAdapter) BuildDescriptor(_ context.Context, order *models.Order, payee Payee) (models.RailDescriptor, error) {
	if payee.UPIHandle == "" {
		return models.RailDescriptor{}, apperrors.New(apperrors.KindValidation, "payee has no UPI handle")
	}
	amount := FormatAmount(order.RailAmount, order.RailCurrency)
	note := order.Description
	if note == "" {
		note = "Order " + order.ID
	}
	uri := fmt.Sprintf("upi://pay?pa=%s&pn=%s&am=%s&cu=%s&tn=%s&tr=%s",
		queryEscape(payee.UPIHandle),
		queryEscape(payee.Name),
		amount,
		order.RailCurrency,
		queryEscape(note),
		queryEscape(order.ID),
	)
	return models.RailDescriptor{
		Rail:       models.RailUPI,
		PaymentURI: uri,
		PayeeName:  payee.Name,
		UPIHandle:  payee.UPIHandle,
		Amount:     amount,
		Currency:   order.RailCurrency,
		Instructions: []string{
			"Open any UPI app (GPay, PhonePe, Paytm, BHIM)",
			fmt.Sprintf("Pay %s %s to %s", amount, order.RailCurrency, payee.UPIHandle),
			"Submit the 12 digit UTR shown after payment to confirm",
		},
	}, nil
}

func (a *UPIAdapter) IsProofValid(_ context.Context, _ *models.Order, proof Proof) Judgement {
	return checkReference(proof)
}
