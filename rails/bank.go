package rails

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
)

// BankAdapter handles direct NEFT/IMPS/RTGS transfers. Each order gets a unique
// reference code the payer quotes in the transfer remarks.
type BankAdapter struct {
	node *snowflake.Node
}

func NewBankAdapter(nodeID int64) (*BankAdapter, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create reference generator: %w", err)
	}
	return &BankAdapter{node: node}, nil
}

func (a *BankAdapter) Rail() models.Rail { return models.RailBank }
func (a *BankAdapter) ProofKind() models.ProofKind { return models.ProofUTR }
func (a *BankAdapter) ExpiryWindow() time.Duration { return 24 * time.Hour }

func (a *BankAdapter) Currency(_, _ string) (string, error) { return "INR", nil }

func (a *BankAdapter) BuildDescriptor(_ context.Context, order *models.Order, payee Payee) (models.RailDescriptor, error) {
	if payee.Bank == nil {
		return models.RailDescriptor{}, apperrors.New(apperrors.KindValidation, "payee has no bank account")
	}
	amount := FormatAmount(order.RailAmount, order.RailCurrency)
	reference := "OMNI" + a.node.Generate().Base36()
	bank := *payee.Bank
	return models.RailDescriptor{
		Rail:          models.RailBank,
		PayeeName:     payee.Name,
		Bank:          &bank,
		ReferenceCode: reference,
		Amount:        amount,
		Currency:      order.RailCurrency,
		Instructions: []string{
			fmt.Sprintf("Transfer exactly %s %s via NEFT, IMPS or RTGS", amount, order.RailCurrency),
			fmt.Sprintf("Beneficiary: %s, A/C %s, IFSC %s", bank.AccountName, bank.AccountNumber, bank.IFSC),
			fmt.Sprintf("Quote reference %s in the remarks", reference),
			"Submit the UTR from your bank to confirm",
		},
	}, nil
}

func (a *BankAdapter) IsProofValid(_ context.Context, _ *models.Order, proof Proof) Judgement {
	return checkReference(proof)
}
