package services

import (
	"encoding/json"
	"strings"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/rails"
)

// ProcessorEvent is an authenticated processor callback reduced to what the orchestrator needs.
type ProcessorEvent struct {
	Provider  string
	Type      string
	OrderID   string
	PaymentID string
	Outcome   rails.Outcome
	Reason    string
}

// PayoutEvent is a payout provider callback for a settlement.
type PayoutEvent struct {
	SettlementID string `json:"settlement_id"`
	Status       string `json:"status"`
	UTR          string `json:"utr"`
	Reason       string `json:"reason"`
}

type cashfreeWebhook struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment struct {
			CfPaymentID   json.Number `json:"cf_payment_id"`
			PaymentStatus string      `json:"payment_status"`
			PaymentMsg    string      `json:"payment_message"`
		} `json:"payment"`
		ErrorDetails struct {
			ErrorReason string `json:"error_reason"`
		} `json:"error_details"`
	} `json:"data"`
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string            `json:"id"`
				OrderID          string            `json:"order_id"`
				Status           string            `json:"status"`
				ErrorDescription string            `json:"error_description"`
				Notes            map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseProcessorEvent decodes a card processor callback body.
func ParseProcessorEvent(provider string, body []byte) (*ProcessorEvent, error) {
	switch strings.ToLower(provider) {
	case "cashfree":
		return parseCashfree(body)
	case "razorpay":
		return parseRazorpay(body)
	}
	return nil, apperrors.New(apperrors.KindValidation, "unsupported provider %q", provider)
}

func parseCashfree(body []byte) (*ProcessorEvent, error) {
	var hook cashfreeWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err, "malformed cashfree payload")
	}
	ev := &ProcessorEvent{
		Provider:  "cashfree",
		Type:      hook.Type,
		OrderID:   hook.Data.Order.OrderID,
		PaymentID: hook.Data.Payment.CfPaymentID.String(),
	}
	switch hook.Type {
	case "PAYMENT_SUCCESS_WEBHOOK":
		ev.Outcome = rails.OutcomeSuccess
	case "PAYMENT_FAILED_WEBHOOK":
		ev.Outcome = rails.OutcomeFailed
		ev.Reason = firstNonEmpty(hook.Data.ErrorDetails.ErrorReason, hook.Data.Payment.PaymentMsg, "payment failed")
	case "PAYMENT_USER_DROPPED_WEBHOOK":
		ev.Outcome = rails.OutcomeDropped
		ev.Reason = "customer dropped"
	default:
		ev.Outcome = rails.OutcomeUnknown
	}
	if ev.OrderID == "" {
		return nil, apperrors.New(apperrors.KindValidation, "cashfree payload has no order id")
	}
	return ev, nil
}

func parseRazorpay(body []byte) (*ProcessorEvent, error) {
	var hook razorpayWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err, "malformed razorpay payload")
	}
	entity := hook.Payload.Payment.Entity
	ev := &ProcessorEvent{
		Provider:  "razorpay",
		Type:      hook.Event,
		OrderID:   entity.Notes["order_id"],
		PaymentID: entity.ID,
	}
	switch hook.Event {
	case "payment.captured":
		ev.Outcome = rails.OutcomeSuccess
	case "payment.failed":
		ev.Outcome = rails.OutcomeFailed
		ev.Reason = firstNonEmpty(entity.ErrorDescription, "payment failed")
	default:
		ev.Outcome = rails.OutcomeUnknown
	}
	if ev.OrderID == "" {
		return nil, apperrors.New(apperrors.KindValidation, "razorpay payload has no order_id note")
	}
	return ev, nil
}

// ParsePayoutEvent decodes a payout completion callback.
func ParsePayoutEvent(body []byte) (*PayoutEvent, error) {
	var ev PayoutEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err, "malformed payout payload")
	}
	if ev.SettlementID == "" {
		return nil, apperrors.New(apperrors.KindValidation, "payout payload has no settlement_id")
	}
	ev.Status = strings.ToUpper(ev.Status)
	return &ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
