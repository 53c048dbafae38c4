package services

import (
	"bytes"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/rails"
)

func TestWebhookAuthenticator(t *testing.T) {
	metrics := NewMetrics()
	auth := NewWebhookAuthenticator(quietLogger(), metrics, DefaultWebhookSchemes("cf-secret", "rzp-secret", "", 0)...)

	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"ord_1"}}}`)
	ts := "1760778000"
	cfSig := SignPayload("cf-secret", ts, body, EncodingBase64)
	rzpSig := SignPayload("rzp-secret", "", body, EncodingHex)

	tests := []struct {
		name     string
		provider string
		headers  map[string]string
		body     []byte
		wantErr  bool
	}{
		{"cashfree valid", "cashfree", map[string]string{"x-webhook-signature": cfSig, "x-webhook-timestamp": ts}, body, false},
		{"cashfree tampered body", "cashfree", map[string]string{"x-webhook-signature": cfSig, "x-webhook-timestamp": ts}, bytes.Replace(body, []byte("ord_1"), []byte("ord_9"), 1), true},
		{"cashfree other timestamp", "cashfree", map[string]string{"x-webhook-signature": cfSig, "x-webhook-timestamp": "1760778001"}, body, true},
		{"cashfree missing timestamp", "cashfree", map[string]string{"x-webhook-signature": cfSig}, body, true},
		{"cashfree malformed signature", "cashfree", map[string]string{"x-webhook-signature": "%%%not-base64", "x-webhook-timestamp": ts}, body, true},
		{"missing signature", "cashfree", map[string]string{"x-webhook-timestamp": ts}, body, true},
		{"razorpay valid", "razorpay", map[string]string{"X-Razorpay-Signature": rzpSig}, body, false},
		{"razorpay uppercase hex", "RazorPay", map[string]string{"X-Razorpay-Signature": upper(rzpSig)}, body, false},
		{"razorpay signed with other secret", "razorpay", map[string]string{"X-Razorpay-Signature": SignPayload("wrong", "", body, EncodingHex)}, body, true},
		{"razorpay truncated signature", "razorpay", map[string]string{"X-Razorpay-Signature": rzpSig[:20]}, body, true},
		{"provider without secret", "payouts", map[string]string{"X-Payout-Signature": SignPayload("", "", body, EncodingHex)}, body, true},
		{"unknown provider", "stripe", map[string]string{"Stripe-Signature": "abc"}, body, true},
	}
	rejected := int64(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			for k, v := range tt.headers {
				header.Set(k, v)
			}
			err := auth.Authenticate(tt.provider, header, tt.body)
			if tt.wantErr {
				rejected++
				assert.True(t, apperrors.Is(err, apperrors.KindSignatureInvalid), "err = %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
	assert.Equal(t, rejected, metrics.GetMetrics().SignaturesRejected)
	assert.False(t, auth.Knows("payouts"))
}

func TestWebhookAuthenticator_TimestampSkew(t *testing.T) {
	scheme := WebhookScheme{
		Provider:        "cashfree",
		Secret:          "cf-secret",
		SignatureHeader: "x-webhook-signature",
		TimestampHeader: "x-webhook-timestamp",
		Encoding:        EncodingBase64,
		MaxSkew:         5 * time.Minute,
	}
	auth := NewWebhookAuthenticator(quietLogger(), nil, scheme)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return now }

	body := []byte(`{}`)
	check := func(ts string) error {
		header := http.Header{}
		header.Set("x-webhook-timestamp", ts)
		header.Set("x-webhook-signature", SignPayload("cf-secret", ts, body, EncodingBase64))
		return auth.Authenticate("cashfree", header, body)
	}

	assert.NoError(t, check(strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)))
	assert.NoError(t, check(strconv.FormatInt(now.UnixMilli(), 10)))
	assert.NoError(t, check(now.Format(time.RFC3339)))
	assert.Error(t, check(strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)))
	assert.Error(t, check("yesterday"))
}

func TestDefaultWebhookSchemes_CashfreeReplayWindow(t *testing.T) {
	auth := NewWebhookAuthenticator(quietLogger(), nil, DefaultWebhookSchemes("cf-secret", "rzp-secret", "", 5*time.Minute)...)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return now }

	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`)
	signed := func(at time.Time) http.Header {
		ts := strconv.FormatInt(at.Unix(), 10)
		header := http.Header{}
		header.Set("x-webhook-timestamp", ts)
		header.Set("x-webhook-signature", SignPayload("cf-secret", ts, body, EncodingBase64))
		return header
	}

	assert.NoError(t, auth.Authenticate("cashfree", signed(now.Add(-2*time.Minute)), body))
	err := auth.Authenticate("cashfree", signed(now.Add(-6*time.Minute)), body)
	assert.True(t, apperrors.Is(err, apperrors.KindSignatureInvalid), "err = %v", err)

	// Razorpay carries no timestamp, so the window does not apply.
	header := http.Header{}
	header.Set("X-Razorpay-Signature", SignPayload("rzp-secret", "", body, EncodingHex))
	assert.NoError(t, auth.Authenticate("razorpay", header, body))
}

func TestParseProcessorEvent(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		body     string
		want     ProcessorEvent
		wantErr  bool
	}{
		{
			name:     "cashfree success",
			provider: "cashfree",
			body:     `{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"ord_1"},"payment":{"cf_payment_id":5114910397,"payment_status":"SUCCESS"}}}`,
			want:     ProcessorEvent{Provider: "cashfree", Type: "PAYMENT_SUCCESS_WEBHOOK", OrderID: "ord_1", PaymentID: "5114910397", Outcome: rails.OutcomeSuccess},
		},
		{
			name:     "cashfree failed",
			provider: "cashfree",
			body:     `{"type":"PAYMENT_FAILED_WEBHOOK","data":{"order":{"order_id":"ord_2"},"payment":{"cf_payment_id":"77"},"error_details":{"error_reason":"insufficient_funds"}}}`,
			want:     ProcessorEvent{Provider: "cashfree", Type: "PAYMENT_FAILED_WEBHOOK", OrderID: "ord_2", PaymentID: "77", Outcome: rails.OutcomeFailed, Reason: "insufficient_funds"},
		},
		{
			name:     "cashfree dropped",
			provider: "cashfree",
			body:     `{"type":"PAYMENT_USER_DROPPED_WEBHOOK","data":{"order":{"order_id":"ord_3"}}}`,
			want:     ProcessorEvent{Provider: "cashfree", Type: "PAYMENT_USER_DROPPED_WEBHOOK", OrderID: "ord_3", Outcome: rails.OutcomeDropped, Reason: "customer dropped"},
		},
		{
			name:     "razorpay captured",
			provider: "razorpay",
			body:     `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_29QQoUBi66xm2f","status":"captured","notes":{"order_id":"ord_4"}}}}}`,
			want:     ProcessorEvent{Provider: "razorpay", Type: "payment.captured", OrderID: "ord_4", PaymentID: "pay_29QQoUBi66xm2f", Outcome: rails.OutcomeSuccess},
		},
		{
			name:     "razorpay without order note",
			provider: "razorpay",
			body:     `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`,
			wantErr:  true,
		},
		{name: "malformed", provider: "cashfree", body: `{"type":`, wantErr: true},
		{name: "unknown provider", provider: "paypal", body: `{}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseProcessorEvent(tt.provider, []byte(tt.body))
			if tt.wantErr {
				assert.True(t, apperrors.Is(err, apperrors.KindValidation), "err = %v", err)
				return
			}
			if assert.NoError(t, err) {
				assert.Equal(t, tt.want, *ev)
			}
		})
	}
}

func TestParsePayoutEvent(t *testing.T) {
	ev, err := ParsePayoutEvent([]byte(`{"settlement_id":"stl_1","status":"success","utr":"N1234"}`))
	assert.NoError(t, err)
	assert.Equal(t, "SUCCESS", ev.Status)

	_, err = ParsePayoutEvent([]byte(`{"status":"success"}`))
	assert.Error(t, err)
}

func upper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
