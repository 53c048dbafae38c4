package Controllers_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/services"
)

func (ts *testServer) webhook(provider, header, signature string, body []byte) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(header, signature)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func razorpayCaptured(orderID, paymentID string) []byte {
	return []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"` + paymentID +
		`","status":"captured","notes":{"order_id":"` + orderID + `"}}}}}`)
}

func TestProcessorWebhook(t *testing.T) {
	ts := newTestServer(t)
	merchantID, token := ts.registerMerchant(t, "thalistation")
	order := ts.createOrder(t, merchantID, "1200", "INR", "CARD")

	body := razorpayCaptured(order.ID, "pay_Nx81QaZ")
	sig := services.SignPayload(razorpaySecret, "", body, services.EncodingHex)

	// Tampered: same signature, different order.
	tampered := razorpayCaptured("ord_attacker", "pay_Nx81QaZ")
	w := ts.webhook("razorpay", "X-Razorpay-Signature", sig, tampered)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.webhook("razorpay", "", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodGet, "/orders/"+order.ID, "", nil)
	var got orderView
	decode(t, w, &got)
	assert.Equal(t, models.OrderStatusPending, got.Status, "rejected callbacks must not move the order")

	w = ts.webhook("razorpay", "X-Razorpay-Signature", sig, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"outcome":"paid"`)

	// Redelivery is acknowledged without a second credit.
	w = ts.webhook("razorpay", "X-Razorpay-Signature", sig, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"order_not_pending"`)

	w = ts.do(http.MethodGet, "/merchant/balance", token, nil)
	var balance struct {
		Balance string `json:"balance"`
	}
	decode(t, w, &balance)
	assert.Equal(t, "1200", balance.Balance)
	assert.Equal(t, int64(2), ts.metrics.GetMetrics().SignaturesRejected)

	// Refunds go back through the processor.
	w = ts.do(http.MethodPost, "/merchant/orders/"+order.ID+"/refund", token, gin.H{"amount": "200", "note": "cold food"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	ts.processor.mu.Lock()
	ts.processor.refundErr = errors.New("processor down")
	ts.processor.mu.Unlock()
	w = ts.do(http.MethodPost, "/merchant/orders/"+order.ID+"/refund", token, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = ts.do(http.MethodGet, "/merchant/orders/"+order.ID+"/refunds", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var refunds []struct {
		ID     string `json:"refund_id"`
		Status string `json:"status"`
	}
	decode(t, w, &refunds)
	assert.Len(t, refunds, 2)

	w = ts.do(http.MethodGet, "/merchant/balance", token, nil)
	decode(t, w, &balance)
	assert.Equal(t, "1000", balance.Balance)
}

func TestProcessorWebhook_UnknownOrderAcknowledged(t *testing.T) {
	ts := newTestServer(t)
	body := razorpayCaptured("ord_gone", "pay_1")
	w := ts.webhook("razorpay", "X-Razorpay-Signature", services.SignPayload(razorpaySecret, "", body, services.EncodingHex), body)
	assert.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w, nil)
	assert.False(t, env.Status)
	assert.Equal(t, "not_found", env.Kind)
}

func TestProviderWithoutSecretRejected(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"ord_1"}}}`)
	w := ts.webhook("cashfree", "x-webhook-signature", "anything", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPayoutWebhook(t *testing.T) {
	ts := newTestServer(t)
	merchantID, token := ts.registerMerchant(t, "pongalpoint")
	order := ts.createOrder(t, merchantID, "700", "INR", "UPI")
	w := ts.do(http.MethodPost, "/orders/"+order.ID+"/verify", "", gin.H{"proof": "UTR700700700700"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/merchant/settlements", token, gin.H{"amount": "700"})
	require.Equal(t, http.StatusCreated, w.Code)
	var st settlementView
	decode(t, w, &st)

	body := []byte(`{"settlement_id":"` + st.ID + `","status":"reversed","reason":"beneficiary name mismatch"}`)
	sig := services.SignPayload(payoutSecret, "", body, services.EncodingHex)
	w = ts.webhook("payouts", "X-Payout-Signature", sig, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &st)
	assert.Equal(t, models.SettlementFailed, st.Status)

	w = ts.do(http.MethodGet, "/merchant/balance", token, nil)
	var balance struct {
		Balance string `json:"balance"`
	}
	decode(t, w, &balance)
	assert.Equal(t, "700", balance.Balance)
}
