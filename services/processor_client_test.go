package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/rails"
)

func TestProcessorClient_ValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  *ProcessorConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: &ProcessorConfig{
				ServerKey:    "test-server-key",
				MerchantName: "test-merchant",
				NotifyURL:    "https://test.com/webhooks/razorpay",
			},
			wantErr: false,
		},
		{
			name: "missing server key",
			config: &ProcessorConfig{
				MerchantName: "test-merchant",
				NotifyURL:    "https://test.com/webhooks/razorpay",
			},
			wantErr: true,
		},
		{
			name: "missing notify url",
			config: &ProcessorConfig{
				ServerKey:    "test-server-key",
				MerchantName: "test-merchant",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := NewProcessorClient(tt.config, quietLogger())
			err := pc.ValidateConfig()
			assert.Equal(t, tt.wantErr, err != nil, "ValidateConfig() error = %v", err)
		})
	}
}

func TestProcessorClient_FetchRemoteStatus(t *testing.T) {
	tests := []struct {
		name           string
		mockResponse   string
		mockStatusCode int
		wantOutcome    rails.Outcome
		wantErr        bool
	}{
		{"success status", `{"transaction_status": "settlement", "transaction_id": "tx-1", "gross_amount": "49.99"}`, http.StatusOK, rails.OutcomeSuccess, false},
		{"capture status", `{"transaction_status": "capture"}`, http.StatusOK, rails.OutcomeSuccess, false},
		{"pending status", `{"transaction_status": "pending"}`, http.StatusOK, rails.OutcomePending, false},
		{"failed status", `{"transaction_status": "deny"}`, http.StatusOK, rails.OutcomeFailed, false},
		{"expired status", `{"transaction_status": "expire"}`, http.StatusOK, rails.OutcomeDropped, false},
		{"api error", `{"error": "Invalid order ID"}`, http.StatusBadRequest, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/ord-1/status", r.URL.Path)
				assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("test-server-key:")), r.Header.Get("Authorization"))
				w.WriteHeader(tt.mockStatusCode)
				w.Write([]byte(tt.mockResponse))
			}))
			defer server.Close()

			pc := NewProcessorClient(&ProcessorConfig{ServerKey: "test-server-key", BaseURL: server.URL}, quietLogger())
			status, err := pc.FetchRemoteStatus(context.Background(), "ord-1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, status.Outcome)
		})
	}
}

func TestProcessorClient_CreateRemoteOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/charge", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		details := body["transaction_details"].(map[string]interface{})
		assert.Equal(t, "ord-9", details["order_id"])
		assert.Equal(t, "49.99", details["gross_amount"])
		w.Write([]byte(`{"transaction_id":"tx-9","actions":[{"name":"redirect","method":"GET","url":"https://processor.example/pay/tx-9"}]}`))
	}))
	defer server.Close()

	pc := NewProcessorClient(&ProcessorConfig{ServerKey: "k", BaseURL: server.URL}, quietLogger())
	remote, err := pc.CreateRemoteOrder(context.Background(), &models.Order{
		ID:           "ord-9",
		RailAmount:   decimal.RequireFromString("49.99"),
		RailCurrency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-9", remote.RemoteID)
	assert.Equal(t, "https://processor.example/pay/tx-9", remote.RedirectURL)
}

func TestProcessorClient_CreateRefund(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		wantID  string
		wantErr bool
	}{
		{"accepted", `{"status_code":"200","refund_key":"rf-1","refund_chargeback_id":"cb-77"}`, http.StatusOK, "cb-77", false},
		{"refused", `{"status_code":"412","status_message":"not settled"}`, http.StatusOK, "", true},
		{"http error", `{}`, http.StatusInternalServerError, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/ord-1/refund", r.URL.Path)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			pc := NewProcessorClient(&ProcessorConfig{ServerKey: "k", BaseURL: server.URL}, quietLogger())
			refund, err := pc.CreateRefund(context.Background(), "ord-1", "rf-1", decimal.NewFromInt(10), "customer request")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, refund.RefundID)
		})
	}
}

func TestProcessorClient_FetchSettlements(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/settlements", r.URL.Path)
		assert.Equal(t, "2026-10-01T00:00:00Z", r.URL.Query().Get("from"))
		w.Write([]byte(`{"settlements":[{"id":"s-1","amount":"1200.50","currency":"INR","status":"SETTLED","utr":"N123"}]}`))
	}))
	defer server.Close()

	pc := NewProcessorClient(&ProcessorConfig{ServerKey: "k", BaseURL: server.URL}, quietLogger())
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	list, err := pc.FetchSettlements(context.Background(), from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1200.5", list[0].Amount.String())
	assert.Equal(t, "N123", list[0].UTR)
}
