package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/rails"
)

// ProcessorConfig holds the card processor configuration
type ProcessorConfig struct {
	ServerKey    string
	BaseURL      string
	IsProduction bool
	MerchantName string
	NotifyURL    string
}

// ProcessorClient talks to the card processor REST API and implements rails.RailClient.
type ProcessorClient struct {
	config     *ProcessorConfig
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// NewProcessorClient creates a new instance of ProcessorClient
func NewProcessorClient(config *ProcessorConfig, logger logrus.FieldLogger) *ProcessorClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProcessorClient{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// ValidateConfig validates processor configuration
func (pc *ProcessorClient) ValidateConfig() error {
	if pc.config.ServerKey == "" {
		return fmt.Errorf("PROCESSOR_SERVER_KEY is not set")
	}
	if pc.config.MerchantName == "" {
		return fmt.Errorf("PROCESSOR_MERCHANT_NAME is not set")
	}
	if pc.config.NotifyURL == "" {
		return fmt.Errorf("PROCESSOR_NOTIFY_URL is not set")
	}
	return nil
}

// ProcessorResponse represents a processor charge response
type ProcessorResponse struct {
	Token             string `json:"token"`
	RedirectURL       string `json:"redirect_url"`
	StatusCode        string `json:"status_code"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	Message           string `json:"message"`
	Actions           []struct {
		Name   string `json:"name"`
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"actions"`
}

// CreateRemoteOrder registers a card checkout for the order.
func (pc *ProcessorClient) CreateRemoteOrder(ctx context.Context, order *models.Order) (*rails.RemoteOrder, error) {
	payload := map[string]interface{}{
		"payment_type": "credit_card",
		"transaction_details": map[string]interface{}{
			"order_id":     order.ID,
			"gross_amount": order.RailAmount,
			"currency":     order.RailCurrency,
		},
		"customer_details": map[string]interface{}{
			"email": order.CustomerEmail,
			"phone": order.CustomerPhone,
		},
		"item_details": []map[string]interface{}{
			{
				"id":       order.ID,
				"price":    order.RailAmount,
				"quantity": 1,
				"name":     orderItemName(order),
			},
		},
		"callbacks": map[string]interface{}{
			"notification": pc.config.NotifyURL,
		},
	}

	var resp ProcessorResponse
	if err := pc.do(ctx, http.MethodPost, "/v2/charge", payload, &resp); err != nil {
		return nil, err
	}

	redirect := resp.RedirectURL
	for _, action := range resp.Actions {
		if redirect == "" && action.Name == "redirect" {
			redirect = action.URL
		}
	}

	pc.logger.WithFields(logrus.Fields{"order_id": order.ID, "transaction_id": resp.TransactionID}).Info("processor order created")
	return &rails.RemoteOrder{RemoteID: resp.TransactionID, RedirectURL: redirect}, nil
}

// FetchRemoteStatus checks transaction status at the processor
func (pc *ProcessorClient) FetchRemoteStatus(ctx context.Context, orderID string) (*rails.RemoteStatus, error) {
	var resp ProcessorResponse
	if err := pc.do(ctx, http.MethodGet, fmt.Sprintf("/v2/%s/status", url.PathEscape(orderID)), nil, &resp); err != nil {
		return nil, err
	}
	amount, _ := decimal.NewFromString(resp.GrossAmount)
	return &rails.RemoteStatus{
		OrderID:   orderID,
		PaymentID: resp.TransactionID,
		Outcome:   mapTransactionStatus(resp.TransactionStatus),
		Amount:    amount,
	}, nil
}

// CreateRefund requests a full or partial refund of a settled transaction.
func (pc *ProcessorClient) CreateRefund(ctx context.Context, orderID, refundID string, amount decimal.Decimal, note string) (*rails.RemoteRefund, error) {
	payload := map[string]interface{}{
		"refund_key": refundID,
		"amount":     amount,
		"reason":     note,
	}
	var resp struct {
		StatusCode string `json:"status_code"`
		RefundKey  string `json:"refund_key"`
		RefundID   string `json:"refund_chargeback_id"`
		Message    string `json:"status_message"`
	}
	if err := pc.do(ctx, http.MethodPost, fmt.Sprintf("/v2/%s/refund", url.PathEscape(orderID)), payload, &resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != "" && resp.StatusCode != "200" {
		return nil, fmt.Errorf("processor refused refund: %s", resp.Message)
	}
	id := resp.RefundID
	if id == "" {
		id = resp.RefundKey
	}
	return &rails.RemoteRefund{RefundID: id, Status: "COMPLETED"}, nil
}

// FetchSettlements lists processor settlements in [from, to).
func (pc *ProcessorClient) FetchSettlements(ctx context.Context, from, to time.Time) ([]rails.RemoteSettlement, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	var resp struct {
		Settlements []rails.RemoteSettlement `json:"settlements"`
	}
	if err := pc.do(ctx, http.MethodGet, "/v2/settlements?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Settlements, nil
}

func (pc *ProcessorClient) do(ctx context.Context, method, path string, payload interface{}, into interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, pc.getBaseURL()+path, body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(pc.config.ServerKey+":")))

	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pc.logger.WithFields(logrus.Fields{"path": path, "status": resp.StatusCode}).Warn("processor API error")
		return fmt.Errorf("processor API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, into); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}

// mapTransactionStatus maps processor transaction status to an outcome
func mapTransactionStatus(status string) rails.Outcome {
	switch strings.ToLower(status) {
	case "capture", "settlement":
		return rails.OutcomeSuccess
	case "pending", "authorize":
		return rails.OutcomePending
	case "deny", "failure":
		return rails.OutcomeFailed
	case "cancel", "expire":
		return rails.OutcomeDropped
	default:
		return rails.OutcomeUnknown
	}
}

// getBaseURL returns the processor API base URL
func (pc *ProcessorClient) getBaseURL() string {
	if pc.config.BaseURL != "" {
		return strings.TrimRight(pc.config.BaseURL, "/")
	}
	if pc.config.IsProduction {
		return "https://api.midtrans.com"
	}
	return "https://api.sandbox.midtrans.com"
}

func orderItemName(order *models.Order) string {
	if order.Description != "" {
		return order.Description
	}
	return "Order Payment"
}
