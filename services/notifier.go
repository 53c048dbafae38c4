package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/yeremiapane/omnipay-gateway/models"
)

const EventPaymentCompleted = "payment.completed"

// Notifier tells merchants about settled orders. Delivery never blocks the caller.
type Notifier interface {
	NotifyOrderPaid(merchant *models.Merchant, order *models.Order)
}

// WebhookPayload is the body of an outbound merchant webhook.
type WebhookPayload struct {
	Event       string     `json:"event"`
	OrderID     string     `json:"orderId"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completedAt"`
}

// WebhookNotifier posts signed webhooks with retries and exponential backoff.
type WebhookNotifier struct {
	client      *fasthttp.Client
	logger      logrus.FieldLogger
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	wg          sync.WaitGroup
}

func NewWebhookNotifier(logger logrus.FieldLogger) *WebhookNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebhookNotifier{
		client:      &fasthttp.Client{Name: "omnipay-webhooks"},
		logger:      logger,
		Timeout:     5 * time.Second,
		MaxAttempts: 5,
		Backoff:     time.Second,
	}
}

func (n *WebhookNotifier) NotifyOrderPaid(merchant *models.Merchant, order *models.Order) {
	if merchant == nil || merchant.WebhookURL == "" {
		return
	}
	payload := WebhookPayload{
		Event:       EventPaymentCompleted,
		OrderID:     order.ID,
		Amount:      order.Amount.String(),
		Currency:    order.Currency,
		Status:      string(order.Status),
		CompletedAt: order.PaidAt,
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := n.Deliver(ctx, merchant.WebhookURL, merchant.WebhookSecret, payload); err != nil {
			n.logger.WithFields(logrus.Fields{
				"merchant_id": merchant.ID,
				"order_id":    order.ID,
			}).WithError(err).Error("merchant webhook delivery gave up")
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (n *WebhookNotifier) Wait() {
	n.wg.Wait()
}

// Deliver posts payload to url until a 2xx answer, MaxAttempts or ctx cancellation.
func (n *WebhookNotifier) Deliver(ctx context.Context, url, secret string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshaling webhook: %w", err)
	}
	signature := SignBody(secret, body)

	backoff := n.Backoff
	var lastErr error
	for attempt := 1; attempt <= n.MaxAttempts; attempt++ {
		lastErr = n.post(url, signature, body)
		if lastErr == nil {
			n.logger.WithFields(logrus.Fields{"order_id": payload.OrderID, "attempt": attempt}).Info("merchant webhook delivered")
			return nil
		}
		n.logger.WithFields(logrus.Fields{"order_id": payload.OrderID, "attempt": attempt}).WithError(lastErr).Warn("merchant webhook attempt failed")
		if attempt == n.MaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return lastErr
}

func (n *WebhookNotifier) post(url, signature string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Signature", signature)
	req.SetBody(body)

	if err := n.client.DoTimeout(req, resp, n.Timeout); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("merchant endpoint answered %d", code)
	}
	return nil
}

// SignBody is the hex HMAC-SHA256 merchants use to check X-Signature.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
