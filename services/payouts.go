package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
	"github.com/yeremiapane/omnipay-gateway/models"
	"github.com/yeremiapane/omnipay-gateway/queue"
)

// PayoutResult is what a dispatcher knows right after handing over a payout.
// Pending means the outcome arrives later through the payout callback.
type PayoutResult struct {
	ExternalRef string
	Pending     bool
}

// PayoutRejectedError is a definitive refusal; retrying will not help.
type PayoutRejectedError struct {
	Reason string
}

func (e *PayoutRejectedError) Error() string { return "payout rejected: " + e.Reason }

type PayoutDispatcher interface {
	Dispatch(ctx context.Context, settlement *models.Settlement, merchant *models.Merchant) (*PayoutResult, error)
}

// ManualPayouts leaves settlements PROCESSING for an operator or the payout callback to resolve.
type ManualPayouts struct {
	logger logrus.FieldLogger
}

func NewManualPayouts(logger logrus.FieldLogger) *ManualPayouts {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ManualPayouts{logger: logger}
}

func (m *ManualPayouts) Dispatch(_ context.Context, settlement *models.Settlement, merchant *models.Merchant) (*PayoutResult, error) {
	m.logger.WithFields(logrus.Fields{
		"settlement_id": settlement.ID,
		"merchant_id":   merchant.ID,
		"amount":        settlement.Amount.String(),
		"currency":      settlement.Currency,
	}).Info("payout awaiting manual transfer")
	return &PayoutResult{Pending: true}, nil
}

// HTTPPayouts hands payouts to a payout provider API.
type HTTPPayouts struct {
	client  *fasthttp.Client
	baseURL string
	apiKey  string
	Timeout time.Duration
}

func NewHTTPPayouts(baseURL, apiKey string) *HTTPPayouts {
	return &HTTPPayouts{
		client:  &fasthttp.Client{Name: "omnipay-payouts"},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		Timeout: 15 * time.Second,
	}
}

type payoutRequest struct {
	ReferenceID   string `json:"reference_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	UPIHandle     string `json:"upi_id,omitempty"`
}

type payoutResponse struct {
	Status string `json:"status"`
	UTR    string `json:"utr"`
	Reason string `json:"reason"`
}

func (h *HTTPPayouts) Dispatch(_ context.Context, settlement *models.Settlement, merchant *models.Merchant) (*PayoutResult, error) {
	if merchant.AccountNumber == "" && merchant.UPIHandle == "" {
		return nil, &PayoutRejectedError{Reason: "merchant has no payout destination"}
	}
	body, err := json.Marshal(payoutRequest{
		ReferenceID:   settlement.ID,
		Amount:        settlement.Amount.StringFixed(2),
		Currency:      settlement.Currency,
		AccountName:   merchant.AccountName,
		AccountNumber: merchant.AccountNumber,
		IFSC:          merchant.IFSC,
		UPIHandle:     merchant.UPIHandle,
	})
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.baseURL + "/payouts")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.SetBody(body)

	if err := h.client.DoTimeout(req, resp, h.Timeout); err != nil {
		return nil, fmt.Errorf("error calling payout provider: %w", err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("payout provider answered %d", resp.StatusCode())
	}

	var out payoutResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("error decoding payout response: %w", err)
	}
	switch strings.ToUpper(out.Status) {
	case "SUCCESS", "COMPLETED", "PROCESSED":
		return &PayoutResult{ExternalRef: out.UTR}, nil
	case "PENDING", "ACCEPTED", "QUEUED":
		return &PayoutResult{Pending: true}, nil
	}
	return nil, &PayoutRejectedError{Reason: firstNonEmpty(out.Reason, fmt.Sprintf("status %q (http %d)", out.Status, resp.StatusCode()))}
}

// PayoutWorker drains the payout queue: it dispatches payouts and retries compensation until it commits.
type PayoutWorker struct {
	orchestrator *Orchestrator
	dispatcher   PayoutDispatcher
	logger       logrus.FieldLogger
	MaxAttempts  int
	RetryDelay   time.Duration
	StopChan     chan struct{}
	done         chan struct{}

	// EnqueueTimeout bounds a requeue; the worker is the queue's only consumer.
	EnqueueTimeout time.Duration
}

func NewPayoutWorker(o *Orchestrator, dispatcher PayoutDispatcher, logger logrus.FieldLogger) *PayoutWorker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PayoutWorker{
		orchestrator:   o,
		dispatcher:     dispatcher,
		logger:         logger,
		MaxAttempts:    5,
		RetryDelay:     5 * time.Second,
		EnqueueTimeout: 5 * time.Second,
		StopChan:       make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (w *PayoutWorker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-w.StopChan
		cancel()
	}()
	go func() {
		defer close(w.done)
		for ctx.Err() == nil {
			if _, err := w.ProcessNext(ctx); err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Error("payout worker error")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
			}
		}
	}()
	w.logger.Info("Payout worker started")
}

func (w *PayoutWorker) Stop() {
	close(w.StopChan)
	<-w.done
}

// ProcessNext handles one job. It reports false when the queue had nothing to offer.
func (w *PayoutWorker) ProcessNext(ctx context.Context) (bool, error) {
	q := w.orchestrator.queue
	d, err := q.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	// Handlers report false when the job could not be requeued; it is nacked instead of acked.
	handled := true
	switch d.Job.Kind {
	case queue.JobDispatchPayout:
		handled = w.dispatch(ctx, d)
	case queue.JobCompensate:
		handled = w.compensate(ctx, d)
	default:
		w.logger.WithField("kind", d.Job.Kind).Warn("dropping unknown payout job")
	}
	if !handled {
		return true, q.Nack(ctx, d)
	}
	return true, q.Ack(ctx, d)
}

func (w *PayoutWorker) dispatch(ctx context.Context, d *queue.Delivery) bool {
	o := w.orchestrator
	job := d.Job
	fields := logrus.Fields{"settlement_id": job.SettlementID, "attempt": job.Attempt}

	settlement, err := o.store.GetSettlement(ctx, job.SettlementID)
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("payout job for unknown settlement")
		return true
	}
	if settlement.Status != models.SettlementProcessing {
		return true
	}
	merchant, err := o.store.GetMerchant(ctx, settlement.MerchantID)
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Error("error loading merchant for payout")
		return w.retry(ctx, job)
	}
	if err := o.store.RecordSettlementAttempt(ctx, settlement.ID); err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("error recording payout attempt")
	}

	result, err := w.dispatcher.Dispatch(ctx, settlement, merchant)
	var rejected *PayoutRejectedError
	switch {
	case errors.As(err, &rejected):
		return w.fail(ctx, d, settlement.ID, rejected.Reason)
	case err != nil && job.Attempt+1 >= w.MaxAttempts:
		return w.fail(ctx, d, settlement.ID, truncate("payout dispatch gave up: "+err.Error(), 200))
	case err != nil:
		w.logger.WithFields(fields).WithError(err).Warn("payout dispatch failed, retrying")
		return w.retry(ctx, job)
	case result.ExternalRef != "":
		if _, err := o.CompleteSettlement(ctx, settlement.ID, result.ExternalRef); err != nil {
			w.logger.WithFields(fields).WithError(err).Error("error completing settlement")
		}
	default:
		w.logger.WithFields(fields).Info("payout handed over, awaiting callback")
	}
	return true
}

// fail turns the delivery into a compensation job when FailSettlement could not queue one itself.
func (w *PayoutWorker) fail(ctx context.Context, d *queue.Delivery, id, reason string) bool {
	_, err := w.orchestrator.FailSettlement(ctx, id, reason)
	if err == nil {
		return true
	}
	w.logger.WithField("settlement_id", id).WithError(err).Error("error failing settlement")
	if errors.Is(err, errCompensationNotQueued) {
		d.Replace(queue.Job{Kind: queue.JobCompensate, SettlementID: id, Reason: reason})
		return false
	}
	return true
}

func (w *PayoutWorker) compensate(ctx context.Context, d *queue.Delivery) bool {
	job := d.Job
	_, err := w.orchestrator.compensate(ctx, job.SettlementID, job.Reason)
	if err == nil || apperrors.Is(err, apperrors.KindInvalidState) || apperrors.Is(err, apperrors.KindNotFound) {
		return true
	}
	w.logger.WithFields(logrus.Fields{"settlement_id": job.SettlementID, "attempt": job.Attempt}).WithError(err).Error("compensation failed, retrying")
	return w.retry(ctx, job)
}

// retry puts the job back after RetryDelay. Compensation jobs are retried without limit.
// It reports false when the queue did not take the job within EnqueueTimeout.
func (w *PayoutWorker) retry(ctx context.Context, job queue.Job) bool {
	job.Attempt++
	select {
	case <-time.After(w.RetryDelay):
	case <-ctx.Done():
	}
	enqueueCtx, cancel := context.WithTimeout(context.Background(), w.EnqueueTimeout)
	defer cancel()
	if err := w.orchestrator.queue.Enqueue(enqueueCtx, job); err != nil {
		w.logger.WithField("settlement_id", job.SettlementID).WithError(err).Error("error requeueing payout job")
		return false
	}
	return true
}
