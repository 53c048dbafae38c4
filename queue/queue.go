package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type JobKind string

const (
	// JobDispatchPayout sends a PROCESSING settlement to the payout provider.
	JobDispatchPayout JobKind = "dispatch_payout"
	// JobCompensate fails a settlement and credits its amount back.
	JobCompensate JobKind = "compensate_settlement"
)

type Job struct {
	Kind         JobKind `json:"kind"`
	SettlementID string  `json:"settlement_id"`
	Reason       string  `json:"reason,omitempty"`
	Attempt      int     `json:"attempt"`
}

// Delivery is a received job plus whatever the backend needs to acknowledge it.
type Delivery struct {
	Job       Job
	receipt   string
	rewritten bool
}

// Replace swaps the job that a later Nack hands back.
func (d *Delivery) Replace(job Job) {
	d.Job = job
	d.rewritten = true
}

// Queue is an at-least-once job queue. A delivery that is not acked may be redelivered.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done. It may return (nil, nil)
	// when a poll window passed without messages.
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Nack hands a delivery back for another attempt with its current Job.
	Nack(ctx context.Context, d *Delivery) error
}

func encode(job Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("error marshaling job: %w", err)
	}
	return string(b), nil
}

func decode(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("error unmarshaling job: %w", err)
	}
	return job, nil
}
