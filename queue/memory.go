package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process queue backed by a buffered channel. Nacked jobs
// go to an unbounded side list that Dequeue drains first.
type MemoryQueue struct {
	jobs      chan Job
	mu        sync.Mutex
	redeliver []Job
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{jobs: make(chan Job, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	if job, ok := q.popRedelivery(); ok {
		return &Delivery{Job: job}, nil
	}
	select {
	case job := <-q.jobs:
		return &Delivery{Job: job}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) popRedelivery() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.redeliver) == 0 {
		return Job{}, false
	}
	job := q.redeliver[0]
	q.redeliver = q.redeliver[1:]
	return job, true
}

func (q *MemoryQueue) Ack(context.Context, *Delivery) error { return nil }

// Nack never blocks, so a consumer can hand a job back to a full queue.
func (q *MemoryQueue) Nack(_ context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.redeliver = append(q.redeliver, d.Job)
	return nil
}

// Len reports how many jobs are waiting.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) + len(q.redeliver)
}
