package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{Kind: JobDispatchPayout, SettlementID: "st-1"}))
	require.NoError(t, q.Enqueue(ctx, Job{Kind: JobCompensate, SettlementID: "st-2", Reason: "bank rejected"}))
	assert.Equal(t, 2, q.Len())

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "st-1", d.Job.SettlementID)
	require.NoError(t, q.Ack(ctx, d))

	d, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, JobCompensate, d.Job.Kind)

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueNackOnFullQueue(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{Kind: JobDispatchPayout, SettlementID: "st-1"}))

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(timeout, Job{Kind: JobDispatchPayout, SettlementID: "st-2"}), context.DeadlineExceeded)

	require.NoError(t, q.Nack(ctx, &Delivery{Job: Job{Kind: JobCompensate, SettlementID: "st-2"}}))
	assert.Equal(t, 2, q.Len())

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "st-2", d.Job.SettlementID)
	d, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "st-1", d.Job.SettlementID)
}

type fakeSQS struct {
	mu       sync.Mutex
	messages []types.Message
	deleted  []string
	sendErr  error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	handle := "rh-" + aws.ToString(in.MessageBody)[0:4]
	f.messages = append(f.messages, types.Message{Body: in.MessageBody, ReceiptHandle: aws.String(handle)})
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{msg}}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueRoundTrip(t *testing.T) {
	fake := &fakeSQS{}
	q := newSQSQueue(fake, "https://sqs.ap-south-1.amazonaws.com/123/payouts")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{Kind: JobDispatchPayout, SettlementID: "st-9", Attempt: 2}))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, Job{Kind: JobDispatchPayout, SettlementID: "st-9", Attempt: 2}, d.Job)

	require.NoError(t, q.Ack(ctx, d))
	assert.Len(t, fake.deleted, 1)

	d, err = q.Dequeue(ctx)
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestSQSQueueDropsPoisonMessage(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{{Body: aws.String("not json"), ReceiptHandle: aws.String("rh-bad")}}}
	q := newSQSQueue(fake, "q")

	_, err := q.Dequeue(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"rh-bad"}, fake.deleted)
}

func TestSQSQueueSendError(t *testing.T) {
	q := newSQSQueue(&fakeSQS{sendErr: errors.New("throttled")}, "q")
	assert.Error(t, q.Enqueue(context.Background(), Job{Kind: JobCompensate, SettlementID: "st-1"}))
}

func TestSQSQueueNack(t *testing.T) {
	fake := &fakeSQS{}
	q := newSQSQueue(fake, "q")
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{Kind: JobDispatchPayout, SettlementID: "st-4"}))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d))
	assert.Empty(t, fake.deleted, "a plain nack leaves the message for redelivery")

	d.Replace(Job{Kind: JobCompensate, SettlementID: "st-4", Reason: "rejected"})
	require.NoError(t, q.Nack(ctx, d))
	assert.Len(t, fake.deleted, 1)

	next, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, JobCompensate, next.Job.Kind)
}
