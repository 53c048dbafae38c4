package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// sqsAPI is the subset of the SQS client the queue uses.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSConfig struct {
	Region    string
	QueueURL  string
	AccessKey string
	SecretKey string
	// Endpoint overrides the AWS endpoint, e.g. for LocalStack.
	Endpoint string
}

// SQSQueue carries payout jobs over Amazon SQS so several gateway instances can share them.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	WaitTime int32
}

func NewSQSQueue(ctx context.Context, cfg SQSConfig) (*SQSQueue, error) {
	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newSQSQueue(client, cfg.QueueURL), nil
}

func newSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, WaitTime: 20}
}

func (q *SQSQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := encode(job)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("error sending message to SQS: %w", err)
	}
	return nil
}

func (q *SQSQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     q.WaitTime,
	})
	if err != nil {
		return nil, fmt.Errorf("error receiving message from SQS: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]
	job, err := decode(aws.ToString(msg.Body))
	if err != nil {
		// A poison message would be redelivered forever; drop it.
		_, _ = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		})
		return nil, err
	}
	return &Delivery{Job: job, receipt: aws.ToString(msg.ReceiptHandle)}, nil
}

func (q *SQSQueue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil || d.receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(d.receipt),
	})
	if err != nil {
		return fmt.Errorf("error deleting message from SQS: %w", err)
	}
	return nil
}

// Nack leaves the message undeleted; SQS redelivers it once the visibility timeout lapses.
// A rewritten Job is sent as a fresh message, and the original is deleted only if that send works.
func (q *SQSQueue) Nack(ctx context.Context, d *Delivery) error {
	if d == nil || !d.rewritten {
		return nil
	}
	if err := q.Enqueue(ctx, d.Job); err != nil {
		return err
	}
	return q.Ack(ctx, d)
}
