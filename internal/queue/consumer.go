// Package queue long-polls an SQS queue and hands each message body to a
// handler. Messages are deleted only after the handler succeeds; failures
// become visible again once the visibility timeout expires.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/example/activities-management/internal/logging"
)

const (
	defaultConcurrency = 4
	defaultWaitTime    = 20 * time.Second
	defaultBackoff     = 5 * time.Second
	maxBatchSize       = 10
)

// SQSAPI is the subset of the SQS client used by the consumer.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler processes one raw message body. A returned error leaves the
// message on the queue for redelivery.
type Handler interface {
	HandleMessage(ctx context.Context, body []byte) error
}

// Consumer receives messages from one queue.
type Consumer struct {
	client      SQSAPI
	queueURL    string
	handler     Handler
	concurrency int
	waitTime    time.Duration
	backoff     time.Duration
	logger      *slog.Logger
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithConcurrency bounds how many messages are handled at once.
func WithConcurrency(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithWaitTime sets the long-poll wait time.
func WithWaitTime(d time.Duration) Option {
	return func(c *Consumer) {
		if d >= 0 {
			c.waitTime = d
		}
	}
}

// WithErrorBackoff sets the pause after a failed receive.
func WithErrorBackoff(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithLogger overrides the consumer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer constructs a Consumer for queueURL.
func NewConsumer(client SQSAPI, queueURL string, handler Handler, opts ...Option) *Consumer {
	c := &Consumer{
		client:      client,
		queueURL:    queueURL,
		handler:     handler,
		concurrency: defaultConcurrency,
		waitTime:    defaultWaitTime,
		backoff:     defaultBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.logger.With("queue_url", c.queueURL)
	logger.InfoContext(ctx, "queue consumer started", "concurrency", c.concurrency)

	for {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "queue consumer stopped")
			return nil
		}

		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.ErrorContext(ctx, "receive failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
		}
	}
}

// Poll receives one batch and handles it. It returns the number of
// messages that were handled and deleted.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	batch := c.concurrency
	if batch > maxBatchSize {
		batch = maxBatchSize
	}

	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(c.queueURL),
		MaxNumberOfMessages:         int32(batch),
		WaitTimeSeconds:             int32(c.waitTime / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return 0, fmt.Errorf("queue: receive: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)

	results := make([]bool, len(out.Messages))
	for i, message := range out.Messages {
		group.Go(func() error {
			results[i] = c.process(groupCtx, message)
			return nil
		})
	}
	_ = group.Wait()

	handled := 0
	for _, ok := range results {
		if ok {
			handled++
		}
	}
	return handled, nil
}

func (c *Consumer) process(ctx context.Context, message types.Message) bool {
	logger := c.logger.With(
		"message_id", aws.ToString(message.MessageId),
		"receive_count", message.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)],
	)
	ctx = logging.ContextWithLogger(ctx, logger)

	if err := c.handler.HandleMessage(ctx, []byte(aws.ToString(message.Body))); err != nil {
		logger.WarnContext(ctx, "message left for redelivery", "error", err)
		return false
	}

	// Deletion survives shutdown once the handler has succeeded.
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_, err := c.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: message.ReceiptHandle,
	})
	if err != nil {
		logger.ErrorContext(ctx, "delete failed", "error", err)
		return false
	}
	return true
}
