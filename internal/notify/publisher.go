package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Publisher delivers a single event to the outbound sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// SNSAPI is the subset of the SNS client used for publishing.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes events to an SNS topic with an eventType attribute
// so subscribers can filter.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

// NewSNSPublisher constructs an SNSPublisher.
func NewSNSPublisher(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

// Publish implements Publisher.
func (p *SNSPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event.Message())
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type, err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", event.Type, event.EntityID, err)
	}
	return nil
}

// LogPublisher writes events to a logger. It is used when no topic is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "domain event", "event_type", string(event.Type), "entity_id", event.EntityID, "occurred_at", event.OccurredAt)
	return nil
}
