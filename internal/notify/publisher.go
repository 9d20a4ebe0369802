package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

const EventIssuanceCompleted = "certificate.issued"

// Event announces a completed issuance to downstream consumers
type Event struct {
	Type             string    `json:"type"`
	IssuanceID       string    `json:"issuance_id"`
	TemplateID       string    `json:"template_id"`
	ContentID        string    `json:"content_id"`
	ArtifactRef      string    `json:"artifact_ref"`
	VerificationCode string    `json:"verification_code,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops events
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error { return nil }

// SNSAPI is the part of the SNS client the publisher uses
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher posts events to an SNS topic
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

func NewSNSPublisher(client SNSAPI, topicARN string, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN, logger: logger}
}

// NewSNSPublisherFromConfig builds a publisher on the default AWS credential chain
func NewSNSPublisherFromConfig(ctx context.Context, region, topicARN string, logger *zap.Logger) (*SNSPublisher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewSNSPublisher(sns.NewFromConfig(cfg), topicARN, logger), nil
}

func (p *SNSPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Type),
			},
			"template_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.TemplateID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.logger.Debug("Event published",
		zap.String("type", event.Type),
		zap.String("issuance_id", event.IssuanceID),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}
