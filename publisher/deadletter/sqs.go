package deadletter

import (
	"context"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/maxpert/fanout/awsenv"
	"github.com/maxpert/fanout/cfg"
	"github.com/maxpert/fanout/publisher"
)

// SQS caps DelaySeconds at 15 minutes
const maxSQSDelaySeconds = 900

func init() {
	publisher.RegisterQueue("sqs", func(config cfg.DeadLetterConfiguration) (publisher.DeadLetterQueue, error) {
		awsCfg, err := awsenv.LoadConfig(config.Region)
		if err != nil {
			return nil, err
		}
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			o.BaseEndpoint = awsenv.Endpoint(config.Endpoint)
		})
		return NewSQSQueue(client, config.URL)
	})
}

// SendMessageAPI is the SQS call the queue depends on
type SendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue enqueues dead letters onto an SQS queue
type SQSQueue struct {
	client   SendMessageAPI
	queueURL string
}

// NewSQSQueue creates a queue over an SQS client
func NewSQSQueue(client SendMessageAPI, queueURL string) (*SQSQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("sqs client is required")
	}
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}
	return &SQSQueue{client: client, queueURL: queueURL}, nil
}

// Enqueue sends one message with its delay and string attributes
func (q *SQSQueue) Enqueue(ctx context.Context, msg publisher.DeadLetterMessage) error {
	attrs := make(map[string]types.MessageAttributeValue, len(msg.Attributes))
	for k, v := range msg.Attributes {
		// SQS rejects empty attribute values
		if v == "" {
			continue
		}
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.queueURL),
		MessageBody:       aws.String(string(msg.Body)),
		DelaySeconds:      delaySeconds(msg),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sqs send message failed: %w", err)
	}
	return nil
}

// Close is a no-op; the AWS client holds no resources to release
func (q *SQSQueue) Close() error {
	return nil
}

func delaySeconds(msg publisher.DeadLetterMessage) int32 {
	secs := math.Ceil(msg.Delay.Seconds())
	if secs < 0 {
		return 0
	}
	if secs > maxSQSDelaySeconds {
		return maxSQSDelaySeconds
	}
	return int32(secs)
}
