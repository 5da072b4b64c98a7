package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/maxpert/fanout/awsenv"
	"github.com/maxpert/fanout/cfg"
	"github.com/maxpert/fanout/publisher"
)

const eventBridgePublishTimeout = 10 * time.Second

func init() {
	publisher.RegisterBus("eventbridge", func(config cfg.BusConfiguration) (publisher.Bus, error) {
		awsCfg, err := awsenv.LoadConfig(config.Region)
		if err != nil {
			return nil, err
		}
		client := eventbridge.NewFromConfig(awsCfg, func(o *eventbridge.Options) {
			o.BaseEndpoint = awsenv.Endpoint(config.Endpoint)
		})
		return NewEventBridgeBus(client), nil
	})
}

// PutEventsAPI is the EventBridge call the bus depends on
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeBus publishes events with PutEvents, one entry per call
type EventBridgeBus struct {
	client PutEventsAPI
}

// NewEventBridgeBus creates a bus over an EventBridge client
func NewEventBridgeBus(client PutEventsAPI) *EventBridgeBus {
	return &EventBridgeBus{client: client}
}

// Publish submits the event as a single PutEvents entry
func (b *EventBridgeBus) Publish(ctx context.Context, event publisher.DispatchEvent) publisher.PublishResult {
	ctx, cancel := context.WithTimeout(ctx, eventBridgePublishTimeout)
	defer cancel()

	out, err := b.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				Time:         aws.Time(event.Time),
				Source:       aws.String(event.Source),
				Resources:    event.Resources,
				DetailType:   aws.String(event.DetailType),
				Detail:       aws.String(string(event.Detail)),
				EventBusName: aws.String(event.BusName),
			},
		},
	})
	if err != nil {
		return publisher.PublishResult{Err: fmt.Errorf("put events failed: %w", err)}
	}

	return entryResult(out)
}

// entryResult inspects the per-entry error indicator of a PutEvents response.
// PutEvents returns success at the call level even when the entry was rejected.
func entryResult(out *eventbridge.PutEventsOutput) publisher.PublishResult {
	if out == nil || len(out.Entries) == 0 {
		return publisher.PublishResult{Err: fmt.Errorf("put events returned no entry result")}
	}

	entry := out.Entries[0]
	if entry.ErrorCode != nil || entry.ErrorMessage != nil {
		return publisher.PublishResult{
			Err: fmt.Errorf("entry rejected: %s: %s", aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage)),
		}
	}
	if out.FailedEntryCount > 0 {
		return publisher.PublishResult{Err: fmt.Errorf("put events reported %d failed entries", out.FailedEntryCount)}
	}

	return publisher.PublishResult{EntryID: aws.ToString(entry.EventId)}
}

// Close is a no-op; the AWS client holds no resources to release
func (b *EventBridgeBus) Close() error {
	return nil
}
