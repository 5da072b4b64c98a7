package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutEvents struct {
	inputs    []*eventbridge.PutEventsInput
	deadlines []bool
	out       *eventbridge.PutEventsOutput
	err       error
}

func (f *fakePutEvents) PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	_, hasDeadline := ctx.Deadline()
	f.inputs = append(f.inputs, params)
	f.deadlines = append(f.deadlines, hasDeadline)
	return f.out, f.err
}

func TestEventBridgeBusPublish(t *testing.T) {
	client := &fakePutEvents{out: &eventbridge.PutEventsOutput{
		Entries: []types.PutEventsResultEntry{{EventId: aws.String("eb-123")}},
	}}
	bus := NewEventBridgeBus(client)

	result := bus.Publish(context.Background(), testEvent())
	require.True(t, result.OK())
	assert.Equal(t, "eb-123", result.EntryID)

	require.Len(t, client.inputs, 1)
	require.Len(t, client.inputs[0].Entries, 1)
	entry := client.inputs[0].Entries[0]
	assert.Equal(t, "operations.aws.dynamodb", aws.ToString(entry.Source))
	assert.Equal(t, "INSERT", aws.ToString(entry.DetailType))
	assert.Equal(t, "orders-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, `{"Keys":{"id":{"S":"1"}}}`, aws.ToString(entry.Detail))
	assert.Equal(t, []string{"arn:aws:dynamodb:us-east-1:123:table/users/stream/1"}, entry.Resources)
	assert.Equal(t, testEvent().Time, aws.ToTime(entry.Time))
}

func TestEventBridgeBusBoundsEachCall(t *testing.T) {
	client := &fakePutEvents{out: &eventbridge.PutEventsOutput{
		Entries: []types.PutEventsResultEntry{{EventId: aws.String("eb-1")}},
	}}

	result := NewEventBridgeBus(client).Publish(context.Background(), testEvent())
	require.True(t, result.OK())
	assert.Equal(t, []bool{true}, client.deadlines)
}

func TestEventBridgeBusEntryRejected(t *testing.T) {
	client := &fakePutEvents{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []types.PutEventsResultEntry{{
			ErrorCode:    aws.String("ThrottlingException"),
			ErrorMessage: aws.String("Rate exceeded"),
		}},
	}}
	bus := NewEventBridgeBus(client)

	result := bus.Publish(context.Background(), testEvent())
	require.False(t, result.OK())
	assert.Contains(t, result.Err.Error(), "ThrottlingException")
	assert.Contains(t, result.Err.Error(), "Rate exceeded")
}

func TestEventBridgeBusFailedCountWithoutCode(t *testing.T) {
	client := &fakePutEvents{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries:          []types.PutEventsResultEntry{{}},
	}}

	result := NewEventBridgeBus(client).Publish(context.Background(), testEvent())
	assert.False(t, result.OK())
}

func TestEventBridgeBusNoEntries(t *testing.T) {
	client := &fakePutEvents{out: &eventbridge.PutEventsOutput{}}

	result := NewEventBridgeBus(client).Publish(context.Background(), testEvent())
	assert.False(t, result.OK())
}

func TestEventBridgeBusTransportError(t *testing.T) {
	transport := errors.New("dial tcp: i/o timeout")
	client := &fakePutEvents{err: transport}

	result := NewEventBridgeBus(client).Publish(context.Background(), testEvent())
	require.False(t, result.OK())
	assert.ErrorIs(t, result.Err, transport)
}
