package publisher

import (
	"context"
	"math"
	"testing"

	"github.com/maxpert/fanout/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatcherValidation(t *testing.T) {
	tests := []struct {
		name   string
		config DispatcherConfig
	}{
		{"missing bus", DispatcherConfig{DeadLetters: &mockQueue{}, Template: testTemplate()}},
		{"missing queue", DispatcherConfig{Bus: &mockBus{}, Template: testTemplate()}},
		{"missing source", DispatcherConfig{Bus: &mockBus{}, DeadLetters: &mockQueue{}, Template: EventTemplate{BusName: "b"}}},
		{"missing bus name", DispatcherConfig{Bus: &mockBus{}, DeadLetters: &mockQueue{}, Template: EventTemplate{Source: "s"}}},
		{"negative attempts", DispatcherConfig{Bus: &mockBus{}, DeadLetters: &mockQueue{}, Template: testTemplate(), Retry: RetryPolicy{MaxAttempts: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDispatcher(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestProcessBatchMixedOutcomes(t *testing.T) {
	bus := &mockBus{failTypes: map[string]bool{"REMOVE": true}}
	queue := &mockQueue{}
	d, err := newTestDispatcher(bus, queue, 2)
	require.NoError(t, err)

	modify := rawRecord("2", "MODIFY")
	modify.Change.NewImage = nil

	outcome, err := d.ProcessBatch(context.Background(), []stream.RawRecord{
		rawRecord("1", "INSERT"),
		modify,
		rawRecord("3", "REMOVE"),
	})
	require.NoError(t, err)

	assert.Equal(t, BatchOutcome{Total: 3, Succeeded: 2, DeadLettered: 1, Skipped: 0}, outcome)
	// 1 + 1 + 2 attempts
	assert.Equal(t, 4, bus.callCount())

	require.Len(t, bus.events, 2)
	assert.Equal(t, "1", bus.events[0].EventID)
	assert.Equal(t, "INSERT", bus.events[0].DetailType)
	assert.Equal(t, "2", bus.events[1].EventID)
	assert.Equal(t, "MODIFY", bus.events[1].DetailType)
	assert.NotContains(t, string(bus.events[1].Detail), "NewImage")

	require.Len(t, queue.enqueued(), 1)
	body, err := DecodeDeadLetterBody(queue.enqueued()[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "3", body.EventID)
	assert.Equal(t, "REMOVE", body.EventName)
}

func TestProcessBatchIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := &mockBus{}
	queue := &mockQueue{}
	d, err := newTestDispatcher(bus, queue, 3)
	require.NoError(t, err)

	outcome, err := d.ProcessBatch(ctx, []stream.RawRecord{
		rawRecord("1", "INSERT"),
		rawRecord("2", "REMOVE"),
	})
	require.NoError(t, err)

	assert.Equal(t, BatchOutcome{Total: 2, Succeeded: 2}, outcome)
	assert.Equal(t, 2, bus.callCount())
	assert.Empty(t, queue.enqueued())
}

func TestProcessBatchEmpty(t *testing.T) {
	bus := &mockBus{}
	queue := &mockQueue{}
	d, err := newTestDispatcher(bus, queue, 3)
	require.NoError(t, err)

	outcome, err := d.ProcessBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.Equal(t, BatchOutcome{}, outcome)
	assert.Zero(t, bus.callCount())
	assert.Empty(t, queue.enqueued())

	_, err = d.ProcessBatch(context.Background(), []stream.RawRecord{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestProcessBatchSkipsMissingPayload(t *testing.T) {
	bus := &mockBus{}
	queue := &mockQueue{}
	d, err := newTestDispatcher(bus, queue, 3)
	require.NoError(t, err)

	broken := rawRecord("2", "INSERT")
	broken.Change = nil

	outcome, err := d.ProcessBatch(context.Background(), []stream.RawRecord{
		rawRecord("1", "INSERT"),
		broken,
		rawRecord("3", "REMOVE"),
	})
	require.NoError(t, err)

	assert.Equal(t, BatchOutcome{Total: 3, Succeeded: 2, Skipped: 1}, outcome)
	assert.Equal(t, 2, bus.callCount())
	assert.Empty(t, queue.enqueued())
}

func TestProcessBatchSkipsUnrecognizedOperation(t *testing.T) {
	bus := &mockBus{}
	queue := &mockQueue{}
	d, err := newTestDispatcher(bus, queue, 3)
	require.NoError(t, err)

	outcome, err := d.ProcessBatch(context.Background(), []stream.RawRecord{
		rawRecord("1", "UPSERT"),
		rawRecord("2", "insert"),
	})
	require.NoError(t, err)

	assert.Equal(t, BatchOutcome{Total: 2, Skipped: 2}, outcome)
	assert.Zero(t, bus.callCount())
	assert.Empty(t, queue.enqueued(), "skipped records are never dead-lettered")
}

func TestProcessBatchModifyWithoutNewImageIsPublished(t *testing.T) {
	bus := &mockBus{}
	d, err := newTestDispatcher(bus, &mockQueue{}, 1)
	require.NoError(t, err)

	raw := rawRecord("1", "MODIFY")
	raw.Change.NewImage = nil

	outcome, err := d.ProcessBatch(context.Background(), []stream.RawRecord{raw})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Succeeded)
	assert.Equal(t, 1, bus.callCount())
}

func TestProcessBatchSkipsUnserializable(t *testing.T) {
	bus := &mockBus{}
	d, err := newTestDispatcher(bus, &mockQueue{}, 1)
	require.NoError(t, err)

	raw := rawRecord("1", "INSERT")
	raw.Change.NewImage = map[string]any{"score": math.Inf(1)}

	outcome, err := d.ProcessBatch(context.Background(), []stream.RawRecord{raw})
	require.NoError(t, err)
	assert.Equal(t, BatchOutcome{Total: 1, Skipped: 1}, outcome)
	assert.Zero(t, bus.callCount())
}

func TestProcessBatchFilter(t *testing.T) {
	filter, err := stream.NewGlobFilter([]string{"orders*"})
	require.NoError(t, err)

	bus := &mockBus{}
	d, err := NewDispatcher(DispatcherConfig{
		Bus:         bus,
		DeadLetters: &mockQueue{},
		Template:    testTemplate(),
		Filter:      filter,
		Retry:       RetryPolicy{MaxAttempts: 1},
		Clock:       fixedClock,
	})
	require.NoError(t, err)

	orders := rawRecord("2", "INSERT")
	orders.EventSourceARN = "arn:aws:dynamodb:us-east-1:123456789012:table/orders_v2/stream/2024"

	outcome, err := d.ProcessBatch(context.Background(), []stream.RawRecord{
		rawRecord("1", "INSERT"), // users table
		orders,
	})
	require.NoError(t, err)
	assert.Equal(t, BatchOutcome{Total: 2, Succeeded: 1, Skipped: 1}, outcome)
	require.Len(t, bus.events, 1)
	assert.Equal(t, "2", bus.events[0].EventID)
}

func TestProcessBatchDeadLetterFailureIsCounted(t *testing.T) {
	bus := &mockBus{failTypes: map[string]bool{"INSERT": true}}
	d, err := newTestDispatcher(bus, &mockQueue{failAll: true}, 1)
	require.NoError(t, err)

	outcome, err := d.ProcessBatch(context.Background(), []stream.RawRecord{
		rawRecord("1", "INSERT"),
		rawRecord("2", "MODIFY"),
	})
	require.NoError(t, err, "per-record failures never fail the batch")

	assert.Equal(t, BatchOutcome{Total: 2, Succeeded: 1, DeadLettered: 1, DeadLetterFailures: 1}, outcome)
}

func TestProcessBatchAccountingInvariant(t *testing.T) {
	bus := &mockBus{failTypes: map[string]bool{"REMOVE": true}}
	d, err := newTestDispatcher(bus, &mockQueue{}, 2)
	require.NoError(t, err)

	missing := rawRecord("4", "INSERT")
	missing.Change = nil

	records := []stream.RawRecord{
		rawRecord("1", "INSERT"),
		rawRecord("2", "REMOVE"),
		rawRecord("3", "UPSERT"),
		missing,
		rawRecord("5", "MODIFY"),
		rawRecord("6", "REMOVE"),
	}

	outcome, err := d.ProcessBatch(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, len(records), outcome.Total)
	assert.Equal(t, outcome.Total, outcome.Succeeded+outcome.DeadLettered+outcome.Skipped)
	assert.Equal(t, 2, outcome.Succeeded)
	assert.Equal(t, 2, outcome.DeadLettered)
	assert.Equal(t, 2, outcome.Skipped)
}

func TestProcessBatchZeroAttempts(t *testing.T) {
	bus := &mockBus{}
	queue := &mockQueue{}
	d, err := newTestDispatcher(bus, queue, 0)
	require.NoError(t, err)

	outcome, err := d.ProcessBatch(context.Background(), []stream.RawRecord{
		rawRecord("1", "INSERT"),
		rawRecord("2", "MODIFY"),
	})
	require.NoError(t, err)

	assert.Equal(t, BatchOutcome{Total: 2, DeadLettered: 2}, outcome)
	assert.Zero(t, bus.callCount())
	assert.Len(t, queue.enqueued(), 2)
}
