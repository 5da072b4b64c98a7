package publisher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/fanout/stream"
)

var errBusDown = errors.New("bus rejected entry")

// mockBus fails the first failFirst calls, or every call whose detail type is in failTypes.
// Like a network bus it fails once ctx is done.
type mockBus struct {
	mu        sync.Mutex
	events    []DispatchEvent
	calls     int
	failFirst int
	failTypes map[string]bool
	onPublish func()
}

func (m *mockBus) Publish(ctx context.Context, event DispatchEvent) PublishResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.onPublish != nil {
		m.onPublish()
	}
	if err := ctx.Err(); err != nil {
		return PublishResult{Err: err}
	}
	if m.failFirst > 0 {
		m.failFirst--
		return PublishResult{Err: errBusDown}
	}
	if m.failTypes[event.DetailType] {
		return PublishResult{Err: errBusDown}
	}
	m.events = append(m.events, event)
	return PublishResult{EntryID: "entry-" + event.EventID}
}

func (m *mockBus) Close() error { return nil }

func (m *mockBus) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockQueue is an in-memory ReplayableQueue
type mockQueue struct {
	mu       sync.Mutex
	messages []DeadLetterMessage
	failAll  bool
	acked    int
}

func (m *mockQueue) Enqueue(_ context.Context, msg DeadLetterMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("queue unavailable")
	}
	msg.Receipt = msg.ID
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockQueue) Due(_ context.Context, now time.Time, limit int) ([]DeadLetterMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []DeadLetterMessage
	for _, msg := range m.messages {
		if !msg.VisibleAt().After(now) {
			due = append(due, msg)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].VisibleAt().Before(due[j].VisibleAt()) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *mockQueue) Ack(_ context.Context, msg DeadLetterMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, queued := range m.messages {
		if queued.Receipt == msg.Receipt {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			break
		}
	}
	m.acked++
	return nil
}

func (m *mockQueue) Depth(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages), nil
}

func (m *mockQueue) Close() error { return nil }

func (m *mockQueue) enqueued() []DeadLetterMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]DeadLetterMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

const testSourceARN = "arn:aws:dynamodb:us-east-1:123456789012:table/users/stream/2024-05-01T00:00:00.000"

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func rawRecord(id, name string) stream.RawRecord {
	return stream.RawRecord{
		EventID:        id,
		EventName:      name,
		EventSource:    "aws:dynamodb",
		EventSourceARN: testSourceARN,
		AWSRegion:      "us-east-1",
		Change: &stream.StreamRecord{
			Keys:           map[string]any{"id": map[string]any{"S": id}},
			NewImage:       map[string]any{"id": map[string]any{"S": id}, "name": map[string]any{"S": "alice"}},
			SequenceNumber: "100" + id,
			SizeBytes:      42,
			StreamViewType: "NEW_AND_OLD_IMAGES",
		},
	}
}

func testTemplate() EventTemplate {
	return EventTemplate{
		Source:    "operations.aws.dynamodb",
		Resources: []string{testSourceARN},
		BusName:   "orders-bus",
	}
}

func newTestDispatcher(bus Bus, queue DeadLetterQueue, maxAttempts int) (*Dispatcher, error) {
	return NewDispatcher(DispatcherConfig{
		Bus:             bus,
		DeadLetters:     queue,
		Template:        testTemplate(),
		Retry:           RetryPolicy{MaxAttempts: maxAttempts},
		DeadLetterDelay: DefaultDeadLetterDelay,
		Author:          "fanout",
		Clock:           fixedClock,
	})
}
