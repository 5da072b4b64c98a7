package deadletter

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maxpert/fanout/publisher"
)

// ErrMockEnqueue is returned by MockQueue when FailEnqueue is set
var ErrMockEnqueue = errors.New("mock enqueue failure")

// MockQueue is an in-memory ReplayableQueue for testing
type MockQueue struct {
	Messages    []publisher.DeadLetterMessage
	FailEnqueue bool
	Acked       []string
	mu          sync.Mutex
}

// Enqueue records the message or returns ErrMockEnqueue
func (m *MockQueue) Enqueue(_ context.Context, msg publisher.DeadLetterMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailEnqueue {
		return ErrMockEnqueue
	}
	msg.Receipt = msg.ID
	m.Messages = append(m.Messages, msg)
	return nil
}

// Due returns visible messages ordered by visibility time
func (m *MockQueue) Due(_ context.Context, now time.Time, limit int) ([]publisher.DeadLetterMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []publisher.DeadLetterMessage
	for _, msg := range m.Messages {
		if !msg.VisibleAt().After(now) {
			due = append(due, msg)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].VisibleAt().Before(due[j].VisibleAt())
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Ack removes the message from the queue
func (m *MockQueue) Ack(_ context.Context, msg publisher.DeadLetterMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, queued := range m.Messages {
		if queued.Receipt == msg.Receipt {
			m.Messages = append(m.Messages[:i], m.Messages[i+1:]...)
			break
		}
	}
	m.Acked = append(m.Acked, msg.Receipt)
	return nil
}

// Depth returns the number of queued messages
func (m *MockQueue) Depth(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages), nil
}

// Close is a no-op for MockQueue
func (m *MockQueue) Close() error {
	return nil
}

// Enqueued returns a copy of the queued messages
func (m *MockQueue) Enqueued() []publisher.DeadLetterMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publisher.DeadLetterMessage, len(m.Messages))
	copy(result, m.Messages)
	return result
}
