package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/maxpert/fanout/publisher"
)

// ErrMockPublish is returned by MockBus for scripted failures
var ErrMockPublish = errors.New("mock publish failure")

// MockBus is a mock implementation of Bus for testing
type MockBus struct {
	Events    []publisher.DispatchEvent
	FailFirst int   // Number of calls to fail before succeeding
	FailAll   bool  // Fail every call
	Calls     int   // Publish invocations, successful or not
	Err       error // Error for scripted failures (default: ErrMockPublish)
	mu        sync.Mutex
}

// Publish records the event or returns a scripted failure
func (m *MockBus) Publish(_ context.Context, event publisher.DispatchEvent) publisher.PublishResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.FailAll || m.FailFirst > 0 {
		if m.FailFirst > 0 {
			m.FailFirst--
		}
		err := m.Err
		if err == nil {
			err = ErrMockPublish
		}
		return publisher.PublishResult{Err: err}
	}

	m.Events = append(m.Events, event)
	return publisher.PublishResult{EntryID: event.EventID}
}

// Close is a no-op for MockBus
func (m *MockBus) Close() error {
	return nil
}

// Published returns a copy of the accepted events
func (m *MockBus) Published() []publisher.DispatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publisher.DispatchEvent, len(m.Events))
	copy(result, m.Events)
	return result
}

// CallCount returns the number of Publish invocations
func (m *MockBus) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// Reset clears all recorded events and calls
func (m *MockBus) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = nil
	m.Calls = 0
}
