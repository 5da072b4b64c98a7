package publisher

import (
	"context"
	"time"
)

// DispatchEvent is the normalized unit sent to the event bus
type DispatchEvent struct {
	EventID    string    // Upstream record id, used as message key / dedup id
	Source     string    // Fixed origin identifier
	Resources  []string  // Origin stream identifiers
	DetailType string    // INSERT, MODIFY or REMOVE
	Detail     []byte    // JSON serialization of the record payload
	Time       time.Time // Submission timestamp
	BusName    string    // Destination bus
}

// PublishResult reports the outcome of a single publish attempt
type PublishResult struct {
	EntryID string // Bus-assigned id, when the bus reports one
	Err     error  // Non-nil when the bus reported an error for the entry
}

// OK returns true if the entry was accepted by the bus
func (r PublishResult) OK() bool {
	return r.Err == nil
}

// Bus represents a destination event bus (e.g., EventBridge, Kafka, NATS)
type Bus interface {
	// Publish submits exactly one event. It never retries and folds every
	// failure, transport included, into the returned result.
	Publish(ctx context.Context, event DispatchEvent) PublishResult
	// Close releases any resources held by the bus
	Close() error
}

// DeadLetterMessage is a record that could not be delivered
type DeadLetterMessage struct {
	ID         string            `msgpack:"id"`
	Body       []byte            `msgpack:"body"`  // JSON DeadLetterBody
	Attributes map[string]string `msgpack:"attrs"` // Fixed descriptive tags
	Delay      time.Duration     `msgpack:"delay"` // Visibility delay
	EnqueuedAt time.Time         `msgpack:"enq"`

	// Receipt identifies a message returned by ReplayableQueue.Due for Ack
	Receipt string `msgpack:"-"`
}

// VisibleAt returns when the message becomes visible to a reprocessor
func (m DeadLetterMessage) VisibleAt() time.Time {
	return m.EnqueuedAt.Add(m.Delay)
}

// DeadLetterQueue is the transport the dead-letter sink enqueues onto
type DeadLetterQueue interface {
	// Enqueue submits one message
	Enqueue(ctx context.Context, msg DeadLetterMessage) error
	// Close releases any resources held by the queue
	Close() error
}

// ReplayableQueue is a dead-letter queue the dispatcher can drain itself
type ReplayableQueue interface {
	DeadLetterQueue
	// Due returns up to limit messages whose delay elapsed at now, oldest first
	Due(ctx context.Context, now time.Time, limit int) ([]DeadLetterMessage, error)
	// Ack removes a message returned by Due
	Ack(ctx context.Context, msg DeadLetterMessage) error
	// Depth returns the number of queued messages, visible or not
	Depth(ctx context.Context) (int, error)
}
