package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maxpert/fanout/stream"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDeadLetterDelay is how long a dead letter stays invisible
	DefaultDeadLetterDelay = 10 * time.Second

	// Attribute keys attached to every dead letter
	AttrTitle  = "Title"
	AttrAuthor = "Author"
	AttrReason = "Reason"

	deadLetterTitle = "Message failed send to event bus"
)

// DeadLetterBody is the serialized form of an undeliverable record
type DeadLetterBody struct {
	EventID        string              `json:"eventID"`
	EventName      string              `json:"eventName"`
	EventSourceARN string              `json:"eventSourceARN,omitempty"`
	Change         stream.StreamRecord `json:"dynamodb"`
	Reason         string              `json:"reason"`
	Attempts       int                 `json:"attempts"`
	FailedAt       time.Time           `json:"failedAt"`
}

// DecodeDeadLetterBody parses a message body produced by DeadLetterSink
func DecodeDeadLetterBody(data []byte) (DeadLetterBody, error) {
	var body DeadLetterBody
	if err := json.Unmarshal(data, &body); err != nil {
		return DeadLetterBody{}, fmt.Errorf("failed to decode dead letter body: %w", err)
	}
	return body, nil
}

// Record reconstructs the original ChangeRecord from the body
func (b DeadLetterBody) Record() (stream.ChangeRecord, error) {
	change := b.Change
	return stream.Classify(stream.RawRecord{
		EventID:        b.EventID,
		EventName:      b.EventName,
		EventSourceARN: b.EventSourceARN,
		Change:         &change,
	})
}

// SinkResult reports the outcome of a dead-letter enqueue
type SinkResult struct {
	MessageID string
	Err       error
}

// OK returns true if the message was enqueued
func (r SinkResult) OK() bool {
	return r.Err == nil
}

// DeadLetterSinkConfig configures a DeadLetterSink
type DeadLetterSinkConfig struct {
	Queue  DeadLetterQueue
	Delay  time.Duration    // Visibility delay (default: 10s)
	Author string           // Value of the Author attribute
	Clock  func() time.Time // Defaults to time.Now
}

// DeadLetterSink records events that could not be delivered
type DeadLetterSink struct {
	queue  DeadLetterQueue
	delay  time.Duration
	author string
	clock  func() time.Time
}

// NewDeadLetterSink creates a new dead-letter sink
func NewDeadLetterSink(config DeadLetterSinkConfig) (*DeadLetterSink, error) {
	if config.Queue == nil {
		return nil, fmt.Errorf("dead letter queue is required")
	}
	if config.Delay < 0 {
		return nil, fmt.Errorf("dead letter delay must be >= 0")
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &DeadLetterSink{
		queue:  config.Queue,
		delay:  config.Delay,
		author: config.Author,
		clock:  config.Clock,
	}, nil
}

// DeadLetter serializes the record with its failure context and enqueues it.
// A failed enqueue is terminal for the record; the caller decides how to
// surface it.
func (s *DeadLetterSink) DeadLetter(ctx context.Context, rec stream.ChangeRecord, cause error, attempts int) SinkResult {
	now := s.clock()

	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}

	body, err := json.Marshal(DeadLetterBody{
		EventID:        rec.EventID,
		EventName:      rec.Label,
		EventSourceARN: rec.SourceARN,
		Change:         rec.Payload,
		Reason:         reason,
		Attempts:       attempts,
		FailedAt:       now.UTC(),
	})
	if err != nil {
		return SinkResult{Err: fmt.Errorf("failed to serialize dead letter for %s: %w", rec.EventID, err)}
	}

	msg := DeadLetterMessage{
		ID:   uuid.NewString(),
		Body: body,
		Attributes: map[string]string{
			AttrTitle:  deadLetterTitle,
			AttrAuthor: s.author,
			AttrReason: reasonTag(cause),
		},
		Delay:      s.delay,
		EnqueuedAt: now,
	}

	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return SinkResult{MessageID: msg.ID, Err: fmt.Errorf("failed to enqueue dead letter for %s: %w", rec.EventID, err)}
	}

	log.Debug().
		Str("event_id", rec.EventID).
		Str("message_id", msg.ID).
		Dur("delay", s.delay).
		Msg("Dead letter enqueued")

	return SinkResult{MessageID: msg.ID}
}

// reasonTag maps a failure cause to a short, fixed attribute value
func reasonTag(cause error) string {
	switch {
	case errors.Is(cause, ErrNoAttempts):
		return "no_attempts"
	default:
		return "publish_exhausted"
	}
}
