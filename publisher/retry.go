package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/fanout/stream"
	"github.com/maxpert/fanout/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Default cap for the backoff delay when a delay is configured
	DefaultRetryMax = 30 * time.Second
)

// ErrNoAttempts is the dead-letter cause when MaxAttempts is zero
var ErrNoAttempts = errors.New("publishing disabled: max attempts is 0")

// Outcome is the terminal state of one record in the retry controller
type Outcome uint8

const (
	Delivered Outcome = iota + 1
	DeadLettered
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// DeadLetterError reports a record that exhausted its attempts and could
// not be enqueued on the dead-letter queue either. The record is lost.
type DeadLetterError struct {
	EventID  string
	Attempts int
	Cause    error // Last publish failure
	Err      error // Enqueue failure
}

func (e *DeadLetterError) Error() string {
	return fmt.Sprintf("record %s lost after %d attempts (%v): %v", e.EventID, e.Attempts, e.Cause, e.Err)
}

func (e *DeadLetterError) Unwrap() error {
	return e.Err
}

// RetryPolicy bounds publish attempts for one record
type RetryPolicy struct {
	MaxAttempts     int           // 0 = dead-letter without publishing
	InitialBackoff  time.Duration // 0 = retry immediately
	MaxBackoff      time.Duration // Backoff cap
	BackoffMultiple float64       // Backoff multiplier
}

// RetryController publishes one record with a bounded number of attempts and
// hands it to the dead-letter sink on exhaustion
type RetryController struct {
	bus    Bus
	sink   *DeadLetterSink
	policy RetryPolicy
}

// NewRetryController creates a new retry controller
func NewRetryController(bus Bus, sink *DeadLetterSink, policy RetryPolicy) (*RetryController, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("dead letter sink is required")
	}
	if policy.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must be >= 0, got %d", policy.MaxAttempts)
	}
	if policy.InitialBackoff < 0 {
		return nil, fmt.Errorf("initial backoff must be >= 0")
	}

	if policy.InitialBackoff > 0 {
		if policy.MaxBackoff <= 0 {
			policy.MaxBackoff = DefaultRetryMax
		}
		if policy.BackoffMultiple <= 0 {
			policy.BackoffMultiple = DefaultRetryMultiplier
		}
	}

	return &RetryController{bus: bus, sink: sink, policy: policy}, nil
}

// Dispatch publishes the event, retrying until delivered or MaxAttempts is
// reached, then dead-letters the record. Attempts are strictly sequential.
// Caller cancellation is ignored; each bus bounds its own calls.
// A non-nil error is always a *DeadLetterError.
func (rc *RetryController) Dispatch(ctx context.Context, rec stream.ChangeRecord, event DispatchEvent) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)

	var lastErr error
	attempts := 0
	delay := rc.policy.InitialBackoff

	for attempts < rc.policy.MaxAttempts {
		if attempts > 0 && delay > 0 {
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * rc.policy.BackoffMultiple)
			if delay > rc.policy.MaxBackoff {
				delay = rc.policy.MaxBackoff
			}
		}

		result := rc.bus.Publish(ctx, event)
		attempts++

		if result.OK() {
			telemetry.PublishAttemptsTotal.With("success").Inc()
			log.Debug().
				Str("event_id", event.EventID).
				Str("entry_id", result.EntryID).
				Int("attempt", attempts).
				Msg("Event published")
			return Delivered, nil
		}

		telemetry.PublishAttemptsTotal.With("failure").Inc()
		lastErr = result.Err
		log.Warn().
			Err(result.Err).
			Str("event_id", event.EventID).
			Str("detail_type", event.DetailType).
			Int("attempt", attempts).
			Int("max_attempts", rc.policy.MaxAttempts).
			Msg("Failed to publish event")
	}

	if lastErr == nil {
		lastErr = ErrNoAttempts
	}

	telemetry.DeadLettersTotal.Inc()

	result := rc.sink.DeadLetter(ctx, rec, lastErr, attempts)
	if !result.OK() {
		return DeadLettered, &DeadLetterError{
			EventID:  rec.EventID,
			Attempts: attempts,
			Cause:    lastErr,
			Err:      result.Err,
		}
	}

	log.Info().
		Str("event_id", rec.EventID).
		Str("message_id", result.MessageID).
		Int("attempts", attempts).
		Msg("Record dead-lettered")

	return DeadLettered, nil
}
