package publisher

import (
	"context"
	"fmt"

	"github.com/maxpert/fanout/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultReplayLimit caps messages drained per Replay call
const DefaultReplayLimit = 100

// ReplayOutcome summarizes one replay pass
type ReplayOutcome struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Requeued  int `json:"requeued"` // Failed again and dead-lettered anew
	Failed    int `json:"failed"`   // Left in the queue
	Invalid   int `json:"invalid"`  // Undecodable, logged and dropped
}

// Replayer drains due dead letters back through the retry controller
type Replayer struct {
	queue      ReplayableQueue
	dispatcher *Dispatcher
}

// NewReplayer creates a replayer over a queue that supports draining
func NewReplayer(queue ReplayableQueue, dispatcher *Dispatcher) (*Replayer, error) {
	if queue == nil {
		return nil, fmt.Errorf("replayable queue is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &Replayer{queue: queue, dispatcher: dispatcher}, nil
}

// Replay reads up to limit visible dead letters and dispatches each again.
// A message is acknowledged once its record was delivered or re-enqueued.
func (r *Replayer) Replay(ctx context.Context, limit int) (ReplayOutcome, error) {
	if limit <= 0 {
		limit = DefaultReplayLimit
	}

	msgs, err := r.queue.Due(ctx, r.dispatcher.clock(), limit)
	if err != nil {
		return ReplayOutcome{}, fmt.Errorf("failed to read dead letters: %w", err)
	}

	outcome := ReplayOutcome{Total: len(msgs)}
	for _, msg := range msgs {
		result := r.replayOne(ctx, msg)
		switch result {
		case "delivered":
			outcome.Delivered++
		case "requeued":
			outcome.Requeued++
		case "invalid":
			outcome.Invalid++
		default:
			outcome.Failed++
		}
		telemetry.ReplayedTotal.With(result).Inc()

		if result == "failed" {
			continue
		}
		if err := r.queue.Ack(ctx, msg); err != nil {
			// Message reappears on the next pass; at-least-once still holds
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to acknowledge replayed dead letter")
		}
	}

	log.Info().
		Int("total", outcome.Total).
		Int("delivered", outcome.Delivered).
		Int("requeued", outcome.Requeued).
		Int("failed", outcome.Failed).
		Int("invalid", outcome.Invalid).
		Msg("Dead letter replay finished")

	return outcome, nil
}

func (r *Replayer) replayOne(ctx context.Context, msg DeadLetterMessage) string {
	body, err := DecodeDeadLetterBody(msg.Body)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Bytes("body", msg.Body).Msg("Dropping undecodable dead letter")
		return "invalid"
	}

	rec, err := body.Record()
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Bytes("body", msg.Body).Msg("Dropping unclassifiable dead letter")
		return "invalid"
	}

	event, err := NewDispatchEvent(rec, r.dispatcher.template, r.dispatcher.clock())
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping unserializable dead letter")
		return "invalid"
	}

	outcome, err := r.dispatcher.retry.Dispatch(ctx, rec, event)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Replay failed, dead letter kept")
		return "failed"
	}
	if outcome == Delivered {
		return "delivered"
	}
	return "requeued"
}
