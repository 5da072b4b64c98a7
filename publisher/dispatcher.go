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

// ErrEmptyBatch rejects an invocation with no records
var ErrEmptyBatch = errors.New("no records are available to operate")

// BatchOutcome summarizes one batch.
// Succeeded + DeadLettered + Skipped == Total.
type BatchOutcome struct {
	Total        int `json:"total"`
	Succeeded    int `json:"succeeded"`
	DeadLettered int `json:"deadLettered"`
	Skipped      int `json:"skipped"`

	// DeadLetterFailures counts the DeadLettered records whose enqueue failed
	DeadLetterFailures int `json:"deadLetterFailures"`
}

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	Bus             Bus
	DeadLetters     DeadLetterQueue
	Template        EventTemplate
	Filter          stream.Filter // Optional source table filter
	Retry           RetryPolicy
	DeadLetterDelay time.Duration
	Author          string           // Author attribute on dead letters
	Clock           func() time.Time // Defaults to time.Now
}

// Dispatcher runs each record of a batch through classification, the retry
// controller and the dead-letter sink
type Dispatcher struct {
	retry    *RetryController
	template EventTemplate
	filter   stream.Filter
	clock    func() time.Time
}

// NewDispatcher creates a new batch dispatcher
func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	if config.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if config.DeadLetters == nil {
		return nil, fmt.Errorf("dead letter queue is required")
	}
	if config.Template.Source == "" {
		return nil, fmt.Errorf("event source is required")
	}
	if config.Template.BusName == "" {
		return nil, fmt.Errorf("bus name is required")
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	sink, err := NewDeadLetterSink(DeadLetterSinkConfig{
		Queue:  config.DeadLetters,
		Delay:  config.DeadLetterDelay,
		Author: config.Author,
		Clock:  config.Clock,
	})
	if err != nil {
		return nil, err
	}

	retry, err := NewRetryController(config.Bus, sink, config.Retry)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		retry:    retry,
		template: config.Template,
		filter:   config.Filter,
		clock:    config.Clock,
	}, nil
}

// ProcessBatch dispatches every record in input order. Per-record failures
// are absorbed and counted; only an empty batch returns an error.
// A started batch runs to completion even if ctx is cancelled.
func (d *Dispatcher) ProcessBatch(ctx context.Context, records []stream.RawRecord) (BatchOutcome, error) {
	ctx = context.WithoutCancel(ctx)

	if len(records) == 0 {
		telemetry.BatchesTotal.With("rejected").Inc()
		return BatchOutcome{}, ErrEmptyBatch
	}

	start := time.Now()
	outcome := BatchOutcome{Total: len(records)}

	log.Debug().Int("records", len(records)).Msg("Batch received from change stream")

	for _, raw := range records {
		d.dispatchRecord(ctx, raw, &outcome)
	}

	telemetry.BatchesTotal.With("processed").Inc()
	telemetry.BatchSize.Observe(float64(outcome.Total))
	telemetry.BatchDurationSeconds.Observe(time.Since(start).Seconds())

	log.Info().
		Int("total", outcome.Total).
		Int("succeeded", outcome.Succeeded).
		Int("dead_lettered", outcome.DeadLettered).
		Int("skipped", outcome.Skipped).
		Int("dead_letter_failures", outcome.DeadLetterFailures).
		Dur("duration", time.Since(start)).
		Msg("Batch processed")

	return outcome, nil
}

func (d *Dispatcher) dispatchRecord(ctx context.Context, raw stream.RawRecord, outcome *BatchOutcome) {
	rec, event, skip := d.prepare(raw)
	if skip != nil {
		outcome.Skipped++
		telemetry.RecordsTotal.With("skipped").Inc()
		telemetry.SkippedTotal.With(string(skip.Reason)).Inc()
		log.Error().
			Err(skip.Err).
			Str("event_id", skip.EventID).
			Str("event_name", skip.Label).
			Str("reason", string(skip.Reason)).
			Msg("Record skipped")
		return
	}

	result, err := d.retry.Dispatch(ctx, rec, event)
	switch result {
	case Delivered:
		outcome.Succeeded++
		telemetry.RecordsTotal.With("delivered").Inc()
	case DeadLettered:
		outcome.DeadLettered++
		telemetry.RecordsTotal.With("dead_lettered").Inc()
	}

	if err != nil {
		outcome.DeadLetterFailures++
		telemetry.DeadLetterFailuresTotal.Inc()
		log.Error().
			Err(err).
			Str("event_id", rec.EventID).
			Str("event_name", rec.Label).
			Msg("Record lost: dead letter enqueue failed")
	}
}

// prepare classifies a raw record and builds its event, or returns the skip signal
func (d *Dispatcher) prepare(raw stream.RawRecord) (stream.ChangeRecord, DispatchEvent, *stream.SkipError) {
	rec, err := stream.Classify(raw)
	if err != nil {
		var skip *stream.SkipError
		if errors.As(err, &skip) {
			return stream.ChangeRecord{}, DispatchEvent{}, skip
		}
		return stream.ChangeRecord{}, DispatchEvent{}, &stream.SkipError{
			EventID: raw.EventID,
			Label:   raw.EventName,
			Reason:  stream.ReasonMissingPayload,
			Err:     err,
		}
	}

	if d.filter != nil && !d.filter.Match(stream.TableName(rec.SourceARN)) {
		return stream.ChangeRecord{}, DispatchEvent{}, &stream.SkipError{
			EventID: rec.EventID,
			Label:   rec.Label,
			Reason:  stream.ReasonFiltered,
			Err:     fmt.Errorf("source table %q not matched by filter", stream.TableName(rec.SourceARN)),
		}
	}

	if rec.MissingNewImage {
		log.Error().
			Str("event_id", rec.EventID).
			Msg("Record does not have a NewImage to process")
	}

	event, err := NewDispatchEvent(rec, d.template, d.clock())
	if err != nil {
		return stream.ChangeRecord{}, DispatchEvent{}, &stream.SkipError{
			EventID: rec.EventID,
			Label:   rec.Label,
			Reason:  stream.ReasonUnserializable,
			Err:     err,
		}
	}

	return rec, event, nil
}
