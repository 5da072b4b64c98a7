// Package publisher fans change records out to an event bus.
//
// A batch of stream records flows through four stages:
//
//  1. Classification: stream.Classify turns each raw record into a
//     ChangeRecord or a skip signal (missing payload, unknown operation).
//  2. Event building: NewDispatchEvent serializes the payload into a
//     DispatchEvent stamped with the configured source, resources and bus.
//  3. Retry: RetryController publishes the event through a Bus, up to
//     MaxAttempts times, one attempt at a time.
//  4. Dead-lettering: once attempts are exhausted the DeadLetterSink wraps
//     the original record into a DeadLetterMessage and enqueues it on a
//     DeadLetterQueue with a visibility delay.
//
// Dispatcher drives the stages for every record of a batch, in order, and
// reports a BatchOutcome. A failure on one record never affects another and
// never aborts the batch; only an empty batch is rejected (ErrEmptyBatch).
//
// # Delivery semantics
//
// At-least-once. A record is either delivered to the bus, or handed to the
// dead-letter queue, or (when the dead-letter enqueue itself fails) logged
// and counted as lost. Replayer drains due dead letters from queues that
// support it and runs them through the same retry path.
//
// # Backends
//
// Bus and DeadLetterQueue implementations register themselves by type name
// from the sink and deadletter subpackages:
//
//	import (
//		_ "github.com/maxpert/fanout/publisher/deadletter"
//		_ "github.com/maxpert/fanout/publisher/sink"
//	)
//
//	registry, err := publisher.NewRegistry(cfg.Config)
//	if err != nil {
//		return err
//	}
//	defer registry.Close()
//
//	outcome, err := registry.Dispatcher().ProcessBatch(ctx, batch.Records)
//
// # Thread Safety
//
// Dispatcher, RetryController and DeadLetterSink keep no per-call state and
// are safe for concurrent use by independent batches.
package publisher
