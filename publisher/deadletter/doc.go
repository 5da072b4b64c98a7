// Package deadletter provides the queues undeliverable records are parked on.
//
//   - sqs:   Amazon SQS with a per-message DelaySeconds. Drained externally.
//   - redis: sorted set scored by visibility time. Replayable.
//   - spool: local Pebble store keyed by visibility time. Replayable.
//
// Each backend registers itself with publisher.RegisterQueue on import.
package deadletter
