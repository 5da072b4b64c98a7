package deadletter

import "github.com/maxpert/fanout/publisher"

// Compile-time interface verification
var (
	_ publisher.DeadLetterQueue = (*SQSQueue)(nil)
	_ publisher.ReplayableQueue = (*RedisQueue)(nil)
	_ publisher.ReplayableQueue = (*Spool)(nil)
	_ publisher.ReplayableQueue = (*MockQueue)(nil)
)
