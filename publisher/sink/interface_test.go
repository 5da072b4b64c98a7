package sink

import "github.com/maxpert/fanout/publisher"

// Compile-time interface verification
var (
	_ publisher.Bus = (*KafkaBus)(nil)
	_ publisher.Bus = (*NatsBus)(nil)
	_ publisher.Bus = (*EventBridgeBus)(nil)
	_ publisher.Bus = (*MockBus)(nil)
)
