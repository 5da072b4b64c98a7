package publisher

import (
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/fanout/cfg"
	"github.com/maxpert/fanout/stream"
	"github.com/rs/zerolog/log"
)

// BusFactory is a function that creates a Bus from a configuration
type BusFactory func(cfg.BusConfiguration) (Bus, error)

// QueueFactory is a function that creates a DeadLetterQueue from a configuration
type QueueFactory func(cfg.DeadLetterConfiguration) (DeadLetterQueue, error)

var (
	busFactories   = make(map[string]BusFactory)
	queueFactories = make(map[string]QueueFactory)
	factoryMu      sync.RWMutex
)

// RegisterBus registers a bus factory for a type
func RegisterBus(busType string, factory BusFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	busFactories[busType] = factory
}

// RegisterQueue registers a dead-letter queue factory for a type
func RegisterQueue(queueType string, factory QueueFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	queueFactories[queueType] = factory
}

// NewBus creates a bus based on the configuration
func NewBus(config cfg.BusConfiguration) (Bus, error) {
	factoryMu.RLock()
	factory, exists := busFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown bus type: %s", config.Type)
	}

	return factory(config)
}

// NewDeadLetterQueue creates a dead-letter queue based on the configuration
func NewDeadLetterQueue(config cfg.DeadLetterConfiguration) (DeadLetterQueue, error) {
	factoryMu.RLock()
	factory, exists := queueFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown dead letter queue type: %s", config.Type)
	}

	return factory(config)
}

// Registry owns the long-lived bus and queue clients and the dispatcher built on them
type Registry struct {
	bus        Bus
	queue      DeadLetterQueue
	dispatcher *Dispatcher
	replayer   *Replayer
	closeOnce  sync.Once
}

// NewRegistry builds the bus, dead-letter queue and dispatcher described by config
func NewRegistry(config *cfg.Configuration) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	filter, err := stream.NewGlobFilter(config.Stream.FilterTables)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter: %w", err)
	}

	bus, err := NewBus(config.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus: %w", err)
	}

	queue, err := NewDeadLetterQueue(config.DeadLetter)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to create dead letter queue: %w", err)
	}

	dispatcher, err := NewDispatcher(DispatcherConfig{
		Bus:         bus,
		DeadLetters: queue,
		Template: EventTemplate{
			Source:    config.Bus.Source,
			Resources: []string{config.Stream.SourceARN},
			BusName:   config.Bus.Name,
		},
		Filter: filter,
		Retry: RetryPolicy{
			MaxAttempts:     config.Retry.MaxAttempts,
			InitialBackoff:  time.Duration(config.Retry.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:      time.Duration(config.Retry.MaxBackoffMS) * time.Millisecond,
			BackoffMultiple: config.Retry.Multiplier,
		},
		DeadLetterDelay: time.Duration(config.DeadLetter.DelaySeconds) * time.Second,
		Author:          config.DeadLetter.Author,
	})
	if err != nil {
		bus.Close()
		queue.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	registry := &Registry{
		bus:        bus,
		queue:      queue,
		dispatcher: dispatcher,
	}

	if replayable, ok := queue.(ReplayableQueue); ok {
		registry.replayer, err = NewReplayer(replayable, dispatcher)
		if err != nil {
			registry.Close()
			return nil, err
		}
	}

	log.Info().
		Str("bus", config.Bus.Type).
		Str("bus_name", config.Bus.Name).
		Str("dead_letter", config.DeadLetter.Type).
		Int("max_attempts", config.Retry.MaxAttempts).
		Bool("replay", registry.replayer != nil).
		Msg("Dispatcher registry initialized")

	return registry, nil
}

// Dispatcher returns the batch dispatcher
func (r *Registry) Dispatcher() *Dispatcher {
	return r.dispatcher
}

// Replayer returns the dead-letter replayer, nil when the queue cannot be drained locally
func (r *Registry) Replayer() *Replayer {
	return r.replayer
}

// Backlog returns the queue as a backlog source, nil when it cannot report depth
func (r *Registry) Backlog() ReplayableQueue {
	if q, ok := r.queue.(ReplayableQueue); ok {
		return q
	}
	return nil
}

// Close releases the bus and queue clients
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		if err := r.bus.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close bus")
		}
		if err := r.queue.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close dead letter queue")
		}
		log.Info().Msg("Dispatcher registry closed")
	})
}
