package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maxpert/fanout/cfg"
	"github.com/maxpert/fanout/publisher"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaWriteTimeout = 10 * time.Second
)

func init() {
	publisher.RegisterBus("kafka", func(config cfg.BusConfiguration) (publisher.Bus, error) {
		kafkaConfig := DefaultKafkaConfig(config.Brokers)
		kafkaConfig.Topic = config.Name
		return NewKafkaBus(kafkaConfig)
	})
}

// messageWriter is the subset of *kafka.Writer the bus uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBus publishes events to a Kafka topic named after the bus
type KafkaBus struct {
	writer messageWriter
}

// KafkaConfig holds configuration for KafkaBus
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	Topic            string             // Destination topic (the bus name)
	BatchBytes       int64              // Max message bytes (default: 1MB)
	RequiredAcks     kafka.RequiredAcks // Ack requirement (default: RequireAll)
	AutoCreateTopics bool               // Auto-create topics if they don't exist (default: true)
	WriteTimeout     time.Duration      // Per-write timeout (default: 10s)
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
		WriteTimeout:     DefaultKafkaWriteTimeout,
	}
}

// NewKafkaBus creates a new KafkaBus with the given configuration
func NewKafkaBus(config KafkaConfig) (*KafkaBus, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka bus requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka bus requires a topic")
	}

	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultKafkaWriteTimeout
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{}, // Same event id, same partition
		BatchSize:              1,             // One event per call; don't wait for BatchTimeout
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		WriteTimeout:           config.WriteTimeout,
		Async:                  false,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaBus{writer: writer}, nil
}

// Publish writes one event as a single Kafka message keyed by event id
func (k *KafkaBus) Publish(ctx context.Context, event publisher.DispatchEvent) publisher.PublishResult {
	value, err := encodeEnvelope(event)
	if err != nil {
		return publisher.PublishResult{Err: fmt.Errorf("failed to encode event: %w", err)}
	}

	msg := kafka.Message{
		Key:   []byte(event.EventID),
		Value: value,
		Time:  event.Time,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(event.Source)},
			{Key: "detail-type", Value: []byte(event.DetailType)},
			{Key: "resources", Value: []byte(strings.Join(event.Resources, ","))},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		var entryErrs kafka.WriteErrors
		if errors.As(err, &entryErrs) && len(entryErrs) == 1 && entryErrs[0] != nil {
			return publisher.PublishResult{Err: fmt.Errorf("kafka rejected event %s: %w", event.EventID, entryErrs[0])}
		}
		return publisher.PublishResult{Err: fmt.Errorf("kafka write failed: %w", err)}
	}

	return publisher.PublishResult{}
}

// Close releases resources held by the KafkaBus
func (k *KafkaBus) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
