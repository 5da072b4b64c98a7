package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maxpert/fanout/cfg"
	"github.com/maxpert/fanout/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const natsPublishTimeout = 5 * time.Second

func init() {
	publisher.RegisterBus("nats", func(config cfg.BusConfiguration) (publisher.Bus, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats bus requires nats_url")
		}
		return NewNatsBus(config.NatsURL, config.Name)
	})
}

// NatsBus publishes events to NATS JetStream on subject <bus>.<detail-type>
type NatsBus struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	busName string

	streamMu    sync.Mutex
	streamReady bool
}

// NewNatsBus creates a new NATS JetStream bus
func NewNatsBus(url, busName string) (*NatsBus, error) {
	if busName == "" {
		return nil, fmt.Errorf("nats bus requires a bus name")
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsBus{nc: nc, js: js, busName: busName}, nil
}

// Publish sends one event to JetStream, deduplicated by event id
func (n *NatsBus) Publish(ctx context.Context, event publisher.DispatchEvent) publisher.PublishResult {
	ctx, cancel := context.WithTimeout(ctx, natsPublishTimeout)
	defer cancel()

	if err := n.ensureStream(ctx); err != nil {
		return publisher.PublishResult{Err: err}
	}

	data, err := encodeEnvelope(event)
	if err != nil {
		return publisher.PublishResult{Err: fmt.Errorf("failed to encode event: %w", err)}
	}

	msg := &nats.Msg{
		Subject: subjectFor(n.busName, event.DetailType),
		Data:    data,
		Header: nats.Header{
			"source":      []string{event.Source},
			"detail-type": []string{event.DetailType},
			"resources":   event.Resources,
		},
	}

	ack, err := n.js.PublishMsg(ctx, msg, jetstream.WithMsgID(event.EventID))
	if err != nil {
		return publisher.PublishResult{Err: fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)}
	}

	return publisher.PublishResult{EntryID: fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence)}
}

// ensureStream creates the bus stream once; failures are retried on the next publish
func (n *NatsBus) ensureStream(ctx context.Context) error {
	n.streamMu.Lock()
	defer n.streamMu.Unlock()

	if n.streamReady {
		return nil
	}

	streamName := sanitizeStreamName(n.busName)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{n.busName + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.streamReady = true
	return nil
}

// Close releases resources held by the NatsBus
func (n *NatsBus) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// subjectFor builds the subject an event is published on
func subjectFor(busName, detailType string) string {
	return busName + "." + strings.ToLower(detailType)
}

// sanitizeStreamName converts a bus name to a valid JetStream stream name
// JetStream stream names can't contain ".", "*", ">" or whitespace
func sanitizeStreamName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', '\\':
			return '_'
		}
		return r
	}, name)
}
