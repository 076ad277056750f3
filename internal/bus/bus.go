// Package bus owns the NATS connection: it publishes domain events and feeds
// turn events from JetStream into the batcher.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
)

const (
	turnStream   = "MENTOR_TURNS"
	domainStream = "MENTOR_EVENTS"
	consumerName = "mentor-turn-recorder"
)

// streamSubjects maps JetStream stream names to their subjects.
var streamSubjects = map[string][]string{
	turnStream:   {events.SubjectPrefix + ">"},
	domainStream: {"mentor.transcript.>", "mentor.session.>", "mentor.system.>"},
}

// Adder receives decoded turn events.
type Adder interface {
	Add(e events.Event)
}

type Bus struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	sink Adder
	cc   jetstream.ConsumeContext
}

// Connect dials NATS with unlimited reconnects.
func Connect(natsURL string) (*Bus, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("ai-audience-mentor"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	return &Bus{nc: nc, js: js}, nil
}

// JetStream exposes the JetStream context for the KV store backend.
func (b *Bus) JetStream() jetstream.JetStream {
	return b.js
}

// Start ensures the streams exist and consumes turn events into sink.
func (b *Bus) Start(ctx context.Context, sink Adder) error {
	b.sink = sink
	for stream, subjects := range streamSubjects {
		if err := b.ensureStream(ctx, stream, subjects); err != nil {
			return err
		}
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, turnStream, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		b.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}
	b.cc = cc
	slog.Info("subscribed to stream", "stream", turnStream, "consumer", consumerName)
	return nil
}

func (b *Bus) ensureStream(ctx context.Context, name string, subjects []string) error {
	if _, err := b.js.Stream(ctx, name); err == nil {
		return nil
	}
	_, err := b.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	slog.Info("created stream", "name", name, "subjects", subjects)
	return nil
}

func (b *Bus) handleMessage(msg jetstream.Msg) {
	e, err := events.Normalize(msg.Data())
	if err != nil {
		slog.Warn("malformed turn event, skipping", "subject", msg.Subject(), "error", err)
		// Broken messages are never redelivered.
		_ = msg.Ack()
		return
	}
	if e.Source == "" {
		e.Source = msg.Subject()
	}
	if e.EventType == "" {
		e.EventType = strings.TrimPrefix(msg.Subject(), events.SubjectPrefix)
	}

	b.sink.Add(e)

	// Acked once buffered. A redelivery after a crash is harmless since
	// turn events are deduplicated on event_id.
	if err := msg.Ack(); err != nil {
		slog.Warn("failed to ack message", "subject", msg.Subject(), "error", err)
	}
}

// Publish sends a core NATS message.
func (b *Bus) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

// PublishEvent sends a turn event to its JetStream subject. The event id
// doubles as the message id so retries are deduplicated.
func (b *Bus) PublishEvent(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := b.js.Publish(ctx, e.Subject(), data, jetstream.WithMsgID(e.EventID)); err != nil {
		return fmt.Errorf("publish %s: %w", e.Subject(), err)
	}
	return nil
}

// Close stops consuming and drains the connection.
func (b *Bus) Close() {
	if b.cc != nil {
		b.cc.Stop()
	}
	if err := b.nc.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}
}
