package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	"github.com/segmentio/kafka-go"
)

// KindHeader carries the record kind so consumers of a shared topic can
// filter before decoding the value.
const KindHeader = "kind"

// Event is one record to publish. Key selects the partition; Value is
// encoded as JSON.
type Event struct {
	Key     string
	Value   any
	Headers map[string]string
}

// MessageWriter is the part of kafka.Writer the Producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON-encoded events to a Kafka topic. Writes are
// synchronous and wait for all in-sync replicas.
type Producer struct {
	writer MessageWriter
	topic  string
	logger *slog.Logger
}

// NewProducer creates a Producer for the given topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}, topic)
}

// NewProducerWithWriter wraps an existing writer, such as one shared between
// producers or a test double.
func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes a single event.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch encodes every event before writing any, then writes them in
// one call. An encoding failure publishes nothing.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, 0, len(events))
	bytes := 0
	for i, event := range events {
		msg, err := encode(event)
		if err != nil {
			return fmt.Errorf("event %d (key %q): %w", i, event.Key, err)
		}
		bytes += len(msg.Value)
		messages = append(messages, msg)
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("failed to publish",
			"count", len(messages),
			"first_key", events[0].Key,
			"error", err,
		)
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}
	p.logger.Debug("published", "count", len(messages), "bytes", bytes)
	return nil
}

// PublishAll publishes values of one kind, keyed by key and tagged with the
// kind header.
func PublishAll[T any](ctx context.Context, p *Producer, kind string, values []T, key func(T) string) error {
	events := make([]Event, len(values))
	for i, v := range values {
		events[i] = Event{Key: key(v), Value: v, Headers: map[string]string{KindHeader: kind}}
	}
	return p.PublishBatch(ctx, events)
}

func encode(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling event value: %w", err)
	}
	msg := kafka.Message{Key: []byte(event.Key), Value: value}
	for k, v := range event.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
