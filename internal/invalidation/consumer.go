package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/resilience"
)

// HandleMutation returns a Kafka MessageHandler that feeds mutation events
// into the worker queue. Undecodable messages are logged and acknowledged;
// a full queue is retried briefly and then reported so the message is not
// committed.
func HandleMutation(w *Worker) kafka.MessageHandler {
	logger := slog.Default().With("component", "mutation-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[model.MutationEvent](value)
		if err != nil {
			logger.Error("failed to decode mutation event", "key", string(key), "error", err)
			return nil
		}
		if ev.Collection == "" || ev.EventType == "" {
			logger.Warn("dropping mutation event without collection or type", "key", string(key))
			return nil
		}
		err = resilience.Retry(ctx, "enqueue-mutation", resilience.RetryConfig{
			Retryable: func(err error) bool { return errors.Is(err, apperrors.ErrQueueFull) },
		}, func() error {
			return w.Enqueue(ev)
		})
		if err != nil {
			return fmt.Errorf("enqueueing %s/%s event for %s: %w", ev.Collection, ev.EventType, ev.DocumentID, err)
		}
		return nil
	}
}

// KafkaAuditPublisher mirrors invalidation audit records to a Kafka topic,
// keyed by cache key so records for one key stay on one partition.
type KafkaAuditPublisher struct {
	producer *kafka.Producer
	retry    resilience.RetryConfig
}

func NewKafkaAuditPublisher(producer *kafka.Producer) *KafkaAuditPublisher {
	return &KafkaAuditPublisher{
		producer: producer,
		retry:    resilience.RetryConfig{MaxAttempts: 3},
	}
}

// AuditKind tags audit records on the topic.
const AuditKind = "invalidation"

func (p *KafkaAuditPublisher) PublishAudit(ctx context.Context, events []model.InvalidationEvent) error {
	return resilience.Retry(ctx, "publish-invalidation-audit", p.retry, func() error {
		return kafka.PublishAll(ctx, p.producer, AuditKind, events, auditKey)
	})
}

func auditKey(ev model.InvalidationEvent) string {
	return ev.Key
}
