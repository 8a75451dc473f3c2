package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sokoline/storefront/internal/domain/notify"
	"github.com/sokoline/storefront/internal/observability"
)

// KafkaNotifier publishes notifications to a kafka topic. Delivery is
// best-effort from the caller's perspective; the writer's own retries are
// the only resilience applied.
type KafkaNotifier struct {
	writer *kafka.Writer
	log    observability.Logger
}

func NewKafkaNotifier(brokers []string, topic string, logger observability.Logger) *KafkaNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaNotifier{
		writer: writer,
		log:    logger.With(observability.F("component", "kafka_notifier")),
	}
}

func (n *KafkaNotifier) Publish(ctx context.Context, e notify.Event) error {
	if e == nil {
		return nil
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify kafka: encode %s: %w", e.EventName(), err)
	}
	msg := kafka.Message{
		Key:   []byte(e.EventName()),
		Value: value,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify kafka: write %s: %w", e.EventName(), err)
	}
	n.log.Debug("event_published", observability.F("event", e.EventName()))
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
