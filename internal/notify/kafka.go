package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pkozlov/bankledger/internal/metrics"
	"github.com/pkozlov/bankledger/internal/retry"
)

// KafkaPublisher writes events to a Kafka topic, keyed by user so one
// user's notifications stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	value, err := json.Marshal(e)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal event: %w", err)
	}

	// Transient broker errors get a couple of retries before the event
	// is dropped by the caller.
	err = retry.Do(ctx, 3, 200*time.Millisecond, func() error {
		return p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(e.UserID),
			Value: value,
		})
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	metrics.NotificationsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
