package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// MessageWriter is the subset of *kafka.Writer used by Kafka.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes each batch as one JSON message keyed by event type, so one type stays on one partition.
type Kafka struct {
	writer MessageWriter
	topic  string
	logger *slog.Logger
}

// NewKafka creates a writer for topic. brokers and topic must be non-empty. Call Close when shutting down.
func NewKafka(brokers []string, topic string, logger *slog.Logger) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("transport: kafka brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaWithWriter(writer, topic, logger), nil
}

// NewKafkaWithWriter wraps an existing writer. Used by tests.
func NewKafkaWithWriter(w MessageWriter, topic string, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Kafka{writer: w, topic: topic, logger: logger}
}

func (k *Kafka) Send(ctx context.Context, b domain.Batch) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("transport: encode batch: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(b.BatchMetadata.EventType),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "batch-size", Value: []byte(fmt.Sprint(b.BatchMetadata.BatchSize))},
		},
	})
	if err != nil {
		return fmt.Errorf("transport: kafka write %s: %w", k.topic, err)
	}
	return nil
}

// Beacon writes once and ignores the outcome.
func (k *Kafka) Beacon(ctx context.Context, b domain.Batch) {
	if err := k.Send(ctx, b); err != nil {
		k.logger.Debug("transport: kafka beacon failed", "err", err)
	}
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
