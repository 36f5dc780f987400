// Package kafka publishes operator-facing pipeline events (run
// completions, bulk-upload failures) to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/eklundh/strandr/pkg/config"
	"github.com/eklundh/strandr/pkg/logger"
)

// Event is one published record. Key is the corpus id, which hashes the
// event onto a partition and keeps per-corpus ordering. Value is
// JSON-encoded.
type Event struct {
	Key   string
	Value any
}

// Producer writes events to one topic. Writes are synchronous and
// acknowledged by all replicas; the pipeline reporter decides what to do
// when they fail.
type Producer struct {
	writer *kafka.Writer
	log    *slog.Logger
}

// NewProducer creates a Producer for the given topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			MaxAttempts:  3,
			RequiredAcks: kafka.RequireAll,
		},
		log: logger.WithComponent("kafka").With("topic", topic),
	}
}

// Publish encodes and writes one event.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("encoding event value: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.log.Debug("event published", "key", event.Key, "value_size", len(value))
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
