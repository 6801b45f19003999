package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher is the outbound side; satisfied by Producer and by test fakes.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

// Producer writes JSON messages through one shared kafka writer.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for the given brokers.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			Async:        false,
		},
	}
}

// Publish serializes the payload to JSON and writes it to the topic under
// the given key.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Close shuts the writer down.
func (p *Producer) Close() error {
	return p.writer.Close()
}
