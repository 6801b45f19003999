// Package kafka wraps segmentio/kafka-go with the batch-consume and
// JSON-publish primitives the service needs.
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"skywatch/pkg/log"
)

// ConsumerConfig configures one batch consumer over a set of topics.
type ConsumerConfig struct {
	Brokers   []string
	GroupID   string
	Topics    []string
	MaxBatch  int
	BatchWait time.Duration
}

// BatchHandler processes one fetched batch. It must not panic; message
// level containment is the caller's concern.
type BatchHandler func(ctx context.Context, batch [][]byte)

// BatchConsumer pulls message batches from its topics with at-least-once
// semantics: offsets are committed only after the handler returns.
// Consumption starts from the latest offset; historical backlog is not
// replayed.
type BatchConsumer struct {
	reader *kafka.Reader
	cfg    ConsumerConfig
}

// NewBatchConsumer creates a consumer; Close the consumer to release the
// group membership.
func NewBatchConsumer(cfg ConsumerConfig) *BatchConsumer {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 500 * time.Millisecond
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	return &BatchConsumer{reader: reader, cfg: cfg}
}

// Run consumes until the context is cancelled. Fetch errors are logged and
// retried; they never terminate the loop on their own.
func (c *BatchConsumer) Run(ctx context.Context, handle BatchHandler) error {
	for {
		msgs, err := c.fetchBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, kafka.ErrGroupClosed) {
				return err
			}
			log.WithFields(map[string]interface{}{
				"topics": c.cfg.Topics,
				"error":  err.Error(),
			}).Error("Failed to fetch messages")
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		batch := make([][]byte, len(msgs))
		for i := range msgs {
			batch[i] = msgs[i].Value
		}
		handle(ctx, batch)

		if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithFields(map[string]interface{}{
				"topics": c.cfg.Topics,
				"error":  err.Error(),
			}).Error("Failed to commit offsets")
		}
	}
}

// fetchBatch blocks for the first message, then drains up to MaxBatch
// messages that arrive within BatchWait.
func (c *BatchConsumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}

	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchWait)
	defer cancel()
	for len(msgs) < c.cfg.MaxBatch {
		msg, err := c.reader.FetchMessage(drainCtx)
		if err != nil {
			break
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Close releases the reader and its consumer-group membership.
func (c *BatchConsumer) Close() error {
	return c.reader.Close()
}
