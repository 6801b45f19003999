// Package consumer wires the kafka event streams into the matching engine.
// Each event class runs its own consumer loop; a malformed or panicking
// message is logged and skipped, never poisoning the rest of the batch.
package consumer

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"

	"skywatch/internal/config"
	"skywatch/internal/engine"
	"skywatch/internal/model"
	"skywatch/internal/monitor"
	"skywatch/pkg/kafka"
	"skywatch/pkg/log"
)

// Manager owns the consumer loops over the inbound event topics.
type Manager struct {
	cfg     *config.Config
	engine  *engine.Engine
	metrics *monitor.MetricsCollector

	consumers []*kafka.BatchConsumer
	wg        sync.WaitGroup
}

// NewManager creates the manager; Start launches the loops.
func NewManager(cfg *config.Config, eng *engine.Engine) *Manager {
	return &Manager{
		cfg:     cfg,
		engine:  eng,
		metrics: monitor.GetCollector(),
	}
}

// Start launches one consumer goroutine per event class. Loops exit when
// the context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	topics := m.cfg.Kafka.Topics
	m.run(ctx, "auction", []string{topics.NewAuction}, m.handleAuctions)
	m.run(ctx, "bid", []string{topics.NewBid}, m.handleBids)
	m.run(ctx, "sold", []string{topics.AuctionEnded, topics.SoldAuction}, m.handleSold)
	m.run(ctx, "quote", []string{topics.PriceQuote}, m.handleQuotes)
	log.Info("Event consumers started")
}

func (m *Manager) run(ctx context.Context, class string, topics []string, handle func([]byte)) {
	c := kafka.NewBatchConsumer(kafka.ConsumerConfig{
		Brokers:   m.cfg.Kafka.Brokers,
		GroupID:   m.cfg.Kafka.GroupID,
		Topics:    topics,
		MaxBatch:  m.cfg.Kafka.MaxBatch,
		BatchWait: m.cfg.Kafka.BatchWait,
	})
	m.consumers = append(m.consumers, c)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := c.Run(ctx, func(ctx context.Context, batch [][]byte) {
			m.metrics.RecordConsume(class, len(batch))
			for _, payload := range batch {
				m.process(class, payload, handle)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.WithFields(map[string]interface{}{
				"class": class,
				"error": err.Error(),
			}).Error("Consumer loop terminated")
		}
	}()
}

// process contains one message: a panic in decoding or matching skips the
// message, the loop keeps going.
func (m *Manager) process(class string, payload []byte, handle func([]byte)) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(map[string]interface{}{
				"class": class,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Panic while handling event")
		}
	}()
	handle(payload)
}

func (m *Manager) handleAuctions(payload []byte) {
	var auction model.Auction
	if err := json.Unmarshal(payload, &auction); err != nil {
		log.WithError(err).Error("Malformed auction event")
		return
	}
	m.engine.NewAuction(&auction)
}

func (m *Manager) handleBids(payload []byte) {
	var auction model.Auction
	if err := json.Unmarshal(payload, &auction); err != nil {
		log.WithError(err).Error("Malformed bid event")
		return
	}
	m.engine.NewBids(&auction)
}

func (m *Manager) handleSold(payload []byte) {
	var auction model.Auction
	if err := json.Unmarshal(payload, &auction); err != nil {
		log.WithError(err).Error("Malformed sold event")
		return
	}
	m.engine.AuctionSold(&auction)
}

func (m *Manager) handleQuotes(payload []byte) {
	var batch model.QuoteBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		log.WithError(err).Error("Malformed quote batch")
		return
	}
	m.engine.PriceQuotes(&batch)
}

// Close shuts the consumers down and waits for the loops to drain.
func (m *Manager) Close() {
	for _, c := range m.consumers {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("Failed to close consumer")
		}
	}
	m.wg.Wait()
}
