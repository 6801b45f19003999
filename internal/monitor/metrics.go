package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector gathers the service metrics
type MetricsCollector struct {
	// ingestion
	consumeTotal *prometheus.CounterVec

	// matching
	auctionTotal prometheus.Counter
	bidTotal     prometheus.Counter
	quoteTotal   prometheus.Counter
	soldTotal    prometheus.Counter

	// dispatch
	notificationsTotal *prometheus.CounterVec
	dedupSuppressed    prometheus.Counter
	dispatchDropped    prometheus.Counter
	dispatchQueueDepth prometheus.Gauge
	devicesPruned      prometheus.Counter

	// index
	indexSize prometheus.Gauge
}

var (
	collector     *MetricsCollector
	collectorOnce sync.Once
)

// GetCollector returns the shared metrics collector, creating it on first
// use. Metrics register with the default registry exactly once.
func GetCollector() *MetricsCollector {
	collectorOnce.Do(func() {
		collector = newCollector()
	})
	return collector
}

func newCollector() *MetricsCollector {
	mc := &MetricsCollector{}

	mc.consumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_consume_total",
			Help: "Total number of consumed messages per event class",
		},
		[]string{"class"},
	)
	mc.auctionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skywatch_new_auction_total",
		Help: "How many new auctions were processed",
	})
	mc.bidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skywatch_new_bid_total",
		Help: "How many bid updates were processed",
	})
	mc.quoteTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skywatch_price_quote_total",
		Help: "How many price quote pulls were processed",
	})
	mc.soldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skywatch_sold_total",
		Help: "How many closed auctions were processed",
	})
	mc.notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skywatch_notifications_total",
			Help: "Dispatched notifications by result",
		},
		[]string{"result"},
	)
	mc.dedupSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skywatch_dedup_suppressed_total",
		Help: "Notifications suppressed by the dedup window",
	})
	mc.dispatchDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skywatch_dispatch_dropped_total",
		Help: "Dispatch tasks dropped because the queue was full",
	})
	mc.dispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skywatch_dispatch_queue_depth",
		Help: "Current depth of the dispatch queue",
	})
	mc.devicesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skywatch_devices_pruned_total",
		Help: "Devices removed after the transport rejected their token",
	})
	mc.indexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skywatch_index_size",
		Help: "Number of indexed subscription entries",
	})

	return mc
}

// RecordConsume counts consumed messages for an event class
func (mc *MetricsCollector) RecordConsume(class string, n int) {
	mc.consumeTotal.WithLabelValues(class).Add(float64(n))
}

// RecordAuction counts one processed new-auction event
func (mc *MetricsCollector) RecordAuction() { mc.auctionTotal.Inc() }

// RecordBid counts one processed bid event
func (mc *MetricsCollector) RecordBid() { mc.bidTotal.Inc() }

// RecordQuote counts one processed quote pull
func (mc *MetricsCollector) RecordQuote() { mc.quoteTotal.Inc() }

// RecordSold counts one processed closed-auction event
func (mc *MetricsCollector) RecordSold() { mc.soldTotal.Inc() }

// RecordNotification counts a dispatch outcome
func (mc *MetricsCollector) RecordNotification(result string) {
	mc.notificationsTotal.WithLabelValues(result).Inc()
}

// RecordDedupSuppressed counts a duplicate suppression
func (mc *MetricsCollector) RecordDedupSuppressed() { mc.dedupSuppressed.Inc() }

// RecordDispatchDropped counts a dropped dispatch task
func (mc *MetricsCollector) RecordDispatchDropped() { mc.dispatchDropped.Inc() }

// SetDispatchQueueDepth tracks the dispatch queue depth
func (mc *MetricsCollector) SetDispatchQueueDepth(n int) {
	mc.dispatchQueueDepth.Set(float64(n))
}

// RecordDevicePruned counts a removed device
func (mc *MetricsCollector) RecordDevicePruned() { mc.devicesPruned.Inc() }

// SetIndexSize tracks the subscription index size
func (mc *MetricsCollector) SetIndexSize(n int) {
	mc.indexSize.Set(float64(n))
}
