package consumer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skywatch/internal/config"
	"skywatch/internal/engine"
	"skywatch/internal/index"
	"skywatch/internal/model"
)

type countingNotifier struct {
	priceAlerts int
	sold        int
}

func (n *countingNotifier) AuctionPriceAlert(*model.Subscription, *model.Auction) { n.priceAlerts++ }
func (n *countingNotifier) NewAuction(*model.Subscription, *model.Auction)        {}
func (n *countingNotifier) Sold(*model.Subscription, *model.Auction)              { n.sold++ }
func (n *countingNotifier) Outbid(*model.Subscription, *model.Auction, model.Bid) {}
func (n *countingNotifier) NewBid(*model.Subscription, *model.Auction, model.Bid) {}
func (n *countingNotifier) AuctionOver(*model.Subscription, *model.Auction)       {}
func (n *countingNotifier) Bought(*model.Subscription, *model.Auction)            {}
func (n *countingNotifier) PriceAlert(*model.Subscription, string, float64)       {}
func (n *countingNotifier) FlipMatch(*model.Subscription, *model.Auction)         {}

func newTestManager(t *testing.T) (*Manager, *countingNotifier, *engine.Engine) {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()

	notifier := &countingNotifier{}
	eng := engine.New(index.New(nil), notifier, nil)
	return NewManager(cfg, eng), notifier, eng
}

func TestHandleAuctionsFeedsEngine(t *testing.T) {
	m, notifier, eng := newTestManager(t)

	eng.AddNew(&model.Subscription{ID: 1, UserID: 7, TopicID: "HYPERION", Price: 150, Type: model.SubTypePriceLowerThan})

	payload, err := json.Marshal(&model.Auction{
		UUID: "a1", Tag: "HYPERION", StartingBid: 100, Start: time.Now(),
	})
	require.NoError(t, err)

	m.process("auction", payload, m.handleAuctions)
	assert.Equal(t, 1, notifier.priceAlerts)
}

func TestHandleSoldFeedsEngine(t *testing.T) {
	m, notifier, eng := newTestManager(t)

	eng.AddNew(&model.Subscription{ID: 1, UserID: 7, TopicID: "seller-1", Type: model.SubTypeSold})

	payload, err := json.Marshal(&model.Auction{UUID: "a1", AuctioneerID: "seller-1"})
	require.NoError(t, err)

	m.process("sold", payload, m.handleSold)
	assert.Equal(t, 1, notifier.sold)
}

func TestMalformedPayloadIsSkipped(t *testing.T) {
	m, notifier, _ := newTestManager(t)

	m.process("auction", []byte("{not json"), m.handleAuctions)
	m.process("bid", []byte("{not json"), m.handleBids)
	m.process("sold", []byte("{not json"), m.handleSold)
	m.process("quote", []byte("{not json"), m.handleQuotes)

	assert.Zero(t, notifier.priceAlerts)
	assert.Zero(t, notifier.sold)
}

func TestProcessContainsPanics(t *testing.T) {
	m, _, _ := newTestManager(t)

	assert.NotPanics(t, func() {
		m.process("auction", []byte("{}"), func([]byte) {
			panic("boom")
		})
	})
}
