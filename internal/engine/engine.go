// Package engine matches marketplace events against the subscription index
// and hands triggered subscriptions to the notifier. Handlers are safe to
// call concurrently and never block on notification I/O.
package engine

import (
	"context"
	"time"

	"skywatch/internal/index"
	"skywatch/internal/model"
	"skywatch/internal/monitor"
	"skywatch/internal/settings"
	"skywatch/pkg/log"
)

// staleEventAge guards against replayed listings; anything older is
// silently dropped.
const staleEventAge = 2 * time.Hour

// priceAlertBackoff is the per-subscription cool-down after a price alert.
const priceAlertBackoff = time.Hour

// Notifier receives triggered subscriptions. Implementations must be
// fire-and-forget: a call may enqueue work, it must not do network I/O
// inline.
type Notifier interface {
	AuctionPriceAlert(sub *model.Subscription, auction *model.Auction)
	NewAuction(sub *model.Subscription, auction *model.Auction)
	Sold(sub *model.Subscription, auction *model.Auction)
	Outbid(sub *model.Subscription, auction *model.Auction, bid model.Bid)
	NewBid(sub *model.Subscription, auction *model.Auction, bid model.Bid)
	AuctionOver(sub *model.Subscription, auction *model.Auction)
	Bought(sub *model.Subscription, auction *model.Auction)
	PriceAlert(sub *model.Subscription, productID string, value float64)
	FlipMatch(sub *model.Subscription, auction *model.Auction)
}

// GateStore persists the rate-limit gate of a subscription; satisfied by
// the subscription repository. Persistence is best effort.
type GateStore interface {
	UpdateNotTriggerAgainBefore(ctx context.Context, id uint64, t time.Time) error
}

// Engine is the matching engine over one subscription index.
type Engine struct {
	index    *index.Index
	notifier Notifier
	gates    GateStore
	metrics  *monitor.MetricsCollector
	now      func() time.Time
}

// New creates an engine. gates may be nil; gate updates then stay
// in-memory only.
func New(idx *index.Index, notifier Notifier, gates GateStore) *Engine {
	return &Engine{
		index:    idx,
		notifier: notifier,
		gates:    gates,
		metrics:  monitor.GetCollector(),
		now:      time.Now,
	}
}

// AddNew registers a subscription with the index.
func (e *Engine) AddNew(sub *model.Subscription) {
	e.index.Add(sub)
	e.metrics.SetIndexSize(e.index.Count())
}

// Unsubscribe removes a subscription from the index. Removing an unknown
// subscription is a no-op.
func (e *Engine) Unsubscribe(sub *model.Subscription) {
	e.index.Remove(sub)
	e.metrics.SetIndexSize(e.index.Count())
}

// SubCount returns the number of indexed subscription entries.
func (e *Engine) SubCount() int {
	return e.index.Count()
}

// SubscriptionLister loads the initial subscription set; satisfied by the
// subscription repository.
type SubscriptionLister interface {
	ListRecent(ctx context.Context) ([]model.Subscription, error)
}

// LoadFromStore populates the index from the durable store at startup.
func (e *Engine) LoadFromStore(ctx context.Context, store SubscriptionLister) error {
	subs, err := store.ListRecent(ctx)
	if err != nil {
		return err
	}
	for i := range subs {
		e.index.Add(&subs[i])
	}
	e.metrics.SetIndexSize(e.index.Count())
	log.Infof("Loaded %d subscriptions", len(subs))
	return nil
}

// UpdateFlipSettings feeds one live settings change into the index.
func (e *Engine) UpdateFlipSettings(userID uint64, s *settings.FlipSettings) {
	e.index.UpdateFlipSettings(userID, s)
}

// NewAuction handles one new listing.
func (e *Engine) NewAuction(auction *model.Auction) {
	if auction.Start.Before(e.now().Add(-staleEventAge)) {
		return
	}

	for _, sub := range e.index.LookupByTopic(index.CategoryPriceUpdate, auction.Tag) {
		if (auction.StartingBid < sub.Price && sub.Type.Has(model.SubTypePriceLowerThan) ||
			auction.StartingBid > sub.Price && sub.Type.Has(model.SubTypePriceHigherThan)) &&
			(!sub.Type.Has(model.SubTypeBin) || auction.Bin) {
			e.notifier.AuctionPriceAlert(sub, auction)
		}
	}

	for _, sub := range e.index.LookupByTopic(index.CategoryPlayer, auction.AuctioneerID) {
		e.notifier.NewAuction(sub, auction)
	}

	e.index.RangeFlips(func(entry *index.FlipEntry) bool {
		s := entry.Settings()
		if s == nil {
			return true
		}
		if matched, label := s.Match(auction); matched && settings.IsWhitelisted(label) {
			e.notifier.FlipMatch(entry.Sub, auction)
		}
		return true
	})

	e.metrics.RecordAuction()
}

// NewBids handles a bid update: everyone but the highest bidder is outbid,
// auction watchers get the new top bid, player watchers get their own bid.
func (e *Engine) NewBids(auction *model.Auction) {
	highest := auction.HighestBid()
	if highest == nil {
		return
	}

	skippedTop := false
	for i := range auction.Bids {
		bid := auction.Bids[i]
		if !skippedTop && bid.Amount == highest.Amount {
			skippedTop = true
			continue
		}
		for _, sub := range e.index.LookupByTopic(index.CategoryOutbid, bid.Bidder) {
			e.notifier.Outbid(sub, auction, bid)
		}
	}

	for _, sub := range e.index.LookupByTopic(index.CategoryAuction, auction.UUID) {
		e.notifier.NewBid(sub, auction, *highest)
	}

	for i := range auction.Bids {
		for _, sub := range e.index.LookupByTopic(index.CategoryPlayer, auction.Bids[i].Bidder) {
			e.notifier.NewBid(sub, auction, auction.Bids[i])
		}
	}

	e.metrics.RecordBid()
}

// AuctionSold handles a closed auction.
func (e *Engine) AuctionSold(auction *model.Auction) {
	for _, sub := range e.index.LookupByTopic(index.CategorySold, auction.AuctioneerID) {
		e.notifier.Sold(sub, auction)
	}
	for _, sub := range e.index.LookupByTopic(index.CategoryAuction, auction.UUID) {
		e.notifier.AuctionOver(sub, auction)
	}
	if winner := auction.HighestBid(); winner != nil {
		for _, sub := range e.index.LookupByTopic(index.CategoryBuy, winner.Bidder) {
			e.notifier.Bought(sub, auction)
		}
	}
	e.metrics.RecordSold()
}

// PriceQuotes handles one quote pull over all products.
func (e *Engine) PriceQuotes(batch *model.QuoteBatch) {
	for i := range batch.Products {
		e.priceState(&batch.Products[i])
	}
	e.metrics.RecordQuote()
}

// priceState checks one product quote against its price subscriptions. The
// gate mutation is a last-write-wins race; an occasional extra alert is
// acceptable, a notification storm is not.
func (e *Engine) priceState(quote *model.ProductQuote) {
	now := e.now()
	for _, sub := range e.index.LookupByTopic(index.CategoryPriceUpdate, quote.ProductID) {
		if sub.NotTriggerAgainBefore.After(now) {
			continue
		}
		value := quote.QuickStatus.BuyPrice
		if sub.Type.Has(model.SubTypeUseSellNotBuy) {
			value = quote.QuickStatus.SellPrice
		}
		if value < float64(sub.Price) && sub.Type.Has(model.SubTypePriceLowerThan) ||
			value > float64(sub.Price) && sub.Type.Has(model.SubTypePriceHigherThan) {
			sub.NotTriggerAgainBefore = now.Add(priceAlertBackoff)
			e.persistGate(sub)
			e.notifier.PriceAlert(sub, quote.ProductID, value)
		}
	}
}

func (e *Engine) persistGate(sub *model.Subscription) {
	if e.gates == nil {
		return
	}
	id, gate := sub.ID, sub.NotTriggerAgainBefore
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.gates.UpdateNotTriggerAgainBefore(ctx, id, gate); err != nil {
			log.WithFields(map[string]interface{}{
				"subscription": id,
				"error":        err.Error(),
			}).Warn("Failed to persist rate-limit gate")
		}
	}()
}
