package model

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Bid is one bid on an auction.
type Bid struct {
	Bidder    string    `json:"bidder"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Auction is the marketplace event payload consumed from the new-listing,
// bid-placed and auction-closed topics. The core only reads it, except for
// the attribute lookup which is computed lazily once per event.
type Auction struct {
	UUID             string            `json:"uuid"`
	Tag              string            `json:"tag"`
	ItemName         string            `json:"itemName"`
	AuctioneerID     string            `json:"auctioneerId"`
	StartingBid      int64             `json:"startingBid"`
	HighestBidAmount int64             `json:"highestBidAmount"`
	Bin              bool              `json:"bin"`
	Tier             string            `json:"tier,omitempty"`
	Reforge          string            `json:"reforge,omitempty"`
	Start            time.Time         `json:"start"`
	End              time.Time         `json:"end,omitempty"`
	Bids             []Bid             `json:"bids,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`

	lookupOnce sync.Once
	lookup     map[string]string
}

// HighestBid returns the largest bid, or nil when there are none.
func (a *Auction) HighestBid() *Bid {
	var top *Bid
	for i := range a.Bids {
		if top == nil || a.Bids[i].Amount > top.Amount {
			top = &a.Bids[i]
		}
	}
	return top
}

// AttributeLookup returns a normalized view of the raw item attributes,
// flattened to lower-case keys. It is computed at most once per event and
// shared by every predicate evaluated against it.
func (a *Auction) AttributeLookup() map[string]string {
	a.lookupOnce.Do(func() {
		a.lookup = a.buildLookup()
	})
	return a.lookup
}

// RebuildAttributeLookup recomputes the lookup from the raw attributes.
// Used as the single retry after a predicate evaluation failure.
func (a *Auction) RebuildAttributeLookup() map[string]string {
	a.lookup = a.buildLookup()
	a.lookupOnce.Do(func() {})
	return a.lookup
}

func (a *Auction) buildLookup() map[string]string {
	lookup := make(map[string]string, len(a.Attributes)+4)
	for k, v := range a.Attributes {
		lookup[strings.ToLower(k)] = v
	}
	lookup["tag"] = a.Tag
	lookup["tier"] = a.Tier
	lookup["reforge"] = a.Reforge
	lookup["startingbid"] = strconv.FormatInt(a.StartingBid, 10)
	return lookup
}

// QuickStatus carries the current quick-buy and quick-sell prices of a
// bazaar product.
type QuickStatus struct {
	BuyPrice  float64 `json:"buyPrice"`
	SellPrice float64 `json:"sellPrice"`
}

// ProductQuote is one product entry of a price-quote pull.
type ProductQuote struct {
	ProductID   string      `json:"productId"`
	QuickStatus QuickStatus `json:"quickStatus"`
}

// QuoteBatch is the price-quote topic payload, one pull over all products.
type QuoteBatch struct {
	Timestamp time.Time      `json:"timestamp"`
	Products  []ProductQuote `json:"products"`
}
