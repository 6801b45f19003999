package notify

import (
	"fmt"

	"github.com/google/uuid"

	"skywatch/internal/model"
)

// Notifier turns triggered subscriptions into user-facing notifications
// and hands them to the dispatcher. Subscriptions carrying a filter are
// evaluated against the listing here, right before dispatch.
type Notifier struct {
	d *Dispatcher
}

// NewNotifier binds a notifier to its dispatcher.
func NewNotifier(d *Dispatcher) *Notifier {
	return &Notifier{d: d}
}

func (n *Notifier) auctionURL(a *model.Auction) string {
	return n.d.baseURL + "/auction/" + a.UUID
}

func (n *Notifier) itemIcon(a *model.Auction) string {
	return n.d.iconURL + "/" + a.Tag
}

// passes applies the subscription's filter, if any, to the listing. Any
// subscription carrying filter text is gated, whatever its type flags.
func (n *Notifier) passes(sub *model.Subscription, a *model.Auction) bool {
	if sub.Filter == "" {
		return true
	}
	return n.d.matchesFilter(sub, a)
}

func data(auctionID string) map[string]string {
	d := map[string]string{"id": uuid.NewString()}
	if auctionID != "" {
		d["auctionId"] = auctionID
	}
	return d
}

// AuctionPriceAlert fires for a new listing crossing a price threshold.
func (n *Notifier) AuctionPriceAlert(sub *model.Subscription, a *model.Auction) {
	if !n.passes(sub, a) {
		return
	}
	n.d.Send(sub,
		"Price Alert",
		fmt.Sprintf("%s was listed for %d", a.ItemName, a.StartingBid),
		n.auctionURL(a), n.itemIcon(a), data(a.UUID))
}

// NewAuction fires when a watched player lists something.
func (n *Notifier) NewAuction(sub *model.Subscription, a *model.Auction) {
	if !n.passes(sub, a) {
		return
	}
	n.d.Send(sub,
		"New auction",
		fmt.Sprintf("%s created a new auction for %s", a.AuctioneerID, a.ItemName),
		n.auctionURL(a), n.itemIcon(a), data(a.UUID))
}

// Sold fires for the seller when their auction sold.
func (n *Notifier) Sold(sub *model.Subscription, a *model.Auction) {
	price := a.HighestBidAmount
	n.d.Send(sub,
		"Item Sold",
		fmt.Sprintf("Your %s sold for %d", a.ItemName, price),
		n.auctionURL(a), n.itemIcon(a), data(a.UUID))
}

// Outbid fires for a bidder who no longer holds the top bid.
func (n *Notifier) Outbid(sub *model.Subscription, a *model.Auction, bid model.Bid) {
	highest := a.HighestBid()
	if highest == nil {
		return
	}
	n.d.Send(sub,
		"Outbid",
		fmt.Sprintf("You were outbid on %s by %d", a.ItemName, highest.Amount-bid.Amount),
		n.auctionURL(a), n.itemIcon(a), data(a.UUID))
}

// NewBid fires for watchers of a specific auction or player when a bid
// comes in.
func (n *Notifier) NewBid(sub *model.Subscription, a *model.Auction, bid model.Bid) {
	n.d.Send(sub,
		"New bid",
		fmt.Sprintf("%s bid %d on %s", bid.Bidder, bid.Amount, a.ItemName),
		n.auctionURL(a), n.itemIcon(a), data(a.UUID))
}

// AuctionOver fires for watchers of an auction when it ends.
func (n *Notifier) AuctionOver(sub *model.Subscription, a *model.Auction) {
	body := fmt.Sprintf("Auction for %s ended", a.ItemName)
	if highest := a.HighestBid(); highest != nil {
		body = fmt.Sprintf("Auction for %s ended. Highest bid is %d", a.ItemName, highest.Amount)
	}
	n.d.Send(sub, "Auction ended", body, n.auctionURL(a), n.itemIcon(a), data(a.UUID))
}

// Bought fires for the winning bidder when the auction closes.
func (n *Notifier) Bought(sub *model.Subscription, a *model.Auction) {
	n.d.Send(sub,
		"Item bought",
		fmt.Sprintf("You won the auction for %s at %d", a.ItemName, a.HighestBidAmount),
		n.auctionURL(a), n.itemIcon(a), data(a.UUID))
}

// PriceAlert fires when a product quote crosses a subscription threshold.
func (n *Notifier) PriceAlert(sub *model.Subscription, productID string, value float64) {
	n.d.Send(sub,
		"Price Alert",
		fmt.Sprintf("%s reached %.2f", productID, value),
		n.d.baseURL+"/item/"+productID,
		n.d.iconURL+"/"+productID,
		data(""))
}

// FlipMatch fires when a listing matches a user's whitelist.
func (n *Notifier) FlipMatch(sub *model.Subscription, a *model.Auction) {
	n.d.Send(sub,
		"Flip found",
		fmt.Sprintf("%s is listed for %d", a.ItemName, a.StartingBid),
		n.auctionURL(a), n.itemIcon(a), data(a.UUID))
}
