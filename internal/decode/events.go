package decode

import (
	"github.com/shopspring/decimal"

	"github.com/oddslab/bookmon/internal/model"
)

// DomainEvent is a decoded feed frame. The concrete types are BookSnapshot,
// BookDelta, SubscriptionAck and Pong; matching on event kind is exhaustive.
type DomainEvent interface {
	domainEvent()
}

// BookSnapshot is a full order book for one instrument.
type BookSnapshot struct {
	AssetID string
	Bids    []model.BookLevel
	Asks    []model.BookLevel
}

// BookDelta is an update to the best price on one side of one instrument.
type BookDelta struct {
	AssetID string
	Side    model.Side
	Price   decimal.Decimal // New best price on this side
	Size    decimal.Decimal
}

// SubscriptionAck confirms a subscription for a set of instruments.
type SubscriptionAck struct {
	AssetIDs []string
}

// Pong is a keep-alive response.
type Pong struct{}

func (BookSnapshot) domainEvent()    {}
func (BookDelta) domainEvent()       {}
func (SubscriptionAck) domainEvent() {}
func (Pong) domainEvent()            {}

// BestBid returns the highest bid level, if any.
func (b BookSnapshot) BestBid() (model.BookLevel, bool) {
	return extreme(b.Bids, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
}

// BestAsk returns the lowest ask level, if any. The venue does not guarantee
// ask ordering, so this scans for the minimum.
func (b BookSnapshot) BestAsk() (model.BookLevel, bool) {
	return extreme(b.Asks, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
}

func extreme(levels []model.BookLevel, better func(a, b decimal.Decimal) bool) (model.BookLevel, bool) {
	if len(levels) == 0 {
		return model.BookLevel{}, false
	}
	best := levels[0]
	for _, l := range levels[1:] {
		if better(l.Price, best.Price) {
			best = l
		}
	}
	return best, true
}
