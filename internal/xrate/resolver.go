// Package xrate resolves exchange rates between currencies from the quotes
// of currency-pair instruments listed on a venue.
package xrate

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

var one = decimal.NewFromInt(1)

// Pairs lists the instruments quoting base in quote on a venue.
type Pairs interface {
	Pairs(venue model.Venue, base, quote money.Currency) []model.InstrumentID
}

// Prices returns a side of the latest quote of an instrument.
type Prices interface {
	Price(id model.InstrumentID, pt model.PriceType) (decimal.Decimal, bool)
}

// Resolver looks up conversion rates. It holds no state of its own, so it is
// safe for concurrent use when its sources are.
type Resolver struct {
	pairs  Pairs
	prices Prices
}

// NewResolver creates a resolver over the given sources.
func NewResolver(pairs Pairs, prices Prices) *Resolver {
	return &Resolver{pairs: pairs, prices: prices}
}

// Rate returns how many units of to one unit of from is worth on venue.
//
// A direct from/to pair is priced on the requested side. An inverse to/from
// pair is priced as 1/price on the opposite side, so BID stays the lower
// rate. The second result is false when no quoted pair connects the two
// currencies.
func (r *Resolver) Rate(venue model.Venue, from, to money.Currency, pt model.PriceType) (decimal.Decimal, bool) {
	if from == to {
		return one, true
	}

	for _, id := range r.pairs.Pairs(venue, from, to) {
		if px, ok := r.prices.Price(id, pt); ok && px.IsPositive() {
			return px, true
		}
	}

	for _, id := range r.pairs.Pairs(venue, to, from) {
		if px, ok := r.prices.Price(id, opposite(pt)); ok && px.IsPositive() {
			return one.Div(px), true
		}
	}
	return decimal.Zero, false
}

// Convert expresses m in to using Rate.
func (r *Resolver) Convert(venue model.Venue, m money.Money, to money.Currency, pt model.PriceType) (money.Money, bool) {
	if m.Currency() == to {
		return m, true
	}
	rate, ok := r.Rate(venue, m.Currency(), to, pt)
	if !ok {
		return money.Money{}, false
	}
	return money.New(m.Amount().Mul(rate), to), true
}

func opposite(pt model.PriceType) model.PriceType {
	switch pt {
	case model.Bid:
		return model.Ask
	case model.Ask:
		return model.Bid
	default:
		return pt
	}
}
