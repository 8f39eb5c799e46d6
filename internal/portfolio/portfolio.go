// Package portfolio aggregates account state, positions and quotes into
// point-in-time risk figures: net position, unrealized P&L, net exposure and
// margin usage.
//
// Event handlers are the only writers and are serialized under one lock.
// Queries take the read lock and recompute from current state, converting
// currencies on demand. A value that cannot be resolved (no account, no
// quote, no exchange rate) is reported as absent or omitted, never as an
// error.
package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/account"
	"github.com/atmx/portfolio-engine/internal/instrument"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
	"github.com/atmx/portfolio-engine/internal/position"
	"github.com/atmx/portfolio-engine/internal/quote"
	"github.com/atmx/portfolio-engine/internal/store"
	"github.com/atmx/portfolio-engine/internal/xrate"
)

// Notifier receives position transitions after the portfolio has applied
// them. Implementations must not block.
type Notifier interface {
	NotifyPosition(position.Event)
}

// Portfolio owns the ledger, the position tracker and the quote cache.
type Portfolio struct {
	mu sync.RWMutex

	instruments *instrument.Registry
	store       store.Store
	ledger      *account.Ledger
	positions   *position.Tracker
	quotes      *quote.Cache
	rates       *xrate.Resolver
	notifier    Notifier

	ordersInitialized    bool
	positionsInitialized bool
}

// New creates a portfolio over the instrument registry and the order and
// position store. The store should be in-process: handlers read it while
// holding the write lock. notifier may be nil.
func New(instruments *instrument.Registry, st store.Store, notifier Notifier) *Portfolio {
	quotes := quote.NewCache()
	return &Portfolio{
		instruments: instruments,
		store:       st,
		ledger:      account.NewLedger(),
		positions:   position.NewTracker(),
		quotes:      quotes,
		rates:       xrate.NewResolver(instruments, quotes),
		notifier:    notifier,
	}
}

// Initialized reports whether both working orders and positions were loaded.
func (p *Portfolio) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ordersInitialized && p.positionsInitialized
}

// Account returns the account held at venue.
func (p *Portfolio) Account(venue model.Venue) (account.Account, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.ForVenue(venue)
}

// Quote returns the latest quote for id.
func (p *Portfolio) Quote(id model.InstrumentID) (model.QuoteTick, bool) {
	return p.quotes.Get(id)
}

// Rate returns the exchange rate between two currencies on venue.
func (p *Portfolio) Rate(venue model.Venue, from, to money.Currency, pt model.PriceType) (decimal.Decimal, bool) {
	return p.rates.Rate(venue, from, to, pt)
}

// --- Positions ---

// NetPosition is the signed sum of open quantity in id. Zero if none.
func (p *Portfolio) NetPosition(id model.InstrumentID) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions.NetQuantity(id)
}

func (p *Portfolio) IsNetLong(id model.InstrumentID) bool  { return p.NetPosition(id).IsPositive() }
func (p *Portfolio) IsNetShort(id model.InstrumentID) bool { return p.NetPosition(id).IsNegative() }
func (p *Portfolio) IsFlat(id model.InstrumentID) bool     { return p.NetPosition(id).IsZero() }

// IsCompletelyFlat reports whether no position is open on any instrument.
func (p *Portfolio) IsCompletelyFlat() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions.IsCompletelyFlat()
}

// OpenPositions returns copies of the open positions in id.
func (p *Portfolio) OpenPositions(id model.InstrumentID) []position.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions.Open(id)
}

// --- P&L and exposure ---

// UnrealizedPnL marks the open positions in id to the current quote. It is
// absent when the instrument is unknown, no account exists for its venue,
// a needed quote is missing or the value cannot be converted to the
// account's base currency. A flat instrument reports zero.
func (p *Portfolio) UnrealizedPnL(id model.InstrumentID) (money.Money, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	inst, target, ok := p.resolve(id)
	if !ok {
		return money.Money{}, false
	}
	return p.unrealizedPnL(inst, target)
}

// UnrealizedPnLs sums unrealized P&L per currency over the instruments with
// open positions on venue. Contributions that cannot be resolved are
// omitted; an unknown account yields an empty map.
func (p *Portfolio) UnrealizedPnLs(venue model.Venue) map[money.Currency]money.Money {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[money.Currency]money.Money)
	base, ok := p.ledger.BaseCurrency(venue)
	if !ok {
		return out
	}
	for _, id := range p.positions.Instruments(venue) {
		inst, ok := p.instruments.Get(id)
		if !ok {
			continue
		}
		if pnl, ok := p.unrealizedPnL(inst, reporting(inst, base)); ok {
			money.Sum(out, pnl)
		}
	}
	return out
}

// NetExposure is the absolute notional of the open positions in id at the
// current quote, with the same absence rules as UnrealizedPnL.
func (p *Portfolio) NetExposure(id model.InstrumentID) (money.Money, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	inst, target, ok := p.resolve(id)
	if !ok {
		return money.Money{}, false
	}
	return p.netExposure(inst, target)
}

// NetExposures sums net exposure per currency over venue. It is absent when
// no account exists for venue.
func (p *Portfolio) NetExposures(venue model.Venue) (map[money.Currency]money.Money, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	base, ok := p.ledger.BaseCurrency(venue)
	if !ok {
		return nil, false
	}
	out := make(map[money.Currency]money.Money)
	for _, id := range p.positions.Instruments(venue) {
		inst, ok := p.instruments.Get(id)
		if !ok {
			continue
		}
		if exp, ok := p.netExposure(inst, reporting(inst, base)); ok {
			money.Sum(out, exp)
		}
	}
	return out, true
}

// RealizedPnL sums realized P&L over every position in id, open or closed.
func (p *Portfolio) RealizedPnL(id model.InstrumentID) (money.Money, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	inst, target, ok := p.resolve(id)
	if !ok {
		return money.Money{}, false
	}
	total := money.Zero(target)
	for _, pos := range p.positions.All(id) {
		conv, ok := p.convert(inst, pos.RealizedPnL, target, model.Mid)
		if !ok {
			return money.Money{}, false
		}
		total = total.Add(conv)
	}
	return total, true
}

// --- Margins ---

// InitialMargins sums the initial margin reserved per currency at venue.
// Absent when no account exists for venue.
func (p *Portfolio) InitialMargins(venue model.Venue) (map[money.Currency]money.Money, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.ledger.AccountID(venue)
	if !ok {
		return nil, false
	}
	return p.ledger.InitialMargins(id)
}

// MaintMargins sums the maintenance margin reserved per currency at venue.
// Absent when no account exists for venue.
func (p *Portfolio) MaintMargins(venue model.Venue) (map[money.Currency]money.Money, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.ledger.AccountID(venue)
	if !ok {
		return nil, false
	}
	return p.ledger.MaintMargins(id)
}

// --- Computation (callers hold the lock) ---

// resolve looks up the instrument and the currency its figures are reported
// in: the account's base currency, else the settlement currency.
func (p *Portfolio) resolve(id model.InstrumentID) (instrument.Instrument, money.Currency, bool) {
	inst, ok := p.instruments.Get(id)
	if !ok {
		return instrument.Instrument{}, "", false
	}
	base, ok := p.ledger.BaseCurrency(id.Venue)
	if !ok {
		return instrument.Instrument{}, "", false
	}
	return inst, reporting(inst, base), true
}

func reporting(inst instrument.Instrument, base money.Currency) money.Currency {
	if base != "" {
		return base
	}
	return inst.SettlementCurrency()
}

// markSide is the quote side an open position is valued at: the bid for
// longs and the ask for shorts.
func markSide(pos *position.Position) model.PriceType {
	if pos.IsShort() {
		return model.Ask
	}
	return model.Bid
}

func (p *Portfolio) unrealizedPnL(inst instrument.Instrument, target money.Currency) (money.Money, bool) {
	total := money.Zero(target)
	tick, haveTick := p.quotes.Get(inst.ID)
	ok := true
	p.positions.EachOpen(inst.ID, func(pos *position.Position) {
		if !ok {
			return
		}
		if !haveTick {
			ok = false
			return
		}
		pt := markSide(pos)
		px := tick.Price(pt)
		conv, converted := p.convert(inst, pos.UnrealizedPnL(px), target, pt)
		if !converted {
			ok = false
			return
		}
		total = total.Add(conv)
	})
	if !ok {
		return money.Money{}, false
	}
	return total, true
}

func (p *Portfolio) netExposure(inst instrument.Instrument, target money.Currency) (money.Money, bool) {
	total := money.Zero(target)
	tick, haveTick := p.quotes.Get(inst.ID)
	ok := true
	p.positions.EachOpen(inst.ID, func(pos *position.Position) {
		if !ok {
			return
		}
		if !haveTick {
			ok = false
			return
		}
		pt := markSide(pos)
		px := tick.Price(pt)
		conv, converted := p.convert(inst, inst.NotionalValue(pos.Quantity(), px), target, pt)
		if !converted {
			ok = false
			return
		}
		total = total.Add(conv)
	})
	if !ok {
		return money.Money{}, false
	}
	return total, true
}

func (p *Portfolio) convert(inst instrument.Instrument, m money.Money, to money.Currency, pt model.PriceType) (money.Money, bool) {
	conv, ok := p.rates.Convert(inst.ID.Venue, m, to, pt)
	if !ok {
		metrics.ConversionUnavailable.WithLabelValues(m.Currency().String(), to.String()).Inc()
	}
	return conv, ok
}
