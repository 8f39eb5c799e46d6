package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/account"
	"github.com/atmx/portfolio-engine/internal/bus"
	"github.com/atmx/portfolio-engine/internal/instrument"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
	"github.com/atmx/portfolio-engine/internal/position"
	"github.com/atmx/portfolio-engine/internal/store"
)

// Register installs the portfolio's handlers on b.
func (p *Portfolio) Register(b *bus.Bus) {
	b.Subscribe(model.KindAccountState, func(e bus.Event) {
		if s, ok := e.(model.AccountState); ok {
			p.OnAccountState(s)
		}
	})
	b.Subscribe(model.KindOrder, func(e bus.Event) {
		if oe, ok := e.(model.OrderEvent); ok {
			p.OnOrderEvent(oe)
		}
	})
	onPosition := func(e bus.Event) {
		if pe, ok := e.(position.Event); ok {
			p.OnPositionEvent(pe)
		}
	}
	b.Subscribe(model.KindPositionOpened, onPosition)
	b.Subscribe(model.KindPositionChanged, onPosition)
	b.Subscribe(model.KindPositionClosed, onPosition)
	b.Subscribe(model.KindQuoteTick, func(e bus.Event) {
		if t, ok := e.(model.QuoteTick); ok {
			p.OnQuoteTick(t)
		}
	})
}

func observe(kind model.EventKind, start time.Time) {
	metrics.EventsTotal.WithLabelValues(string(kind)).Inc()
	metrics.EventLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

// OnAccountState replaces the account's snapshot. The first snapshot for an
// account also computes margins for everything already tracked at its
// venue.
func (p *Portfolio) OnAccountState(state model.AccountState) {
	defer observe(state.Kind(), time.Now())

	if err := state.Validate(); err != nil {
		slog.Warn("invalid account state ignored", "account_id", state.AccountID.String(), "err", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, known := p.ledger.AccountID(state.AccountID.Venue())
	if !p.ledger.ApplySnapshot(state) {
		return
	}
	if !known {
		for _, inst := range p.instruments.ByVenue(state.AccountID.Venue()) {
			p.updateMargins(inst.ID, state.AccountID)
		}
	}
	slog.Debug("account state applied", "account_id", state.AccountID.String(), "balances", len(state.Balances))
}

// OnOrderEvent applies fills to positions and recomputes the margins of the
// order's instrument from the current working orders and open positions.
func (p *Portfolio) OnOrderEvent(e model.OrderEvent) {
	defer observe(e.Kind(), time.Now())

	var notify []position.Event

	p.mu.Lock()
	if e.Type == model.OrderFilled && e.Fill != nil {
		if ev, ok := p.applyFill(*e.Fill); ok {
			notify = append(notify, ev)
		}
	}
	if e.AffectsMargin() {
		instID, accountID := e.Order.InstrumentID, e.Order.AccountID
		if instID.IsZero() && e.Fill != nil {
			instID, accountID = e.Fill.InstrumentID, e.Fill.AccountID
		}
		p.updateMargins(instID, accountID)
	}
	p.mu.Unlock()

	p.notify(notify)
}

func (p *Portfolio) applyFill(fill model.Fill) (position.Event, bool) {
	inst, ok := p.instruments.Get(fill.InstrumentID)
	if !ok {
		metrics.FillsRejected.WithLabelValues("unknown_instrument").Inc()
		slog.Warn("fill for unregistered instrument", "instrument_id", fill.InstrumentID.String(), "trade_id", fill.TradeID)
		return position.Event{}, false
	}

	transition, pos, err := p.positions.ApplyFill(inst, fill)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, position.ErrPositionClosed) {
			reason = "position_closed"
		}
		metrics.FillsRejected.WithLabelValues(reason).Inc()
		slog.Warn("fill rejected", "trade_id", fill.TradeID, "position_id", fill.PositionID, "err", err)
		return position.Event{}, false
	}
	if transition == position.Duplicate {
		slog.Debug("duplicate fill ignored", "trade_id", fill.TradeID, "position_id", pos.ID)
		return position.Event{}, false
	}

	metrics.FillsTotal.WithLabelValues(string(fill.Side)).Inc()
	metrics.OpenPositions.Set(float64(p.positions.OpenCount()))

	if err := store.SavePosition(context.Background(), p.store, &pos); err != nil {
		slog.Error("save position failed", "position_id", pos.ID, "err", err)
	}
	return position.NewEvent(transition, &pos, fill.TsEvent), true
}

// OnPositionEvent refreshes the position from the store, falling back to
// the event's snapshot, then recomputes the instrument's margins so
// reservations nothing references any more are dropped.
func (p *Portfolio) OnPositionEvent(e position.Event) {
	defer observe(e.Kind(), time.Now())

	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := e.Position
	stored, err := p.store.GetPosition(context.Background(), snapshot.ID)
	switch {
	case err == nil:
		snapshot = *stored
	case !errors.Is(err, store.ErrNotFound):
		slog.Warn("position refresh failed, using event snapshot", "position_id", snapshot.ID, "err", err)
	}
	if e.Type == position.Closed && snapshot.IsFlat() {
		snapshot.Closed = true
	}
	p.positions.Upsert(snapshot)
	metrics.OpenPositions.Set(float64(p.positions.OpenCount()))

	p.updateMargins(snapshot.InstrumentID, snapshot.AccountID)
}

// OnQuoteTick overwrites the cached quote. Nothing is recomputed: queries
// read the cache when they run.
func (p *Portfolio) OnQuoteTick(tick model.QuoteTick) {
	defer observe(tick.Kind(), time.Now())
	p.quotes.Update(tick)
}

// InitializeOrders computes initial margins for every working order in the
// store.
func (p *Portfolio) InitializeOrders(ctx context.Context) error {
	orders, err := p.store.ListOrders(ctx, store.OrderFilter{WorkingOnly: true})
	if err != nil {
		return fmt.Errorf("initialize orders: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	type key struct {
		inst    model.InstrumentID
		account model.AccountID
	}
	seen := make(map[key]bool)
	for _, o := range orders {
		k := key{o.InstrumentID, o.AccountID}
		if seen[k] {
			continue
		}
		seen[k] = true
		p.updateInitialMargin(o.InstrumentID, o.AccountID)
	}
	p.ordersInitialized = true
	slog.Info("portfolio orders initialized", "working_orders", len(orders), "instruments", len(seen))
	return nil
}

// InitializePositions loads every position from the store into the tracker
// and computes maintenance margins for the open ones.
func (p *Portfolio) InitializePositions(ctx context.Context) error {
	positions, err := p.store.ListPositions(ctx, store.PositionFilter{})
	if err != nil {
		return fmt.Errorf("initialize positions: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	open := 0
	for _, pos := range positions {
		p.positions.Upsert(pos)
		if !pos.IsFlat() {
			open++
		}
	}
	for _, pos := range positions {
		if !pos.IsFlat() {
			p.updateMaintMargin(pos.InstrumentID, pos.AccountID)
		}
	}
	metrics.OpenPositions.Set(float64(p.positions.OpenCount()))
	p.positionsInitialized = true
	slog.Info("portfolio positions initialized", "positions", len(positions), "open", open)
	return nil
}

func (p *Portfolio) notify(events []position.Event) {
	if p.notifier == nil {
		return
	}
	for _, e := range events {
		p.notifier.NotifyPosition(e)
	}
}

// --- Margin recomputation (callers hold the write lock) ---

func (p *Portfolio) updateMargins(id model.InstrumentID, accountID model.AccountID) {
	p.updateInitialMargin(id, accountID)
	p.updateMaintMargin(id, accountID)
}

// updateInitialMargin sets the initial reservation of id to the margin of
// the account's working orders in it.
func (p *Portfolio) updateInitialMargin(id model.InstrumentID, accountID model.AccountID) {
	inst, ok := p.instruments.Get(id)
	if !ok {
		return
	}
	acc, ok := p.ledger.Account(accountID)
	if !ok {
		return
	}

	orders, err := p.store.ListOrders(context.Background(), store.OrderFilter{InstrumentID: id, WorkingOnly: true})
	if err != nil {
		slog.Warn("list working orders failed", "instrument_id", id.String(), "err", err)
		return
	}

	bySide := make(map[model.PriceType]money.Money)
	for i := range orders {
		o := &orders[i]
		if o.AccountID != accountID {
			continue
		}
		px, pt, ok := p.orderPrice(inst, o)
		if !ok {
			slog.Debug("no price for working order margin", "client_order_id", o.ClientOrderID)
			continue
		}
		bySide[pt] = bySide[pt].Add(inst.Margin.Initial(inst, o.Side, o.LeavesQty(), px))
	}
	p.ledger.UpdateInitialMargin(accountID, id, p.marginIn(inst, acc, bySide))
}

// updateMaintMargin sets the maintenance reservation of id to the margin of
// the account's open positions in it.
func (p *Portfolio) updateMaintMargin(id model.InstrumentID, accountID model.AccountID) {
	inst, ok := p.instruments.Get(id)
	if !ok {
		return
	}
	acc, ok := p.ledger.Account(accountID)
	if !ok {
		return
	}

	tick, haveTick := p.quotes.Get(id)
	bySide := make(map[model.PriceType]money.Money)
	p.positions.EachOpen(id, func(pos *position.Position) {
		if pos.AccountID != accountID {
			return
		}
		side, _ := pos.Side()
		pt := markSide(pos)
		px := pos.AvgPxOpen
		if haveTick && inst.Margin.MarksToMarket() {
			px = tick.Price(pt)
		}
		bySide[pt] = bySide[pt].Add(inst.Margin.Maint(inst, side, pos.Quantity(), px))
	})
	p.ledger.UpdateMaintMargin(accountID, id, p.marginIn(inst, acc, bySide))
}

// orderPrice is the price an order reserves margin at: its limit or
// trigger price, else the side of the quote it would execute against. The
// returned price type is the side its margin converts at.
func (p *Portfolio) orderPrice(inst instrument.Instrument, o *model.Order) (decimal.Decimal, model.PriceType, bool) {
	pt, execSide := model.Bid, model.Ask
	if o.Side == model.Sell {
		pt, execSide = model.Ask, model.Bid
	}
	if px, ok := o.MarginPrice(); ok {
		return px.Decimal(), pt, true
	}
	px, ok := p.quotes.Price(inst.ID, execSide)
	return px, pt, ok
}

// marginIn converts settlement-currency margin, grouped by conversion side,
// to the account's reporting currency. Without a rate the whole amount stays
// in the settlement currency so the reservation is still visible.
func (p *Portfolio) marginIn(inst instrument.Instrument, acc account.Account, bySide map[model.PriceType]money.Money) money.Money {
	settlement := money.Zero(inst.SettlementCurrency())
	for _, m := range bySide {
		settlement = settlement.Add(m)
	}

	base, _ := acc.BaseCurrency()
	target := reporting(inst, base)
	if target == settlement.Currency() || settlement.IsZero() {
		return settlement
	}

	total := money.Zero(target)
	for pt, m := range bySide {
		conv, ok := p.convert(inst, m, target, pt)
		if !ok {
			slog.Warn("margin kept in settlement currency, no exchange rate",
				"instrument_id", inst.ID.String(), "from", settlement.Currency().String(), "to", target.String())
			return settlement
		}
		total = total.Add(conv)
	}
	return total
}
