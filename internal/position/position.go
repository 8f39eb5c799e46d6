// Package position applies fills to positions and indexes them for the
// portfolio's queries.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/instrument"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

var (
	ErrPositionClosed     = errors.New("position: position is closed")
	ErrInstrumentMismatch = errors.New("position: fill instrument does not match position")
	ErrInvalidFill        = errors.New("position: invalid fill")
)

var one = decimal.NewFromInt(1)

// Position is the running state of exposure to one instrument. NetQty is
// signed: positive long, negative short. A position whose net quantity
// returns to zero is closed for good.
type Position struct {
	ID                 model.PositionID               `json:"position_id"`
	InstrumentID       model.InstrumentID             `json:"instrument_id"`
	StrategyID         model.StrategyID               `json:"strategy_id"`
	AccountID          model.AccountID                `json:"account_id"`
	NetQty             decimal.Decimal                `json:"net_qty"`
	AvgPxOpen          decimal.Decimal                `json:"avg_px_open"`
	RealizedPnL        money.Money                    `json:"realized_pnl"`
	Commissions        map[money.Currency]money.Money `json:"commissions"`
	OpenedAt           time.Time                      `json:"opened_at"`
	ClosedAt           time.Time                      `json:"closed_at,omitempty"`
	Closed             bool                           `json:"closed"`
	TradeIDs           []model.TradeID                `json:"trade_ids"`
	Multiplier         decimal.Decimal                `json:"multiplier"`
	Inverse            bool                           `json:"inverse"`
	SettlementCurrency money.Currency                 `json:"settlement_currency"`
}

// New opens a position for inst from its first fill.
func New(id model.PositionID, inst instrument.Instrument, fill model.Fill) (*Position, error) {
	if fill.InstrumentID != inst.ID {
		return nil, fmt.Errorf("%w: %s != %s", ErrInstrumentMismatch, fill.InstrumentID, inst.ID)
	}
	p := &Position{
		ID:                 id,
		InstrumentID:       inst.ID,
		StrategyID:         fill.StrategyID,
		AccountID:          fill.AccountID,
		RealizedPnL:        money.Zero(inst.SettlementCurrency()),
		Commissions:        make(map[money.Currency]money.Money),
		OpenedAt:           fill.TsEvent,
		Multiplier:         inst.Multiplier,
		Inverse:            inst.Inverse,
		SettlementCurrency: inst.SettlementCurrency(),
	}
	if _, err := p.ApplyFill(fill); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Position) IsLong() bool   { return p.NetQty.IsPositive() }
func (p *Position) IsShort() bool  { return p.NetQty.IsNegative() }
func (p *Position) IsFlat() bool   { return p.NetQty.IsZero() }
func (p *Position) IsClosed() bool { return p.Closed }

// Side returns BUY for a long position and SELL for a short one. A flat
// position has no side.
func (p *Position) Side() (model.OrderSide, bool) {
	switch {
	case p.IsLong():
		return model.Buy, true
	case p.IsShort():
		return model.Sell, true
	}
	return "", false
}

// Quantity is the absolute net quantity.
func (p *Position) Quantity() decimal.Decimal { return p.NetQty.Abs() }

// HasTrade reports whether the fill with id was already applied.
func (p *Position) HasTrade(id model.TradeID) bool {
	for _, t := range p.TradeIDs {
		if t == id {
			return true
		}
	}
	return false
}

// ApplyFill updates the position with fill. It returns false when the trade
// was already applied.
//
// Opening or adding to the position moves the average open price to the
// volume-weighted average. Reducing realizes P&L on the closed quantity at
// the existing average. A fill that crosses zero closes the old direction
// and opens the remainder at the fill price.
func (p *Position) ApplyFill(fill model.Fill) (bool, error) {
	if fill.InstrumentID != p.InstrumentID {
		return false, fmt.Errorf("%w: %s != %s", ErrInstrumentMismatch, fill.InstrumentID, p.InstrumentID)
	}
	if fill.TradeID != "" && p.HasTrade(fill.TradeID) {
		return false, nil
	}
	if p.IsClosed() {
		return false, fmt.Errorf("%w: %s", ErrPositionClosed, p.ID)
	}
	if !fill.Side.Valid() || fill.LastQty.IsZero() || !fill.LastPx.IsPositive() {
		return false, fmt.Errorf("%w: trade %s side=%s qty=%s px=%s",
			ErrInvalidFill, fill.TradeID, fill.Side, fill.LastQty, fill.LastPx)
	}

	px := fill.LastPx.Decimal()
	qty := fill.LastQty.Decimal()

	if !fill.Commission.IsZero() {
		money.Sum(p.Commissions, fill.Commission)
		if fill.Commission.Currency() == p.SettlementCurrency {
			p.RealizedPnL = p.RealizedPnL.Sub(fill.Commission)
		}
	}

	switch {
	case p.NetQty.IsZero() || p.NetQty.Sign() == fill.Side.Sign().Sign():
		held := p.NetQty.Abs()
		p.AvgPxOpen = held.Mul(p.AvgPxOpen).Add(qty.Mul(px)).Div(held.Add(qty))
		p.NetQty = p.NetQty.Add(fill.SignedQty())

	default:
		held := p.NetQty.Abs()
		closed := decimal.Min(held, qty)
		pnl := p.points(p.AvgPxOpen, px, closed, p.IsLong())
		p.RealizedPnL = p.RealizedPnL.Add(money.New(pnl, p.SettlementCurrency))
		p.NetQty = p.NetQty.Add(fill.SignedQty())

		switch {
		case p.NetQty.IsZero():
			p.Closed = true
			p.ClosedAt = fill.TsEvent
		case qty.GreaterThan(held):
			p.AvgPxOpen = px
			p.OpenedAt = fill.TsEvent
		}
	}

	if fill.TradeID != "" {
		p.TradeIDs = append(p.TradeIDs, fill.TradeID)
	}
	return true, nil
}

// UnrealizedPnL marks the open quantity at price, in the settlement
// currency. Long positions should be marked at the bid, short at the ask.
func (p *Position) UnrealizedPnL(price decimal.Decimal) money.Money {
	if p.IsFlat() {
		return money.Zero(p.SettlementCurrency)
	}
	return money.New(p.points(p.AvgPxOpen, price, p.NetQty.Abs(), p.IsLong()), p.SettlementCurrency)
}

// points is the P&L of qty opened at avg and marked or closed at px.
//
//	linear:  (px − avg) × qty × multiplier
//	inverse: (1/avg − 1/px) × qty × multiplier
//
// negated for short positions.
func (p *Position) points(avg, px, qty decimal.Decimal, long bool) decimal.Decimal {
	var diff decimal.Decimal
	if p.Inverse {
		if avg.IsZero() || px.IsZero() {
			return decimal.Zero
		}
		diff = one.Div(avg).Sub(one.Div(px))
	} else {
		diff = px.Sub(avg)
	}
	if !long {
		diff = diff.Neg()
	}
	return diff.Mul(qty).Mul(p.Multiplier)
}

// Clone returns a deep copy.
func (p *Position) Clone() Position {
	c := *p
	c.Commissions = make(map[money.Currency]money.Money, len(p.Commissions))
	for k, v := range p.Commissions {
		c.Commissions[k] = v
	}
	c.TradeIDs = append([]model.TradeID(nil), p.TradeIDs...)
	return c
}
