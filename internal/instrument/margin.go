package instrument

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

// MarginKind selects the margin formula of an instrument.
type MarginKind string

const (
	// MarginNotional reserves a fixed rate of the notional value.
	MarginNotional MarginKind = "NOTIONAL"

	// MarginLiability reserves the worst-case loss of a fixed-odds bet.
	// Prices are implied probabilities, so decimal odds = 1 / price.
	MarginLiability MarginKind = "LIABILITY"
)

// MarginModel is a closed set of margin formulas. Each kind carries its own
// parameters; adding a category means adding a kind and its case below.
type MarginModel struct {
	Kind        MarginKind
	InitialRate decimal.Decimal // MarginNotional only
	MaintRate   decimal.Decimal // MarginNotional only
}

// NotionalMargin returns a rate-based model.
func NotionalMargin(initialRate, maintRate decimal.Decimal) MarginModel {
	return MarginModel{Kind: MarginNotional, InitialRate: initialRate, MaintRate: maintRate}
}

// LiabilityMargin returns the fixed-odds liability model.
func LiabilityMargin() MarginModel {
	return MarginModel{Kind: MarginLiability}
}

// Initial returns the initial margin for an order of qty at price.
func (m MarginModel) Initial(inst Instrument, side model.OrderSide, qty, price decimal.Decimal) money.Money {
	switch m.Kind {
	case MarginLiability:
		return money.New(liability(side, qty, price).Mul(inst.Multiplier), inst.SettlementCurrency())
	default:
		return money.New(inst.notional(qty, price).Mul(m.InitialRate), inst.SettlementCurrency())
	}
}

// Maint returns the maintenance margin for a position of qty marked at price.
// For the liability model the stake stays at risk until settlement, so the
// reservation equals the initial one.
func (m MarginModel) Maint(inst Instrument, side model.OrderSide, qty, price decimal.Decimal) money.Money {
	switch m.Kind {
	case MarginLiability:
		return money.New(liability(side, qty, price).Mul(inst.Multiplier), inst.SettlementCurrency())
	default:
		return money.New(inst.notional(qty, price).Mul(m.MaintRate), inst.SettlementCurrency())
	}
}

// MarksToMarket reports whether maintenance margin follows the market
// price. A fixed-odds liability is locked in at the matched price.
func (m MarginModel) MarksToMarket() bool { return m.Kind != MarginLiability }

// liability is stake × (odds − 1) for a back bet and the stake for a lay.
func liability(side model.OrderSide, stake, probability decimal.Decimal) decimal.Decimal {
	stake = stake.Abs()
	if side == model.Sell {
		return stake
	}
	if !probability.IsPositive() {
		return decimal.Zero
	}
	odds := decimal.NewFromInt(1).Div(probability)
	return stake.Mul(odds.Sub(decimal.NewFromInt(1)))
}

func (m MarginModel) validate(id model.InstrumentID) error {
	switch m.Kind {
	case MarginNotional:
		if m.InitialRate.IsNegative() || m.MaintRate.IsNegative() {
			return fmt.Errorf("%w: %s: margin rates must not be negative", ErrInvalidInstrument, id)
		}
		return nil
	case MarginLiability:
		return nil
	default:
		return fmt.Errorf("%w: %s: unknown margin kind %q", ErrInvalidInstrument, id, m.Kind)
	}
}
