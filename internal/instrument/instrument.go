// Package instrument holds instrument definitions and the margin models that
// price their capital requirements.
//
// Definitions are registered once at startup and are immutable afterwards;
// every other component refers to instruments by model.InstrumentID.
package instrument

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

var (
	ErrInvalidInstrument = errors.New("instrument: invalid definition")
	ErrDuplicate         = errors.New("instrument: already registered")
	ErrNotFound          = errors.New("instrument: not registered")
)

// AssetClass is the instrument category.
type AssetClass string

const (
	FX         AssetClass = "FX"
	Crypto     AssetClass = "CRYPTO"
	Derivative AssetClass = "DERIVATIVE"
	Betting    AssetClass = "BETTING"
)

// Instrument is an immutable instrument definition.
type Instrument struct {
	ID             model.InstrumentID
	AssetClass     AssetClass
	BaseCurrency   money.Currency // empty when the instrument has no base asset
	QuoteCurrency  money.Currency
	Inverse        bool // coin-margined: settles in the base currency
	Multiplier     decimal.Decimal
	PricePrecision int32
	SizePrecision  int32
	Margin         MarginModel
}

// SettlementCurrency is the currency P&L and exposure are denominated in.
func (i Instrument) SettlementCurrency() money.Currency {
	if i.Inverse {
		return i.BaseCurrency
	}
	return i.QuoteCurrency
}

// NotionalValue returns the value of qty at price in the settlement currency.
//
//	linear:  qty × price × multiplier
//	inverse: qty × multiplier / price
func (i Instrument) NotionalValue(qty, price decimal.Decimal) money.Money {
	return money.New(i.notional(qty, price), i.SettlementCurrency())
}

func (i Instrument) notional(qty, price decimal.Decimal) decimal.Decimal {
	qty = qty.Abs()
	if i.Inverse {
		if price.IsZero() {
			return decimal.Zero
		}
		return qty.Mul(i.Multiplier).Div(price)
	}
	return qty.Mul(price).Mul(i.Multiplier)
}

// Validate checks the definition is complete and internally consistent.
func (i Instrument) Validate() error {
	switch {
	case i.ID.Symbol == "" || i.ID.Venue == "":
		return fmt.Errorf("%w: missing id", ErrInvalidInstrument)
	case !i.QuoteCurrency.Valid():
		return fmt.Errorf("%w: %s: unknown quote currency %q", ErrInvalidInstrument, i.ID, i.QuoteCurrency)
	case i.BaseCurrency != "" && !i.BaseCurrency.Valid():
		return fmt.Errorf("%w: %s: unknown base currency %q", ErrInvalidInstrument, i.ID, i.BaseCurrency)
	case i.Inverse && i.BaseCurrency == "":
		return fmt.Errorf("%w: %s: inverse instrument needs a base currency", ErrInvalidInstrument, i.ID)
	case !i.Multiplier.IsPositive():
		return fmt.Errorf("%w: %s: multiplier must be positive", ErrInvalidInstrument, i.ID)
	}
	return i.Margin.validate(i.ID)
}
