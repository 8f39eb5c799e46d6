// Package risk implements a pre-trade gate over the portfolio's query
// surface.
//
// A proposed order is checked against three limits: the absolute exposure
// the order would leave in its instrument, the aggregate exposure across the
// instrument's venue, and the account's free balance in the reporting
// currency. Figures the portfolio cannot resolve (no quote, no rate) reject
// the order with ErrNoMarginData rather than letting it through unchecked.
package risk

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/account"
	"github.com/atmx/portfolio-engine/internal/instrument"
	"github.com/atmx/portfolio-engine/internal/metrics"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

var (
	// ErrNoAccount is returned when no account exists for the venue.
	ErrNoAccount = errors.New("risk: no account for venue")

	// ErrNoMarginData is returned when a price or exchange rate needed for
	// the check is unavailable. Callers should reject or hold the order.
	ErrNoMarginData = errors.New("risk: margin data unavailable")

	// ErrInstrumentLimitExceeded is returned when the order would push the
	// instrument's absolute exposure beyond the per-instrument maximum.
	ErrInstrumentLimitExceeded = errors.New("risk: instrument exposure limit exceeded")

	// ErrVenueLimitExceeded is returned when the order would push the
	// aggregate exposure across the venue beyond the venue maximum.
	ErrVenueLimitExceeded = errors.New("risk: venue exposure limit exceeded")

	// ErrInsufficientFree is returned when the account's free balance does
	// not cover the order's requirement.
	ErrInsufficientFree = errors.New("risk: insufficient free balance")

	ErrInvalidRequest = errors.New("risk: invalid request")
)

// Portfolio is the read-only view the limiter needs.
type Portfolio interface {
	Account(venue model.Venue) (account.Account, bool)
	NetPosition(id model.InstrumentID) decimal.Decimal
	NetExposure(id model.InstrumentID) (money.Money, bool)
	NetExposures(venue model.Venue) (map[money.Currency]money.Money, bool)
	Quote(id model.InstrumentID) (model.QuoteTick, bool)
	Rate(venue model.Venue, from, to money.Currency, pt model.PriceType) (decimal.Decimal, bool)
}

// Request is a proposed order. A nil Price prices the order at the side of
// the current quote it would execute against.
type Request struct {
	InstrumentID model.InstrumentID `json:"instrument_id"`
	Side         model.OrderSide    `json:"side"`
	Quantity     money.Quantity     `json:"quantity"`
	Price        *money.Price       `json:"price,omitempty"`
}

// Limiter enforces exposure and balance limits. Zero limits are disabled.
type Limiter struct {
	// MaxInstrumentExposure caps the absolute exposure in one instrument, in
	// the account's reporting currency.
	MaxInstrumentExposure decimal.Decimal

	// MaxVenueExposure caps the summed exposure across every instrument of
	// the venue.
	MaxVenueExposure decimal.Decimal

	instruments *instrument.Registry
	portfolio   Portfolio
}

// NewLimiter creates a limiter with the given exposure limits.
func NewLimiter(instruments *instrument.Registry, p Portfolio, maxInstrument, maxVenue decimal.Decimal) *Limiter {
	return &Limiter{
		MaxInstrumentExposure: maxInstrument,
		MaxVenueExposure:      maxVenue,
		instruments:           instruments,
		portfolio:             p,
	}
}

// Check validates whether req respects the limits. It returns nil if the
// order may proceed, or an error describing the violation.
func (l *Limiter) Check(req Request) error {
	err := l.check(req)
	if err != nil {
		metrics.RiskRejections.WithLabelValues(reason(err)).Inc()
		slog.Info("order rejected by risk check",
			"instrument_id", req.InstrumentID.String(),
			"side", string(req.Side),
			"quantity", req.Quantity.String(),
			"err", err,
		)
	}
	return err
}

func (l *Limiter) check(req Request) error {
	if !req.Side.Valid() || req.Quantity.IsZero() {
		return fmt.Errorf("%w: side=%q quantity=%s", ErrInvalidRequest, req.Side, req.Quantity)
	}
	inst, err := l.instruments.Lookup(req.InstrumentID)
	if err != nil {
		return err
	}
	venue := inst.ID.Venue

	acc, ok := l.portfolio.Account(venue)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAccount, venue)
	}
	base, _ := acc.BaseCurrency()
	target := base
	if target == "" {
		target = inst.SettlementCurrency()
	}

	px, ok := l.price(req)
	if !ok {
		return fmt.Errorf("%w: no quote for %s", ErrNoMarginData, inst.ID)
	}
	rate, ok := l.portfolio.Rate(venue, inst.SettlementCurrency(), target, model.Mid)
	if !ok {
		return fmt.Errorf("%w: no %s/%s rate on %s", ErrNoMarginData, inst.SettlementCurrency(), target, venue)
	}

	// 1. Instrument limit on the net position the order would leave.
	qty := req.Quantity.Decimal()
	projected := l.portfolio.NetPosition(inst.ID).Add(qty.Mul(req.Side.Sign()))
	exposure := inst.NotionalValue(projected, px).Amount().Mul(rate)

	if l.MaxInstrumentExposure.IsPositive() && exposure.GreaterThan(l.MaxInstrumentExposure) {
		return fmt.Errorf("%w: %s %s > %s", ErrInstrumentLimitExceeded, inst.ID, exposure.StringFixed(2), l.MaxInstrumentExposure)
	}

	// 2. Venue limit: replace the instrument's current exposure with the
	// projected one.
	if l.MaxVenueExposure.IsPositive() {
		exposures, ok := l.portfolio.NetExposures(venue)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoAccount, venue)
		}
		total := exposures[target].Amount().Add(exposure)
		if current, ok := l.portfolio.NetExposure(inst.ID); ok && current.Currency() == target {
			total = total.Sub(current.Amount())
		}
		if total.GreaterThan(l.MaxVenueExposure) {
			return fmt.Errorf("%w: %s %s > %s", ErrVenueLimitExceeded, venue, total.StringFixed(2), l.MaxVenueExposure)
		}
	}

	// 3. Free balance. A cash account pays for a purchase in full; otherwise
	// the order reserves its initial margin.
	var required decimal.Decimal
	if acc.IsCash() && req.Side == model.Buy {
		required = inst.NotionalValue(qty, px).Amount().Mul(rate)
	} else {
		required = inst.Margin.Initial(inst, req.Side, qty, px).Amount().Mul(rate)
	}
	free := decimal.Zero
	if bal, ok := acc.Balance(target); ok {
		free = bal.Free.Amount()
	}
	if required.GreaterThan(free) {
		return fmt.Errorf("%w: requires %s %s, free %s", ErrInsufficientFree, required.StringFixed(target.Precision()), target, free)
	}
	return nil
}

func (l *Limiter) price(req Request) (decimal.Decimal, bool) {
	if req.Price != nil && req.Price.IsPositive() {
		return req.Price.Decimal(), true
	}
	tick, ok := l.portfolio.Quote(req.InstrumentID)
	if !ok {
		return decimal.Zero, false
	}
	if req.Side == model.Buy {
		return tick.Price(model.Ask), true
	}
	return tick.Price(model.Bid), true
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrNoAccount):
		return "no_account"
	case errors.Is(err, ErrNoMarginData):
		return "no_margin_data"
	case errors.Is(err, ErrInstrumentLimitExceeded):
		return "instrument_limit"
	case errors.Is(err, ErrVenueLimitExceeded):
		return "venue_limit"
	case errors.Is(err, ErrInsufficientFree):
		return "insufficient_free"
	case errors.Is(err, instrument.ErrNotFound):
		return "unknown_instrument"
	default:
		return "invalid"
	}
}
