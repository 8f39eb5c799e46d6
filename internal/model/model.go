// Package model defines the core domain types shared across the portfolio
// engine: identifiers, orders, fills, account state and quote ticks, plus the
// event kinds they are delivered under.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/money"
)

var ErrInvalidBalance = errors.New("model: account balance total must equal locked + free")

// OrderSide is BUY or SELL.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s OrderSide) Sign() decimal.Decimal {
	if s == Sell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func (s OrderSide) Valid() bool { return s == Buy || s == Sell }

// OrderType is the execution instruction of an order.
type OrderType string

const (
	Market     OrderType = "MARKET"
	Limit      OrderType = "LIMIT"
	StopMarket OrderType = "STOP_MARKET"
	StopLimit  OrderType = "STOP_LIMIT"
)

// OrderStatus is the lifecycle state of an order, as computed by the
// execution layer.
type OrderStatus string

const (
	StatusInitialized     OrderStatus = "INITIALIZED"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusAccepted        OrderStatus = "ACCEPTED"
	StatusTriggered       OrderStatus = "TRIGGERED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// AccountType is CASH or MARGIN.
type AccountType string

const (
	Cash   AccountType = "CASH"
	Margin AccountType = "MARGIN"
)

// PriceType selects which side of a quote to use.
type PriceType string

const (
	Bid PriceType = "BID"
	Ask PriceType = "ASK"
	Mid PriceType = "MID"
)

// Order is a read-back copy of an order held by the order store.
type Order struct {
	ClientOrderID ClientOrderID  `json:"client_order_id"`
	AccountID     AccountID      `json:"account_id"`
	InstrumentID  InstrumentID   `json:"instrument_id"`
	StrategyID    StrategyID     `json:"strategy_id"`
	PositionID    PositionID     `json:"position_id,omitempty"`
	Side          OrderSide      `json:"side"`
	Type          OrderType      `json:"type"`
	Quantity      money.Quantity `json:"quantity"`
	Price         *money.Price   `json:"price,omitempty"`         // limit price
	TriggerPrice  *money.Price   `json:"trigger_price,omitempty"` // stop trigger
	Status        OrderStatus    `json:"status"`
	FilledQty     money.Quantity `json:"filled_qty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// IsWorking reports whether the order rests at the venue and therefore
// reserves initial margin.
func (o Order) IsWorking() bool {
	switch o.Status {
	case StatusAccepted, StatusTriggered, StatusPartiallyFilled:
		return true
	}
	return false
}

// LeavesQty is the unfilled remainder of the order.
func (o Order) LeavesQty() decimal.Decimal {
	leaves := o.Quantity.Decimal().Sub(o.FilledQty.Decimal())
	if leaves.IsNegative() {
		return decimal.Zero
	}
	return leaves
}

// MarginPrice is the price margin is reserved at: the limit price, else
// the trigger price. Market orders have none.
func (o Order) MarginPrice() (money.Price, bool) {
	if o.Price != nil {
		return *o.Price, true
	}
	if o.TriggerPrice != nil {
		return *o.TriggerPrice, true
	}
	return money.Price{}, false
}

// Fill is a single execution against an order.
type Fill struct {
	TradeID       TradeID        `json:"trade_id"`
	ClientOrderID ClientOrderID  `json:"client_order_id"`
	AccountID     AccountID      `json:"account_id"`
	InstrumentID  InstrumentID   `json:"instrument_id"`
	PositionID    PositionID     `json:"position_id"`
	StrategyID    StrategyID     `json:"strategy_id"`
	Side          OrderSide      `json:"side"`
	LastQty       money.Quantity `json:"last_qty"`
	LastPx        money.Price    `json:"last_px"`
	Commission    money.Money    `json:"commission"`
	TsEvent       time.Time      `json:"ts_event"`
}

// SignedQty returns the fill quantity signed by side.
func (f Fill) SignedQty() decimal.Decimal {
	return f.LastQty.Decimal().Mul(f.Side.Sign())
}

// AccountBalance is the balance of one currency within an account.
type AccountBalance struct {
	Currency money.Currency `json:"currency"`
	Total    money.Money    `json:"total"`
	Locked   money.Money    `json:"locked"`
	Free     money.Money    `json:"free"`
}

// Validate checks the balance is internally consistent.
func (b AccountBalance) Validate() error {
	for _, m := range []money.Money{b.Total, b.Locked, b.Free} {
		if m.Currency() != b.Currency {
			return fmt.Errorf("%w: %s balance holds %s amount", ErrInvalidBalance, b.Currency, m.Currency())
		}
	}
	if !b.Total.Equal(b.Locked.Add(b.Free)) {
		return fmt.Errorf("%w: %s total=%s locked=%s free=%s",
			ErrInvalidBalance, b.Currency, b.Total, b.Locked, b.Free)
	}
	return nil
}

// QuoteTick is the best bid/ask of an instrument at a point in time.
type QuoteTick struct {
	InstrumentID InstrumentID   `json:"instrument_id"`
	Bid          money.Price    `json:"bid"`
	Ask          money.Price    `json:"ask"`
	BidSize      money.Quantity `json:"bid_size"`
	AskSize      money.Quantity `json:"ask_size"`
	TsEvent      time.Time      `json:"ts_event"`
	TsInit       time.Time      `json:"ts_init"`
}

// Price returns the requested side of the quote.
func (q QuoteTick) Price(pt PriceType) decimal.Decimal {
	switch pt {
	case Bid:
		return q.Bid.Decimal()
	case Ask:
		return q.Ask.Decimal()
	default:
		return q.Bid.Decimal().Add(q.Ask.Decimal()).Div(decimal.NewFromInt(2))
	}
}

// NewEventID returns a fresh event identifier.
func NewEventID() uuid.UUID { return uuid.New() }
