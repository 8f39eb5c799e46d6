package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/atmx/portfolio-engine/internal/money"
)

// EventKind keys the bus handler table.
type EventKind string

const (
	KindAccountState    EventKind = "account_state"
	KindOrder           EventKind = "order"
	KindPositionOpened  EventKind = "position_opened"
	KindPositionChanged EventKind = "position_changed"
	KindPositionClosed  EventKind = "position_closed"
	KindQuoteTick       EventKind = "quote_tick"
)

// AccountState is an authoritative snapshot of an account reported by the
// venue. Balances replace the previous snapshot wholesale.
type AccountState struct {
	EventID      uuid.UUID        `json:"event_id"`
	AccountID    AccountID        `json:"account_id"`
	AccountType  AccountType      `json:"account_type"`
	BaseCurrency money.Currency   `json:"base_currency,omitempty"` // empty: multi-currency
	Reported     bool             `json:"reported"`
	Balances     []AccountBalance `json:"balances"`
	TsEvent      time.Time        `json:"ts_event"`
}

func (AccountState) Kind() EventKind { return KindAccountState }

// Validate checks every balance of the snapshot.
func (s AccountState) Validate() error {
	for _, b := range s.Balances {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// OrderEventType is the transition an order event reports.
type OrderEventType string

const (
	OrderSubmitted OrderEventType = "SUBMITTED"
	OrderAccepted  OrderEventType = "ACCEPTED"
	OrderRejected  OrderEventType = "REJECTED"
	OrderTriggered OrderEventType = "TRIGGERED"
	OrderCanceled  OrderEventType = "CANCELED"
	OrderExpired   OrderEventType = "EXPIRED"
	OrderFilled    OrderEventType = "FILLED"
)

// OrderEvent reports an order transition. Order is the store's view of the
// order after the transition; Fill is set for FILLED events.
type OrderEvent struct {
	EventID uuid.UUID      `json:"event_id"`
	Type    OrderEventType `json:"type"`
	Order   Order          `json:"order"`
	Fill    *Fill          `json:"fill,omitempty"`
	TsEvent time.Time      `json:"ts_event"`
}

func (OrderEvent) Kind() EventKind { return KindOrder }

// AffectsMargin reports whether the transition can change reservations.
func (e OrderEvent) AffectsMargin() bool {
	switch e.Type {
	case OrderAccepted, OrderTriggered, OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

func (QuoteTick) Kind() EventKind { return KindQuoteTick }
