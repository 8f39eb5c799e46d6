// Package account keeps the per-account balance sheet and the per-instrument
// margin reservations the portfolio computes against it.
package account

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

// Account is a read-only copy of one account. Mutations go through the
// Ledger that produced it.
type Account struct {
	id        model.AccountID
	typ       model.AccountType
	base      money.Currency
	balances  map[money.Currency]model.AccountBalance
	initial   map[model.InstrumentID]money.Money
	maint     map[model.InstrumentID]money.Money
	lastEvent uuid.UUID
	updatedAt time.Time
}

func (a Account) ID() model.AccountID     { return a.id }
func (a Account) Type() model.AccountType { return a.typ }
func (a Account) IsCash() bool            { return a.typ == model.Cash }
func (a Account) IsMargin() bool          { return a.typ == model.Margin }
func (a Account) UpdatedAt() time.Time    { return a.updatedAt }

// BaseCurrency returns the single reporting currency, if the account has one.
func (a Account) BaseCurrency() (money.Currency, bool) {
	return a.base, a.base != ""
}

// Balance returns the balance held in currency.
func (a Account) Balance(currency money.Currency) (model.AccountBalance, bool) {
	b, ok := a.balances[currency]
	return b, ok
}

// Balances returns all balances ordered by currency.
func (a Account) Balances() []model.AccountBalance {
	out := make([]model.AccountBalance, 0, len(a.balances))
	for _, b := range a.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// InitialMargin returns the initial reservation for one instrument.
func (a Account) InitialMargin(id model.InstrumentID) (money.Money, bool) {
	m, ok := a.initial[id]
	return m, ok
}

// MaintMargin returns the maintenance reservation for one instrument.
func (a Account) MaintMargin(id model.InstrumentID) (money.Money, bool) {
	m, ok := a.maint[id]
	return m, ok
}

// InitialMargins sums initial reservations per currency.
func (a Account) InitialMargins() map[money.Currency]money.Money { return sumByCurrency(a.initial) }

// MaintMargins sums maintenance reservations per currency.
func (a Account) MaintMargins() map[money.Currency]money.Money { return sumByCurrency(a.maint) }

func sumByCurrency(margins map[model.InstrumentID]money.Money) map[money.Currency]money.Money {
	out := make(map[money.Currency]money.Money)
	for _, m := range margins {
		money.Sum(out, m)
	}
	return out
}

func (a Account) clone() Account {
	c := a
	c.balances = make(map[money.Currency]model.AccountBalance, len(a.balances))
	for k, v := range a.balances {
		c.balances[k] = v
	}
	c.initial = make(map[model.InstrumentID]money.Money, len(a.initial))
	for k, v := range a.initial {
		c.initial[k] = v
	}
	c.maint = make(map[model.InstrumentID]money.Money, len(a.maint))
	for k, v := range a.maint {
		c.maint[k] = v
	}
	return c
}

type accountJSON struct {
	ID             model.AccountID                  `json:"account_id"`
	Type           model.AccountType                `json:"account_type"`
	BaseCurrency   money.Currency                   `json:"base_currency,omitempty"`
	Balances       []model.AccountBalance           `json:"balances"`
	InitialMargins map[money.Currency]money.Money   `json:"initial_margins"`
	MaintMargins   map[money.Currency]money.Money   `json:"maint_margins"`
	Margins        map[string]instrumentMarginsJSON `json:"margins"`
	UpdatedAt      time.Time                        `json:"updated_at"`
}

type instrumentMarginsJSON struct {
	Initial *money.Money `json:"initial,omitempty"`
	Maint   *money.Money `json:"maint,omitempty"`
}

func (a Account) MarshalJSON() ([]byte, error) {
	margins := make(map[string]instrumentMarginsJSON)
	for id, m := range a.initial {
		m := m
		entry := margins[id.String()]
		entry.Initial = &m
		margins[id.String()] = entry
	}
	for id, m := range a.maint {
		m := m
		entry := margins[id.String()]
		entry.Maint = &m
		margins[id.String()] = entry
	}
	return json.Marshal(accountJSON{
		ID:             a.id,
		Type:           a.typ,
		BaseCurrency:   a.base,
		Balances:       a.Balances(),
		InitialMargins: a.InitialMargins(),
		MaintMargins:   a.MaintMargins(),
		Margins:        margins,
		UpdatedAt:      a.updatedAt,
	})
}
