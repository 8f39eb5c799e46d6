package account

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

// Ledger owns every account known to the portfolio. It is not safe for
// concurrent use; the portfolio serializes access under its own lock.
type Ledger struct {
	accounts map[model.AccountID]*Account
	byVenue  map[model.Venue]model.AccountID
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[model.AccountID]*Account),
		byVenue:  make(map[model.Venue]model.AccountID),
	}
}

// ApplySnapshot replaces the account's balances, type and base currency with
// the reported state. Margin reservations survive the replacement. It
// returns false when the snapshot duplicates the one already applied.
func (l *Ledger) ApplySnapshot(state model.AccountState) bool {
	acc, ok := l.accounts[state.AccountID]
	if !ok {
		acc = &Account{
			id:      state.AccountID,
			initial: make(map[model.InstrumentID]money.Money),
			maint:   make(map[model.InstrumentID]money.Money),
		}
		l.accounts[state.AccountID] = acc
		l.byVenue[state.AccountID.Venue()] = state.AccountID
	} else if acc.isDuplicate(state) {
		slog.Debug("duplicate account state ignored",
			"account_id", state.AccountID.String(),
			"event_id", state.EventID.String(),
		)
		return false
	}

	balances := make(map[money.Currency]model.AccountBalance, len(state.Balances))
	for _, b := range state.Balances {
		balances[b.Currency] = b
	}
	acc.typ = state.AccountType
	acc.base = state.BaseCurrency
	acc.balances = balances
	acc.lastEvent = state.EventID
	acc.updatedAt = state.TsEvent
	return true
}

func (a *Account) isDuplicate(state model.AccountState) bool {
	if state.EventID != uuid.Nil && state.EventID == a.lastEvent {
		return true
	}
	if a.typ != state.AccountType || a.base != state.BaseCurrency || len(a.balances) != len(state.Balances) {
		return false
	}
	for _, b := range state.Balances {
		cur, ok := a.balances[b.Currency]
		if !ok || !cur.Total.Equal(b.Total) || !cur.Locked.Equal(b.Locked) || !cur.Free.Equal(b.Free) {
			return false
		}
	}
	return true
}

// UpdateInitialMargin sets the initial reservation for an instrument. A zero
// amount removes the reservation. Unknown accounts are ignored.
func (l *Ledger) UpdateInitialMargin(id model.AccountID, inst model.InstrumentID, amount money.Money) {
	if acc, ok := l.accounts[id]; ok {
		setMargin(acc.initial, inst, amount)
	}
}

// UpdateMaintMargin sets the maintenance reservation for an instrument. A
// zero amount removes the reservation. Unknown accounts are ignored.
func (l *Ledger) UpdateMaintMargin(id model.AccountID, inst model.InstrumentID, amount money.Money) {
	if acc, ok := l.accounts[id]; ok {
		setMargin(acc.maint, inst, amount)
	}
}

func setMargin(margins map[model.InstrumentID]money.Money, inst model.InstrumentID, amount money.Money) {
	if amount.IsZero() {
		delete(margins, inst)
		return
	}
	margins[inst] = amount
}

// Account returns a copy of the account.
func (l *Ledger) Account(id model.AccountID) (Account, bool) {
	acc, ok := l.accounts[id]
	if !ok {
		return Account{}, false
	}
	return acc.clone(), true
}

// ForVenue returns a copy of the account held at venue.
func (l *Ledger) ForVenue(venue model.Venue) (Account, bool) {
	id, ok := l.byVenue[venue]
	if !ok {
		return Account{}, false
	}
	return l.Account(id)
}

// AccountID returns the id of the account held at venue.
func (l *Ledger) AccountID(venue model.Venue) (model.AccountID, bool) {
	id, ok := l.byVenue[venue]
	return id, ok
}

// BaseCurrency returns the reporting currency of the account at venue.
// The second result reports whether an account exists at all.
func (l *Ledger) BaseCurrency(venue model.Venue) (money.Currency, bool) {
	id, ok := l.byVenue[venue]
	if !ok {
		return "", false
	}
	return l.accounts[id].base, true
}

// InitialMargins sums the account's initial reservations per currency.
func (l *Ledger) InitialMargins(id model.AccountID) (map[money.Currency]money.Money, bool) {
	acc, ok := l.accounts[id]
	if !ok {
		return nil, false
	}
	return acc.InitialMargins(), true
}

// MaintMargins sums the account's maintenance reservations per currency.
func (l *Ledger) MaintMargins(id model.AccountID) (map[money.Currency]money.Money, bool) {
	acc, ok := l.accounts[id]
	if !ok {
		return nil, false
	}
	return acc.MaintMargins(), true
}

// Len returns the number of accounts.
func (l *Ledger) Len() int { return len(l.accounts) }
