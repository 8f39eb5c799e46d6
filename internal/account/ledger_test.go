package account

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

var (
	accountID = model.NewAccountID("SIM", "001")
	audusd    = model.MustInstrumentID("AUD/USD.SIM")
	gbpusd    = model.MustInstrumentID("GBP/USD.SIM")
)

func balance(cur money.Currency, total, locked string) model.AccountBalance {
	t := money.MustParse(total, cur)
	l := money.MustParse(locked, cur)
	return model.AccountBalance{Currency: cur, Total: t, Locked: l, Free: t.Sub(l)}
}

func snapshot(balances ...model.AccountBalance) model.AccountState {
	return model.AccountState{
		EventID:      model.NewEventID(),
		AccountID:    accountID,
		AccountType:  model.Margin,
		BaseCurrency: money.USD,
		Reported:     true,
		Balances:     balances,
		TsEvent:      time.Unix(0, 0).UTC(),
	}
}

func TestApplySnapshot_CreatesAccount(t *testing.T) {
	l := NewLedger()
	if !l.ApplySnapshot(snapshot(balance(money.USD, "1000000", "0"))) {
		t.Fatal("expected snapshot to apply")
	}

	acc, ok := l.ForVenue("SIM")
	if !ok {
		t.Fatal("expected account for SIM")
	}
	if acc.ID() != accountID || !acc.IsMargin() {
		t.Errorf("unexpected account %v type %s", acc.ID(), acc.Type())
	}
	base, ok := acc.BaseCurrency()
	if !ok || base != money.USD {
		t.Errorf("expected base USD, got %s (ok=%v)", base, ok)
	}
	b, ok := acc.Balance(money.USD)
	if !ok || !b.Free.Equal(money.MustParse("1000000", money.USD)) {
		t.Errorf("unexpected balance %+v", b)
	}
}

func TestApplySnapshot_ReplacesBalancesKeepsMargins(t *testing.T) {
	l := NewLedger()
	l.ApplySnapshot(snapshot(balance(money.USD, "1000", "0"), balance(money.AUD, "500", "0")))
	l.UpdateInitialMargin(accountID, audusd, money.MustParse("30", money.USD))

	l.ApplySnapshot(snapshot(balance(money.USD, "900", "100")))

	acc, _ := l.Account(accountID)
	if _, ok := acc.Balance(money.AUD); ok {
		t.Error("AUD balance should be replaced away, not merged")
	}
	if len(acc.Balances()) != 1 {
		t.Errorf("expected 1 balance, got %d", len(acc.Balances()))
	}
	m, ok := acc.InitialMargin(audusd)
	if !ok || !m.Equal(money.MustParse("30", money.USD)) {
		t.Errorf("expected margin to survive snapshot, got %s (ok=%v)", m, ok)
	}
}

func TestApplySnapshot_DuplicateIsNoOp(t *testing.T) {
	l := NewLedger()
	s := snapshot(balance(money.USD, "1000", "0"))
	l.ApplySnapshot(s)
	if l.ApplySnapshot(s) {
		t.Error("same event id should be a duplicate")
	}

	same := snapshot(balance(money.USD, "1000", "0"))
	if l.ApplySnapshot(same) {
		t.Error("identical content should be a duplicate")
	}

	changed := snapshot(balance(money.USD, "1001", "0"))
	if !l.ApplySnapshot(changed) {
		t.Error("changed content should apply")
	}
}

func TestUpdateMargin_SetNotAdd(t *testing.T) {
	l := NewLedger()
	l.ApplySnapshot(snapshot(balance(money.USD, "1000", "0")))

	l.UpdateInitialMargin(accountID, audusd, money.MustParse("30", money.USD))
	l.UpdateInitialMargin(accountID, audusd, money.MustParse("30", money.USD))
	l.UpdateInitialMargin(accountID, gbpusd, money.MustParse("12.50", money.USD))

	margins, ok := l.InitialMargins(accountID)
	if !ok {
		t.Fatal("expected margins for known account")
	}
	if !margins[money.USD].Equal(money.MustParse("42.50", money.USD)) {
		t.Errorf("expected 42.50 USD, got %s", margins[money.USD])
	}
}

func TestUpdateMargin_ZeroDeletesKey(t *testing.T) {
	l := NewLedger()
	l.ApplySnapshot(snapshot(balance(money.USD, "1000", "0")))
	l.UpdateMaintMargin(accountID, audusd, money.MustParse("20", money.USD))
	l.UpdateMaintMargin(accountID, audusd, money.Zero(money.USD))

	acc, _ := l.Account(accountID)
	if _, ok := acc.MaintMargin(audusd); ok {
		t.Error("zero margin should delete the key")
	}
	if got := acc.MaintMargins(); len(got) != 0 {
		t.Errorf("expected no maint margins, got %v", got)
	}
}

func TestMargins_UnknownAccount(t *testing.T) {
	l := NewLedger()
	if _, ok := l.InitialMargins(accountID); ok {
		t.Error("expected absent margins for unknown account")
	}
	if _, ok := l.ForVenue("SIM"); ok {
		t.Error("expected no account for SIM")
	}
	l.UpdateInitialMargin(accountID, audusd, money.MustParse("1", money.USD))
	if l.Len() != 0 {
		t.Error("margin update must not create an account")
	}
}

func TestAccount_CopyIsIsolated(t *testing.T) {
	l := NewLedger()
	l.ApplySnapshot(snapshot(balance(money.USD, "1000", "0")))
	acc, _ := l.Account(accountID)

	l.UpdateInitialMargin(accountID, audusd, money.MustParse("30", money.USD))
	if _, ok := acc.InitialMargin(audusd); ok {
		t.Error("copy should not observe later ledger writes")
	}
}

func TestAccount_MarshalJSON(t *testing.T) {
	l := NewLedger()
	l.ApplySnapshot(snapshot(balance(money.USD, "1000", "0")))
	l.UpdateInitialMargin(accountID, audusd, money.MustParse("30", money.USD))
	acc, _ := l.Account(accountID)

	raw, err := json.Marshal(acc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out struct {
		AccountID string `json:"account_id"`
		Margins   map[string]struct {
			Initial *money.Money `json:"initial"`
		} `json:"margins"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.AccountID != "SIM-001" {
		t.Errorf("unexpected account id %q", out.AccountID)
	}
	m := out.Margins["AUD/USD.SIM"].Initial
	if m == nil || !m.Equal(money.MustParse("30", money.USD)) {
		t.Errorf("unexpected margin %v", m)
	}
}
