package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/money"
)

func TestParseInstrumentID_Valid(t *testing.T) {
	id, err := ParseInstrumentID("AUD/USD.SIM")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Symbol != "AUD/USD" || id.Venue != "SIM" {
		t.Errorf("unexpected id %+v", id)
	}
	if id.String() != "AUD/USD.SIM" {
		t.Errorf("round trip failed: %s", id)
	}
}

func TestParseInstrumentID_SymbolWithDots(t *testing.T) {
	id, err := ParseInstrumentID("1.179082386-50214-0.0.BETFAIR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Symbol != "1.179082386-50214-0.0" || id.Venue != "BETFAIR" {
		t.Errorf("unexpected id %+v", id)
	}
}

func TestParseInstrumentID_Invalid(t *testing.T) {
	for _, s := range []string{"", "AUDUSD", ".SIM", "AUD/USD.sim"} {
		if _, err := ParseInstrumentID(s); !errors.Is(err, ErrInvalidInstrumentID) {
			t.Errorf("%q: expected ErrInvalidInstrumentID, got %v", s, err)
		}
	}
}

func TestParseAccountID(t *testing.T) {
	id, err := ParseAccountID("BINANCE-01234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Venue() != "BINANCE" || id.Number != "01234" {
		t.Errorf("unexpected id %+v", id)
	}
	if _, err := ParseAccountID("BINANCE"); !errors.Is(err, ErrInvalidAccountID) {
		t.Errorf("expected ErrInvalidAccountID, got %v", err)
	}
}

func TestInstrumentIDJSON(t *testing.T) {
	var f Fill
	raw := `{"instrument_id":"BTC/USDT.BINANCE","account_id":"BINANCE-1","side":"BUY","last_qty":"1.5","last_px":"25000"}`
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.InstrumentID != MustInstrumentID("BTC/USDT.BINANCE") {
		t.Errorf("unexpected instrument %s", f.InstrumentID)
	}
	if !f.SignedQty().Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("unexpected signed qty %s", f.SignedQty())
	}
}

func TestOrder_IsWorking(t *testing.T) {
	o := Order{Status: StatusAccepted}
	if !o.IsWorking() {
		t.Error("accepted order should be working")
	}
	o.Status = StatusFilled
	if o.IsWorking() {
		t.Error("filled order should not be working")
	}
}

func TestOrder_LeavesQtyAndMarginPrice(t *testing.T) {
	px := money.MustPrice("0.5")
	o := Order{
		Quantity:  money.MustQuantity("100"),
		FilledQty: money.MustQuantity("40"),
		Price:     &px,
	}
	if !o.LeavesQty().Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected leaves 60, got %s", o.LeavesQty())
	}
	got, ok := o.MarginPrice()
	if !ok || !got.Equal(px) {
		t.Errorf("expected margin price 0.5, got %s (ok=%v)", got, ok)
	}

	market := Order{Quantity: money.MustQuantity("1")}
	if _, ok := market.MarginPrice(); ok {
		t.Error("market order should have no margin price")
	}
}

func TestAccountBalance_Validate(t *testing.T) {
	ok := AccountBalance{
		Currency: money.USD,
		Total:    money.MustParse("100", money.USD),
		Locked:   money.MustParse("30", money.USD),
		Free:     money.MustParse("70", money.USD),
	}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := ok
	bad.Free = money.MustParse("71", money.USD)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidBalance) {
		t.Errorf("expected ErrInvalidBalance, got %v", err)
	}
}

func TestQuoteTick_Price(t *testing.T) {
	q := QuoteTick{Bid: money.MustPrice("25001"), Ask: money.MustPrice("25002")}
	if !q.Price(Mid).Equal(decimal.RequireFromString("25001.5")) {
		t.Errorf("unexpected mid %s", q.Price(Mid))
	}
	if !q.Price(Ask).Equal(decimal.NewFromInt(25002)) {
		t.Errorf("unexpected ask %s", q.Price(Ask))
	}
}
