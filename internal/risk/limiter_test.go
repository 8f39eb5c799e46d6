package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/instrument"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
	"github.com/atmx/portfolio-engine/internal/portfolio"
	"github.com/atmx/portfolio-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	audusd = instrument.Instrument{
		ID:            model.MustInstrumentID("AUD/USD.SIM"),
		AssetClass:    instrument.FX,
		BaseCurrency:  money.AUD,
		QuoteCurrency: money.USD,
		Multiplier:    d("1"),
		Margin:        instrument.NotionalMargin(d("0.03"), d("0.03")),
	}
	gbpusd = instrument.Instrument{
		ID:            model.MustInstrumentID("GBP/USD.SIM"),
		AssetClass:    instrument.FX,
		BaseCurrency:  money.GBP,
		QuoteCurrency: money.USD,
		Multiplier:    d("1"),
		Margin:        instrument.NotionalMargin(d("0.03"), d("0.03")),
	}
)

func setup(t *testing.T, typ model.AccountType, free string) (*instrument.Registry, *portfolio.Portfolio) {
	t.Helper()
	reg := instrument.NewRegistry()
	for _, inst := range []instrument.Instrument{audusd, gbpusd} {
		if err := reg.Add(inst); err != nil {
			t.Fatal(err)
		}
	}
	p := portfolio.New(reg, store.NewMemoryStore(), nil)

	total := money.MustParse(free, money.USD)
	p.OnAccountState(model.AccountState{
		EventID:      model.NewEventID(),
		AccountID:    model.NewAccountID("SIM", "001"),
		AccountType:  typ,
		BaseCurrency: money.USD,
		Reported:     true,
		Balances: []model.AccountBalance{{
			Currency: money.USD,
			Total:    total,
			Locked:   money.Zero(money.USD),
			Free:     total,
		}},
	})
	p.OnQuoteTick(model.QuoteTick{InstrumentID: audusd.ID, Bid: money.MustPrice("0.80501"), Ask: money.MustPrice("0.80505")})
	p.OnQuoteTick(model.QuoteTick{InstrumentID: gbpusd.ID, Bid: money.MustPrice("1.30000"), Ask: money.MustPrice("1.30010")})
	return reg, p
}

func fill(p *portfolio.Portfolio, trade string, inst instrument.Instrument, side model.OrderSide, qty, px string) {
	f := model.Fill{
		TradeID:      model.TradeID(trade),
		AccountID:    model.NewAccountID("SIM", "001"),
		InstrumentID: inst.ID,
		PositionID:   model.PositionID("P-" + inst.ID.Symbol),
		StrategyID:   "S-001",
		Side:         side,
		LastQty:      money.MustQuantity(qty),
		LastPx:       money.MustPrice(px),
		TsEvent:      time.Unix(1, 0),
	}
	p.OnOrderEvent(model.OrderEvent{
		EventID: model.NewEventID(),
		Type:    model.OrderFilled,
		Order:   model.Order{AccountID: f.AccountID, InstrumentID: inst.ID, Side: side, Status: model.StatusFilled},
		Fill:    &f,
	})
}

func buy(inst instrument.Instrument, qty string) Request {
	return Request{InstrumentID: inst.ID, Side: model.Buy, Quantity: money.MustQuantity(qty)}
}

func TestCheck_WithinLimits(t *testing.T) {
	reg, p := setup(t, model.Margin, "1000000")
	l := NewLimiter(reg, p, d("1000000"), d("5000000"))

	if err := l.Check(buy(audusd, "100000")); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_InstrumentLimitExceeded(t *testing.T) {
	reg, p := setup(t, model.Margin, "1000000")
	fill(p, "T1", audusd, model.Buy, "100000", "1.00000")
	l := NewLimiter(reg, p, d("100000"), decimal.Zero)

	// 150000 x 0.80505 = 120757.50 > 100000.
	err := l.Check(buy(audusd, "50000"))
	if !errors.Is(err, ErrInstrumentLimitExceeded) {
		t.Errorf("expected ErrInstrumentLimitExceeded, got %v", err)
	}
}

func TestCheck_ReducingOrderAllowed(t *testing.T) {
	reg, p := setup(t, model.Margin, "1000000")
	fill(p, "T1", audusd, model.Buy, "150000", "1.00000")
	l := NewLimiter(reg, p, d("100000"), decimal.Zero)

	sell := Request{InstrumentID: audusd.ID, Side: model.Sell, Quantity: money.MustQuantity("100000")}
	if err := l.Check(sell); err != nil {
		t.Errorf("expected reducing order allowed, got %v", err)
	}
}

func TestCheck_VenueLimitExceeded(t *testing.T) {
	reg, p := setup(t, model.Margin, "1000000")
	fill(p, "T1", gbpusd, model.Buy, "100000", "1.30000")
	l := NewLimiter(reg, p, decimal.Zero, d("150000"))

	// 130000 GBP/USD + 30000 x 0.80505 = 154151.50 > 150000.
	err := l.Check(buy(audusd, "30000"))
	if !errors.Is(err, ErrVenueLimitExceeded) {
		t.Errorf("expected ErrVenueLimitExceeded, got %v", err)
	}

	if err := l.Check(buy(audusd, "20000")); err != nil {
		t.Errorf("expected 146101 within venue limit, got %v", err)
	}
}

func TestCheck_VenueLimitReplacesCurrentExposure(t *testing.T) {
	reg, p := setup(t, model.Margin, "1000000")
	fill(p, "T1", gbpusd, model.Buy, "100000", "1.30000")
	l := NewLimiter(reg, p, decimal.Zero, d("140000"))

	// Adding 5000 leaves 105000 x 1.30010 = 136510.50; the existing 130000
	// must not be counted twice.
	if err := l.Check(buy(gbpusd, "5000")); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_InsufficientFree(t *testing.T) {
	reg, p := setup(t, model.Margin, "1000")
	l := NewLimiter(reg, p, decimal.Zero, decimal.Zero)

	// Initial margin 0.03 x 80505 = 2415.15 > 1000.
	err := l.Check(buy(audusd, "100000"))
	if !errors.Is(err, ErrInsufficientFree) {
		t.Errorf("expected ErrInsufficientFree, got %v", err)
	}
}

func TestCheck_CashAccountPaysNotional(t *testing.T) {
	reg, p := setup(t, model.Cash, "50000")
	l := NewLimiter(reg, p, decimal.Zero, decimal.Zero)

	if err := l.Check(buy(audusd, "100000")); !errors.Is(err, ErrInsufficientFree) {
		t.Errorf("expected ErrInsufficientFree, got %v", err)
	}
	if err := l.Check(buy(audusd, "50000")); err != nil {
		t.Errorf("expected 40252.50 covered, got %v", err)
	}
}

func TestCheck_LimitPriceOverridesQuote(t *testing.T) {
	reg, p := setup(t, model.Margin, "1000000")
	l := NewLimiter(reg, p, d("50000"), decimal.Zero)

	px := money.MustPrice("0.40000")
	req := buy(audusd, "100000")
	req.Price = &px
	if err := l.Check(req); err != nil {
		t.Errorf("expected 40000 within limit, got %v", err)
	}
}

func TestCheck_NoAccount(t *testing.T) {
	reg := instrument.NewRegistry()
	if err := reg.Add(audusd); err != nil {
		t.Fatal(err)
	}
	p := portfolio.New(reg, store.NewMemoryStore(), nil)
	l := NewLimiter(reg, p, decimal.Zero, decimal.Zero)

	if err := l.Check(buy(audusd, "1")); !errors.Is(err, ErrNoAccount) {
		t.Errorf("expected ErrNoAccount, got %v", err)
	}
}

func TestCheck_NoQuote(t *testing.T) {
	reg, _ := setup(t, model.Margin, "1000000")
	p := portfolio.New(reg, store.NewMemoryStore(), nil)
	p.OnAccountState(model.AccountState{
		EventID:      model.NewEventID(),
		AccountID:    model.NewAccountID("SIM", "001"),
		AccountType:  model.Margin,
		BaseCurrency: money.USD,
	})
	l := NewLimiter(reg, p, decimal.Zero, decimal.Zero)

	if err := l.Check(buy(audusd, "1")); !errors.Is(err, ErrNoMarginData) {
		t.Errorf("expected ErrNoMarginData, got %v", err)
	}
}

func TestCheck_InvalidRequests(t *testing.T) {
	reg, p := setup(t, model.Margin, "1000000")
	l := NewLimiter(reg, p, decimal.Zero, decimal.Zero)

	if err := l.Check(Request{InstrumentID: audusd.ID, Side: "HOLD", Quantity: money.MustQuantity("1")}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
	if err := l.Check(buy(audusd, "0")); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for zero quantity, got %v", err)
	}
	unknown := buy(audusd, "1")
	unknown.InstrumentID = model.MustInstrumentID("EUR/USD.SIM")
	if err := l.Check(unknown); !errors.Is(err, instrument.ErrNotFound) {
		t.Errorf("expected instrument.ErrNotFound, got %v", err)
	}
}
