package quote

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

var audusd = model.MustInstrumentID("AUD/USD.SIM")

func tick(bid, ask string, ts int64) model.QuoteTick {
	return model.QuoteTick{
		InstrumentID: audusd,
		Bid:          money.MustPrice(bid),
		Ask:          money.MustPrice(ask),
		BidSize:      money.MustQuantity("1"),
		AskSize:      money.MustQuantity("1"),
		TsEvent:      time.Unix(ts, 0),
	}
}

func TestCache_PriceMissing(t *testing.T) {
	c := NewCache()
	if _, ok := c.Price(audusd, model.Bid); ok {
		t.Error("expected no price before first tick")
	}
}

func TestCache_LastWriteWins(t *testing.T) {
	c := NewCache()
	c.Update(tick("0.80000", "0.80010", 2))
	c.Update(tick("0.79000", "0.79010", 1)) // older timestamp still overwrites

	bid, ok := c.Price(audusd, model.Bid)
	if !ok || !bid.Equal(decimal.RequireFromString("0.79")) {
		t.Errorf("expected bid 0.79, got %s", bid)
	}
	ask, _ := c.Price(audusd, model.Ask)
	if !ask.Equal(decimal.RequireFromString("0.7901")) {
		t.Errorf("expected ask 0.7901, got %s", ask)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Update(tick("0.8", "0.8001", int64(j)))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Price(audusd, model.Mid)
			}
		}()
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}
