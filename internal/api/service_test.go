package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/api"
	"github.com/atmx/portfolio-engine/internal/bus"
	"github.com/atmx/portfolio-engine/internal/instrument"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
	"github.com/atmx/portfolio-engine/internal/portfolio"
	"github.com/atmx/portfolio-engine/internal/position"
	"github.com/atmx/portfolio-engine/internal/risk"
	"github.com/atmx/portfolio-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var audusd = instrument.Instrument{
	ID:            model.MustInstrumentID("AUD/USD.SIM"),
	AssetClass:    instrument.FX,
	BaseCurrency:  money.AUD,
	QuoteCurrency: money.USD,
	Multiplier:    d("1"),
	Margin:        instrument.NotionalMargin(d("0.03"), d("0.03")),
}

// syncPublisher delivers events on the caller's goroutine.
type syncPublisher struct{ b *bus.Bus }

func (p syncPublisher) TryPublish(e bus.Event) error {
	if _, ok := bus.TopicOf(e.Kind()); !ok {
		return bus.ErrNoTopic
	}
	p.b.Publish(e)
	return nil
}

// newTestEnv creates a Service over an in-memory portfolio and a chi router.
func newTestEnv(t *testing.T, notifier portfolio.Notifier) (*portfolio.Portfolio, *store.MemoryStore, chi.Router) {
	t.Helper()
	reg := instrument.NewRegistry()
	if err := reg.Add(audusd); err != nil {
		t.Fatal(err)
	}
	ms := store.NewMemoryStore()
	p := portfolio.New(reg, ms, notifier)
	b := bus.New()
	p.Register(b)

	limiter := risk.NewLimiter(reg, p, d("100000"), decimal.Zero)
	svc := api.NewService(p, reg, ms, ms, syncPublisher{b}, limiter)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return p, ms, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, router chi.Router) {
	t.Helper()
	total := money.MustParse("1000000", money.USD)
	steps := []struct {
		kind string
		body any
	}{
		{"account_state", model.AccountState{
			AccountID:    model.NewAccountID("SIM", "001"),
			AccountType:  model.Margin,
			BaseCurrency: money.USD,
			Reported:     true,
			Balances: []model.AccountBalance{{
				Currency: money.USD, Total: total, Locked: money.Zero(money.USD), Free: total,
			}},
		}},
		{"quote_tick", model.QuoteTick{
			InstrumentID: audusd.ID,
			Bid:          money.MustPrice("0.80501"),
			Ask:          money.MustPrice("0.80505"),
		}},
		{"order", fillEvent("T1", "100000")},
	}
	for _, s := range steps {
		if w := do(t, router, "POST", "/api/v1/events/"+s.kind, s.body); w.Code != http.StatusAccepted {
			t.Fatalf("ingest %s: expected 202, got %d: %s", s.kind, w.Code, w.Body.String())
		}
	}
}

func fillEvent(trade, qty string) model.OrderEvent {
	accountID := model.NewAccountID("SIM", "001")
	q := money.MustQuantity(qty)
	return model.OrderEvent{
		Type: model.OrderFilled,
		Order: model.Order{
			ClientOrderID: model.ClientOrderID("O-" + trade),
			AccountID:     accountID,
			InstrumentID:  audusd.ID,
			StrategyID:    "S-001",
			PositionID:    "P-1",
			Side:          model.Buy,
			Type:          model.Market,
			Quantity:      q,
			Status:        model.StatusFilled,
			FilledQty:     q,
		},
		Fill: &model.Fill{
			TradeID:       model.TradeID(trade),
			ClientOrderID: model.ClientOrderID("O-" + trade),
			AccountID:     accountID,
			InstrumentID:  audusd.ID,
			PositionID:    "P-1",
			StrategyID:    "S-001",
			Side:          model.Buy,
			LastQty:       q,
			LastPx:        money.MustPrice("1.00000"),
			TsEvent:       time.Unix(1, 0).UTC(),
		},
	}
}

// --- Ingest + query tests ---

func TestIngest_OrderEventStoresOrderAndPosition(t *testing.T) {
	_, ms, router := newTestEnv(t, nil)
	seed(t, router)

	if _, err := ms.GetOrder(context.Background(), "O-T1"); err != nil {
		t.Errorf("expected order saved: %v", err)
	}
	w := do(t, router, "GET", "/api/v1/positions/P-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var p position.Position
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if !p.NetQty.Equal(d("100000")) {
		t.Errorf("expected net 100000, got %s", p.NetQty)
	}
}

func TestIngest_UnknownKind(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	if w := do(t, router, "POST", "/api/v1/events/bar", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestIngest_InvalidAccountState(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	body := model.AccountState{
		AccountID: model.NewAccountID("SIM", "001"),
		Balances: []model.AccountBalance{{
			Currency: money.USD,
			Total:    money.MustParse("10", money.USD),
			Locked:   money.MustParse("1", money.USD),
			Free:     money.MustParse("1", money.USD),
		}},
	}
	if w := do(t, router, "POST", "/api/v1/events/account_state", body); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetInstrument(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	seed(t, router)

	w := do(t, router, "GET", "/api/v1/instrument?id="+url.QueryEscape("AUD/USD.SIM"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report api.InstrumentReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if !report.NetPosition.Equal(d("100000")) || report.Flat {
		t.Errorf("unexpected net position %s", report.NetPosition)
	}
	if report.NetExposure == nil || !report.NetExposure.Equal(money.MustParse("80501", money.USD)) {
		t.Errorf("expected exposure 80501 USD, got %v", report.NetExposure)
	}
	if report.UnrealizedPnL == nil || !report.UnrealizedPnL.Equal(money.MustParse("-19499", money.USD)) {
		t.Errorf("expected pnl -19499 USD, got %v", report.UnrealizedPnL)
	}
	if report.Quote == nil || len(report.Positions) != 1 {
		t.Errorf("expected quote and one position, got %+v", report)
	}
}

func TestGetInstrument_Errors(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	if w := do(t, router, "GET", "/api/v1/instrument?id=garbage", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w := do(t, router, "GET", "/api/v1/instrument?id="+url.QueryEscape("EUR/USD.SIM"), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetInstrument_UnresolvedIsNull(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	w := do(t, router, "GET", "/api/v1/instrument?id="+url.QueryEscape("AUD/USD.SIM"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"unrealized_pnl":null`) {
		t.Errorf("expected null pnl without an account, got %s", w.Body.String())
	}
}

func TestVenueQueries(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	seed(t, router)

	w := do(t, router, "GET", "/api/v1/venues/SIM/exposures", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"USD":{"amount":"80501"`) {
		t.Errorf("unexpected exposures %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/venues/SIM/margins", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var margins api.MarginsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &margins); err != nil {
		t.Fatal(err)
	}
	if !margins.Maint[money.USD].Equal(money.MustParse("2415.03", money.USD)) {
		t.Errorf("expected maint 2415.03 USD, got %v", margins.Maint)
	}
	if len(margins.Initial) != 0 {
		t.Errorf("expected no initial margin, got %v", margins.Initial)
	}

	w = do(t, router, "GET", "/api/v1/accounts/SIM", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"account_id":"SIM-001"`) {
		t.Errorf("unexpected account %d: %s", w.Code, w.Body.String())
	}
}

func TestVenueQueries_UnknownAccount(t *testing.T) {
	_, _, router := newTestEnv(t, nil)

	w := do(t, router, "GET", "/api/v1/venues/SIM/pnls", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"unrealized_pnl":{}`) {
		t.Errorf("expected empty pnls, got %d: %s", w.Code, w.Body.String())
	}
	for _, path := range []string{"/api/v1/venues/SIM/exposures", "/api/v1/venues/SIM/margins", "/api/v1/accounts/SIM"} {
		if w := do(t, router, "GET", path, nil); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestGetFlat(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	w := do(t, router, "GET", "/api/v1/flat", nil)
	var resp map[string]bool
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp["completely_flat"] || resp["initialized"] {
		t.Errorf("unexpected flat response %v", resp)
	}

	seed(t, router)
	w = do(t, router, "GET", "/api/v1/flat", nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["completely_flat"] {
		t.Error("expected not flat after fill")
	}
}

func TestGetPosition_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	if w := do(t, router, "GET", "/api/v1/positions/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Risk check tests ---

func TestCheckRisk(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	seed(t, router)

	ok := risk.Request{InstrumentID: audusd.ID, Side: model.Sell, Quantity: money.MustQuantity("50000")}
	if w := do(t, router, "POST", "/api/v1/risk/check", ok); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 150000 x 0.80505 = 120757.50 > 100000.
	tooBig := risk.Request{InstrumentID: audusd.ID, Side: model.Buy, Quantity: money.MustQuantity("50000")}
	w := do(t, router, "POST", "/api/v1/risk/check", tooBig)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.RiskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Allowed || !strings.Contains(resp.Reason, "instrument exposure limit") {
		t.Errorf("unexpected response %+v", resp)
	}

	bad := risk.Request{InstrumentID: model.MustInstrumentID("EUR/USD.SIM"), Side: model.Buy, Quantity: money.MustQuantity("1")}
	if w := do(t, router, "POST", "/api/v1/risk/check", bad); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// --- WebSocket feed ---

func TestWSHub_BroadcastsPositionEvents(t *testing.T) {
	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Clients())
	}

	_, _, router := newTestEnv(t, hub)
	seed(t, router)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg api.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "position_opened" || msg.PositionID != "P-1" || msg.NetQty != "100000" {
		t.Errorf("unexpected message %+v", msg)
	}
}
