// Package api provides the HTTP handlers for querying the portfolio,
// ingesting events onto the bus and running pre-trade risk checks.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/account"
	"github.com/atmx/portfolio-engine/internal/bus"
	"github.com/atmx/portfolio-engine/internal/instrument"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
	"github.com/atmx/portfolio-engine/internal/position"
	"github.com/atmx/portfolio-engine/internal/risk"
	"github.com/atmx/portfolio-engine/internal/store"
)

// Portfolio is the query surface the handlers read.
type Portfolio interface {
	Account(venue model.Venue) (account.Account, bool)
	Initialized() bool
	IsCompletelyFlat() bool
	NetPosition(id model.InstrumentID) decimal.Decimal
	OpenPositions(id model.InstrumentID) []position.Position
	Quote(id model.InstrumentID) (model.QuoteTick, bool)
	UnrealizedPnL(id model.InstrumentID) (money.Money, bool)
	UnrealizedPnLs(venue model.Venue) map[money.Currency]money.Money
	NetExposure(id model.InstrumentID) (money.Money, bool)
	NetExposures(venue model.Venue) (map[money.Currency]money.Money, bool)
	RealizedPnL(id model.InstrumentID) (money.Money, bool)
	InitialMargins(venue model.Venue) (map[money.Currency]money.Money, bool)
	MaintMargins(venue model.Venue) (map[money.Currency]money.Money, bool)
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	TryPublish(e bus.Event) error
}

// Service serves the portfolio API.
type Service struct {
	portfolio   Portfolio
	instruments *instrument.Registry
	orders      store.Store // order upserts for ingested order events
	history     store.Store // position reads
	publisher   Publisher
	limiter     *risk.Limiter
}

// NewService creates the API service. orders receives the order carried by
// every ingested order event before the event is published, so the
// portfolio reads it when recomputing margins. history serves position
// lookups.
func NewService(p Portfolio, instruments *instrument.Registry, orders, history store.Store, pub Publisher, limiter *risk.Limiter) *Service {
	return &Service{
		portfolio:   p,
		instruments: instruments,
		orders:      orders,
		history:     history,
		publisher:   pub,
		limiter:     limiter,
	}
}

// Routes registers the API routes on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/accounts/{venue}", s.GetAccount)
	r.Get("/venues/{venue}/pnls", s.GetUnrealizedPnLs)
	r.Get("/venues/{venue}/exposures", s.GetExposures)
	r.Get("/venues/{venue}/margins", s.GetMargins)
	r.Get("/instrument", s.GetInstrument)
	r.Get("/flat", s.GetFlat)
	r.Get("/positions/{positionID}", s.GetPosition)
	r.Post("/events/{kind}", s.IngestEvent)
	r.Post("/risk/check", s.CheckRisk)
}

// --- Response types ---

// InstrumentReport is the point-in-time view of one instrument.
type InstrumentReport struct {
	InstrumentID  string              `json:"instrument_id"`
	NetPosition   decimal.Decimal     `json:"net_position"`
	Flat          bool                `json:"flat"`
	UnrealizedPnL *money.Money        `json:"unrealized_pnl"`
	NetExposure   *money.Money        `json:"net_exposure"`
	RealizedPnL   *money.Money        `json:"realized_pnl"`
	Quote         *model.QuoteTick    `json:"quote,omitempty"`
	Positions     []position.Position `json:"positions"`
}

// MarginsResponse is the margin usage of a venue's account.
type MarginsResponse struct {
	Venue   string                         `json:"venue"`
	Initial map[money.Currency]money.Money `json:"initial"`
	Maint   map[money.Currency]money.Money `json:"maint"`
}

// RiskResponse is the result of a pre-trade check.
type RiskResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// --- HTTP Handlers ---

// GetAccount handles GET /api/v1/accounts/{venue}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	venue := model.Venue(chi.URLParam(r, "venue"))

	acc, ok := s.portfolio.Account(venue)
	if !ok {
		writeError(w, "no account for venue "+venue.String(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GetUnrealizedPnLs handles GET /api/v1/venues/{venue}/pnls
// An unknown account yields an empty map.
func (s *Service) GetUnrealizedPnLs(w http.ResponseWriter, r *http.Request) {
	venue := model.Venue(chi.URLParam(r, "venue"))
	writeJSON(w, http.StatusOK, map[string]any{
		"venue":          venue,
		"unrealized_pnl": s.portfolio.UnrealizedPnLs(venue),
	})
}

// GetExposures handles GET /api/v1/venues/{venue}/exposures
func (s *Service) GetExposures(w http.ResponseWriter, r *http.Request) {
	venue := model.Venue(chi.URLParam(r, "venue"))

	exposures, ok := s.portfolio.NetExposures(venue)
	if !ok {
		writeError(w, "no account for venue "+venue.String(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"venue":        venue,
		"net_exposure": exposures,
	})
}

// GetMargins handles GET /api/v1/venues/{venue}/margins
func (s *Service) GetMargins(w http.ResponseWriter, r *http.Request) {
	venue := model.Venue(chi.URLParam(r, "venue"))

	initial, ok := s.portfolio.InitialMargins(venue)
	if !ok {
		writeError(w, "no account for venue "+venue.String(), http.StatusNotFound)
		return
	}
	maint, _ := s.portfolio.MaintMargins(venue)
	writeJSON(w, http.StatusOK, MarginsResponse{Venue: venue.String(), Initial: initial, Maint: maint})
}

// GetInstrument handles GET /api/v1/instrument?id=AUD/USD.SIM
// Figures that cannot be resolved are null.
func (s *Service) GetInstrument(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseInstrumentID(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := s.instruments.Get(id); !ok {
		writeError(w, "instrument not registered: "+id.String(), http.StatusNotFound)
		return
	}

	net := s.portfolio.NetPosition(id)
	report := InstrumentReport{
		InstrumentID:  id.String(),
		NetPosition:   net,
		Flat:          net.IsZero(),
		UnrealizedPnL: optional(s.portfolio.UnrealizedPnL(id)),
		NetExposure:   optional(s.portfolio.NetExposure(id)),
		RealizedPnL:   optional(s.portfolio.RealizedPnL(id)),
		Positions:     s.portfolio.OpenPositions(id),
	}
	if q, ok := s.portfolio.Quote(id); ok {
		report.Quote = &q
	}
	writeJSON(w, http.StatusOK, report)
}

func optional(m money.Money, ok bool) *money.Money {
	if !ok {
		return nil
	}
	return &m
}

// GetFlat handles GET /api/v1/flat
func (s *Service) GetFlat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"completely_flat": s.portfolio.IsCompletelyFlat(),
		"initialized":     s.portfolio.Initialized(),
	})
}

// GetPosition handles GET /api/v1/positions/{positionID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := model.PositionID(chi.URLParam(r, "positionID"))

	p, err := s.history.GetPosition(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("get position failed", "position_id", id, "err", err)
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// IngestEvent handles POST /api/v1/events/{kind}
// kind is one of account_state, order, position or quote_tick.
func (s *Service) IngestEvent(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	e, err := s.decodeEvent(r, kind)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if oe, ok := e.(model.OrderEvent); ok && oe.Order.ClientOrderID != "" {
		if err := store.SaveOrder(r.Context(), s.orders, &oe.Order); err != nil {
			slog.Error("save order failed", "client_order_id", oe.Order.ClientOrderID, "err", err)
			writeError(w, "failed to save order", http.StatusInternalServerError)
			return
		}
	}

	if err := s.publisher.TryPublish(e); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, bus.ErrNoTopic) {
			status = http.StatusBadRequest
		}
		writeError(w, err.Error(), status)
		return
	}

	slog.Debug("event accepted", "kind", string(e.Kind()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "kind": string(e.Kind())})
}

var errUnknownKind = errors.New("unknown event kind")

func (s *Service) decodeEvent(r *http.Request, kind string) (bus.Event, error) {
	dec := json.NewDecoder(r.Body)
	switch kind {
	case "account_state":
		var e model.AccountState
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		if e.EventID == uuid.Nil {
			e.EventID = model.NewEventID()
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		return e, nil
	case "order":
		var e model.OrderEvent
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		if e.EventID == uuid.Nil {
			e.EventID = model.NewEventID()
		}
		return e, nil
	case "position":
		var e position.Event
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		if e.EventID == uuid.Nil {
			e.EventID = model.NewEventID()
		}
		return e, nil
	case "quote_tick":
		var e model.QuoteTick
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, errUnknownKind
	}
}

// CheckRisk handles POST /api/v1/risk/check
func (s *Service) CheckRisk(w http.ResponseWriter, r *http.Request) {
	var req risk.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.limiter.Check(req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, RiskResponse{Allowed: true})
	case errors.Is(err, risk.ErrInvalidRequest), errors.Is(err, instrument.ErrNotFound):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusConflict, RiskResponse{Allowed: false, Reason: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
