package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidInstrumentID = errors.New("model: invalid instrument id")
	ErrInvalidAccountID    = errors.New("model: invalid account id")
)

// Venue identifies a trading venue, e.g. SIM, BINANCE, BETFAIR.
type Venue string

func (v Venue) String() string { return string(v) }

// instrumentIDRegex matches: {symbol}.{VENUE}
// The venue is everything after the last dot, so betting market symbols
// such as "1.179082386-50214-0.0" keep their inner dots.
var instrumentIDRegex = regexp.MustCompile(`^(.+)\.([A-Z][A-Z0-9_]*)$`)

// InstrumentID identifies an instrument on a venue. It is comparable and
// safe to use as a map key.
type InstrumentID struct {
	Symbol string
	Venue  Venue
}

// NewInstrumentID builds an id from its parts.
func NewInstrumentID(symbol string, venue Venue) InstrumentID {
	return InstrumentID{Symbol: symbol, Venue: venue}
}

// ParseInstrumentID parses "AUD/USD.SIM" style identifiers.
func ParseInstrumentID(s string) (InstrumentID, error) {
	m := instrumentIDRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return InstrumentID{}, fmt.Errorf("%w: %q (expected {symbol}.{VENUE})", ErrInvalidInstrumentID, s)
	}
	return InstrumentID{Symbol: m[1], Venue: Venue(m[2])}, nil
}

// MustInstrumentID parses s and panics on error.
func MustInstrumentID(s string) InstrumentID {
	id, err := ParseInstrumentID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id InstrumentID) String() string { return id.Symbol + "." + string(id.Venue) }
func (id InstrumentID) IsZero() bool   { return id.Symbol == "" && id.Venue == "" }

func (id InstrumentID) MarshalJSON() ([]byte, error) { return json.Marshal(id.String()) }

func (id *InstrumentID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseInstrumentID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AccountID identifies an account: the issuer (venue) and the account
// number at that issuer, rendered "BINANCE-01234".
type AccountID struct {
	Issuer string
	Number string
}

// NewAccountID builds an account id from its parts.
func NewAccountID(issuer, number string) AccountID {
	return AccountID{Issuer: issuer, Number: number}
}

// ParseAccountID parses "ISSUER-NUMBER". The number may itself contain dashes.
func ParseAccountID(s string) (AccountID, error) {
	issuer, number, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok || issuer == "" || number == "" {
		return AccountID{}, fmt.Errorf("%w: %q (expected {ISSUER}-{number})", ErrInvalidAccountID, s)
	}
	return AccountID{Issuer: issuer, Number: number}, nil
}

// Venue returns the venue the account is held at.
func (id AccountID) Venue() Venue   { return Venue(id.Issuer) }
func (id AccountID) String() string { return id.Issuer + "-" + id.Number }

func (id AccountID) MarshalJSON() ([]byte, error) { return json.Marshal(id.String()) }

func (id *AccountID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAccountID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PositionID identifies a position. Several positions may exist per
// instrument (hedging accounts).
type PositionID string

// StrategyID identifies the strategy that owns orders and positions.
type StrategyID string

// ClientOrderID identifies an order.
type ClientOrderID string

// TradeID identifies a single execution at the venue.
type TradeID string
