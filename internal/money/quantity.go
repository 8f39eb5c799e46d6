package money

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCurrency is returned when a currency code is not in the table.
	ErrUnknownCurrency = errors.New("money: unknown currency")

	// ErrNegativeQuantity is returned when a quantity below zero is parsed.
	ErrNegativeQuantity = errors.New("money: quantity must not be negative")

	// ErrInvalidDecimal is returned for unparsable price or quantity strings.
	ErrInvalidDecimal = errors.New("money: invalid decimal")
)

// Price is an exact instrument price. Prices may be negative (spreads).
type Price struct {
	v decimal.Decimal
}

// NewPrice wraps a decimal price.
func NewPrice(v decimal.Decimal) Price { return Price{v: v} }

// ParsePrice parses a decimal string such as "1.30315".
func ParsePrice(s string) (Price, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("%w: price %q", ErrInvalidDecimal, s)
	}
	return Price{v: v}, nil
}

// MustPrice parses s and panics on error.
func MustPrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Price) Decimal() decimal.Decimal { return p.v }
func (p Price) IsZero() bool             { return p.v.IsZero() }
func (p Price) IsPositive() bool         { return p.v.IsPositive() }
func (p Price) Equal(o Price) bool       { return p.v.Equal(o.v) }
func (p Price) String() string           { return p.v.String() }

func (p Price) MarshalJSON() ([]byte, error) { return json.Marshal(p.v) }

func (p *Price) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.v)
}

// Quantity is an exact, non-negative order or position size.
type Quantity struct {
	v decimal.Decimal
}

// NewQuantity wraps v, rejecting negative sizes.
func NewQuantity(v decimal.Decimal) (Quantity, error) {
	if v.IsNegative() {
		return Quantity{}, fmt.Errorf("%w: %s", ErrNegativeQuantity, v)
	}
	return Quantity{v: v}, nil
}

// ParseQuantity parses a decimal string such as "10.5".
func ParseQuantity(s string) (Quantity, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, fmt.Errorf("%w: quantity %q", ErrInvalidDecimal, s)
	}
	return NewQuantity(v)
}

// MustQuantity parses s and panics on error.
func MustQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

func (q Quantity) Decimal() decimal.Decimal { return q.v }
func (q Quantity) IsZero() bool             { return q.v.IsZero() }
func (q Quantity) Equal(o Quantity) bool    { return q.v.Equal(o.v) }
func (q Quantity) String() string           { return q.v.String() }

func (q Quantity) MarshalJSON() ([]byte, error) { return json.Marshal(q.v) }

func (q *Quantity) UnmarshalJSON(data []byte) error {
	var v decimal.Decimal
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := NewQuantity(v)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}
