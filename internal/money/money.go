// Package money provides the exact-decimal value types used throughout the
// portfolio engine: currency-tagged Money, Price and Quantity.
//
// All monetary values use shopspring/decimal, never float64 for money.
// Currency metadata (fraction digits, display format) comes from
// Rhymond/go-money so ISO currencies need no local table.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 (or registered crypto) currency code.
type Currency string

// Frequently used currencies.
const (
	AUD  Currency = "AUD"
	EUR  Currency = "EUR"
	GBP  Currency = "GBP"
	JPY  Currency = "JPY"
	USD  Currency = "USD"
	BTC  Currency = "BTC"
	XBT  Currency = "XBT"
	ETH  Currency = "ETH"
	USDT Currency = "USDT"
	USDC Currency = "USDC"
)

// cryptoPrecision is the number of fraction digits used for digital assets.
const cryptoPrecision = 8

func init() {
	for _, code := range []Currency{BTC, XBT, ETH, USDT, USDC} {
		if gomoney.GetCurrency(string(code)) == nil {
			gomoney.AddCurrency(string(code), string(code)+" ", "$1", ".", ",", cryptoPrecision)
		}
	}
}

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return c, nil
}

// Valid reports whether the currency is known to the currency table.
func (c Currency) Valid() bool {
	return c != "" && gomoney.GetCurrency(string(c)) != nil
}

// Precision returns the number of fraction digits of the currency.
// Unknown currencies keep full precision of 8 digits.
func (c Currency) Precision() int32 {
	if cur := gomoney.GetCurrency(string(c)); cur != nil {
		return int32(cur.Fraction)
	}
	return cryptoPrecision
}

func (c Currency) String() string { return string(c) }

// Money is an exact amount in a single currency.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// New returns amount rounded half-even to the currency precision.
func New(amount decimal.Decimal, currency Currency) Money {
	return Money{amount: amount.RoundBank(currency.Precision()), currency: currency}
}

// Zero returns a zero amount in currency.
func Zero(currency Currency) Money {
	return Money{currency: currency}
}

// MustParse parses "<amount>" into Money and panics on error. Test helper.
func MustParse(amount string, currency Currency) Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	return New(d, currency)
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() Currency      { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsPositive() bool        { return m.amount.IsPositive() }
func (m Money) IsNegative() bool        { return m.amount.IsNegative() }
func (m Money) Neg() Money              { return Money{amount: m.amount.Neg(), currency: m.currency} }
func (m Money) Abs() Money              { return Money{amount: m.amount.Abs(), currency: m.currency} }

// Equal reports whether both amount and currency match.
func (m Money) Equal(n Money) bool {
	return m.currency == n.currency && m.amount.Equal(n.amount)
}

func (m Money) Add(n Money) Money { return Money{amount: m.amount.Add(n.amount), currency: cur(m, n)} }
func (m Money) Sub(n Money) Money { return Money{amount: m.amount.Sub(n.amount), currency: cur(m, n)} }

func (m Money) LessThan(n Money) bool    { cur(m, n); return m.amount.LessThan(n.amount) }
func (m Money) GreaterThan(n Money) bool { cur(m, n); return m.amount.GreaterThan(n.amount) }

// cur makes the empty currency weak so a zero Money{} can seed a sum.
func cur(a, b Money) Currency {
	if a.currency == "" {
		return b.currency
	}
	if b.currency == "" {
		return a.currency
	}
	if a.currency != b.currency {
		panic("money: currency mismatch " + string(a.currency) + " != " + string(b.currency))
	}
	return a.currency
}

// String renders the amount with the currency precision, e.g. "105.10 USD".
func (m Money) String() string {
	return m.amount.StringFixed(m.currency.Precision()) + " " + string(m.currency)
}

// Display renders the amount with the currency's symbol and separators.
func (m Money) Display() string {
	cur := gomoney.GetCurrency(string(m.currency))
	if cur == nil {
		return m.String()
	}
	minor := m.amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Currency != "" && !raw.Currency.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, raw.Currency)
	}
	*m = New(raw.Amount, raw.Currency)
	return nil
}

// Sum adds amounts per currency. Zero totals are kept.
func Sum(into map[Currency]Money, m Money) {
	into[m.currency] = into[m.currency].Add(m)
}
