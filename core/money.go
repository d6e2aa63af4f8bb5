/*
Package core provides the money, date, and calendar primitives shared by
the reconciliation engine.

PURPOSE:
  Every monetary amount in the engine flows through Money, every date
  through DatePoint, and every day-count through Calendar. Keeping these
  in one leaf package means the billing, payment, and amortization
  packages never touch decimal.Decimal or time.Time directly for domain
  values.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: an immutable amount with a currency code
  - All arithmetic returns new values; nothing mutates in place

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 arithmetic
  2. Immutability: Money values are never modified after construction
  3. Rounding is explicit: callers decide when to Round(2)

SEE ALSO:
  - date.go: DatePoint and date arithmetic
  - calendar.go: day-count conventions used by interest accrual
*/
package core

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Immutable amount with currency
// =============================================================================

type Money struct {
	value    decimal.Decimal
	currency string
}

const DefaultCurrency = "USD"

func NewMoney(value float64) Money {
	return Money{value: decimal.NewFromFloat(value), currency: DefaultCurrency}
}

func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money{value: d, currency: DefaultCurrency}
}

func NewMoneyWithCurrency(value float64, currency string) Money {
	return Money{value: decimal.NewFromFloat(value), currency: currency}
}

func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money value %q: %w", s, err)
	}
	return Money{value: d, currency: DefaultCurrency}, nil
}

func ZeroMoney() Money {
	return Money{value: decimal.Zero, currency: DefaultCurrency}
}

// Decimal exposes the underlying value for rate math.
func (m Money) Decimal() decimal.Decimal { return m.value }
func (m Money) Currency() string {
	if m.currency == "" {
		return DefaultCurrency
	}
	return m.currency
}

// Arithmetic
func (m Money) Add(other Money) Money            { return Money{value: m.value.Add(other.value), currency: m.Currency()} }
func (m Money) Sub(other Money) Money            { return Money{value: m.value.Sub(other.value), currency: m.Currency()} }
func (m Money) Mul(factor decimal.Decimal) Money { return Money{value: m.value.Mul(factor), currency: m.Currency()} }
func (m Money) Div(divisor decimal.Decimal) Money {
	return Money{value: m.value.Div(divisor), currency: m.Currency()}
}
func (m Money) Neg() Money { return Money{value: m.value.Neg(), currency: m.Currency()} }

// Comparison
func (m Money) Cmp(other Money) int              { return m.value.Cmp(other.value) }
func (m Money) Equal(other Money) bool           { return m.value.Equal(other.value) }
func (m Money) GreaterThan(other Money) bool     { return m.value.GreaterThan(other.value) }
func (m Money) LessThan(other Money) bool        { return m.value.LessThan(other.value) }
func (m Money) GreaterOrEqual(other Money) bool  { return !m.value.LessThan(other.value) }
func (m Money) LessOrEqual(other Money) bool     { return !m.value.GreaterThan(other.value) }
func (m Money) Min(other Money) Money {
	if m.LessThan(other) {
		return m
	}
	return other
}
func (m Money) Max(other Money) Money {
	if m.GreaterThan(other) {
		return m
	}
	return other
}

// Predicates
func (m Money) IsZero() bool     { return m.value.IsZero() }
func (m Money) IsNegative() bool { return m.value.IsNegative() }
func (m Money) IsPositive() bool { return m.value.IsPositive() }

// Round returns the amount rounded half-up to the given decimal places.
func (m Money) Round(places int32) Money {
	return Money{value: m.value.Round(places), currency: m.Currency()}
}

// RoundCents rounds to two decimal places, the engine's ledger precision.
func (m Money) RoundCents() Money { return m.Round(2) }

// RoundDown truncates toward zero at the given decimal places. Used when
// splitting an amount into equal shares so the remainder is surfaced
// instead of invented.
func (m Money) RoundDown(places int32) Money {
	return Money{value: m.value.RoundDown(places), currency: m.Currency()}
}

// ToNumber returns a float64 approximation. Display only, never feed the
// result back into arithmetic.
func (m Money) ToNumber() float64 { return m.value.InexactFloat64() }

func (m Money) String() string { return m.value.StringFixed(2) }

// =============================================================================
// JSON ROUND-TRIP
// =============================================================================

type moneyJSON struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Value: m.value.String(), Currency: m.Currency()})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := decimal.NewFromString(raw.Value)
	if err != nil {
		return fmt.Errorf("invalid money value %q: %w", raw.Value, err)
	}
	m.value = d
	m.currency = raw.Currency
	return nil
}
