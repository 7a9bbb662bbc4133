// Package money implements the fixed-point price type shared by the
// order book, the executor, and the option pricer. Kalshi quotes
// prices in dollars to four decimal places; we never let that
// arithmetic touch a float so book-key equality and ordering stay
// exact.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// scale is the quantization unit: one ten-thousandth of a dollar.
const scale = 4

// one represents $1.00, the upper bound of a binary contract's price
// space (the complement of $0.00).
var one = decimal.New(1, 0)

// FixedPrice is a value quantized to four decimal places; prices built
// with New or FromString, and arithmetic results, are clamped to
// [0.0000, 1.0000] (FromCents is the unclamped exception). Two FixedPrice values are equal iff their underlying decimal
// representations are equal after rounding, so they can be used as
// map keys without float drift.
type FixedPrice struct {
	d decimal.Decimal
}

// New quantizes v to four decimal places and clamps it to [0, 1].
func New(v float64) FixedPrice {
	d := decimal.NewFromFloat(v).Round(scale)
	return clamp(d)
}

// FromString parses a decimal string (e.g. "0.4200") into a FixedPrice.
func FromString(s string) (FixedPrice, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return FixedPrice{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return clamp(d.Round(scale)), nil
}

// FromCents converts an integer cent amount (as Kalshi's balance
// endpoint reports) into dollars. Unlike New and FromString, the
// result is not clamped to [0, 1], since dollar amounts such as fees
// on many contracts can exceed one dollar.
func FromCents(cents int64) FixedPrice {
	return FixedPrice{d: decimal.New(cents, -2).Round(scale)}
}

func clamp(d decimal.Decimal) FixedPrice {
	if d.IsNegative() {
		d = decimal.Zero
	}
	if d.GreaterThan(one) {
		d = one
	}
	return FixedPrice{d: d}
}

// Zero is $0.0000.
var Zero = FixedPrice{d: decimal.Zero}

// One is $1.0000.
var One = FixedPrice{d: one}

// Complement returns 1 - p, quantized the same way. Buying NO at q is
// economically equivalent to shorting YES at q.Complement().
func (p FixedPrice) Complement() FixedPrice {
	return clamp(one.Sub(p.d).Round(scale))
}

// Add returns p + q, quantized.
func (p FixedPrice) Add(q FixedPrice) FixedPrice {
	return clamp(p.d.Add(q.d).Round(scale))
}

// Sub returns p - q, quantized and clamped at zero.
func (p FixedPrice) Sub(q FixedPrice) FixedPrice {
	return clamp(p.d.Sub(q.d).Round(scale))
}

// Mul returns p * f, quantized.
func (p FixedPrice) Mul(f float64) FixedPrice {
	return clamp(p.d.Mul(decimal.NewFromFloat(f)).Round(scale))
}

// Div returns p / f, quantized. Division by zero returns Zero.
func (p FixedPrice) Div(f float64) FixedPrice {
	if f == 0 {
		return Zero
	}
	return clamp(p.d.Div(decimal.NewFromFloat(f)).Round(scale))
}

// Cmp returns -1, 0, or 1 as p is less than, equal to, or greater
// than q, matching decimal.Decimal.Cmp.
func (p FixedPrice) Cmp(q FixedPrice) int {
	return p.d.Cmp(q.d)
}

// LessThan reports whether p < q.
func (p FixedPrice) LessThan(q FixedPrice) bool { return p.Cmp(q) < 0 }

// GreaterThan reports whether p > q.
func (p FixedPrice) GreaterThan(q FixedPrice) bool { return p.Cmp(q) > 0 }

// Equal reports whether p == q after quantization.
func (p FixedPrice) Equal(q FixedPrice) bool { return p.Cmp(q) == 0 }

// Float64 returns the value as a float64, for logging and pricing
// math that is inherently floating point (Black-Scholes, volatility).
func (p FixedPrice) Float64() float64 {
	f, _ := p.d.Float64()
	return f
}

// String renders the price with four decimal places.
func (p FixedPrice) String() string {
	return p.d.StringFixed(scale)
}

// Key returns a value suitable for use as a map key (decimal.Decimal
// is not comparable with == reliably across differing internal
// representations of the same value, so we key on the canonical
// string form).
func (p FixedPrice) Key() string {
	return p.d.StringFixed(scale)
}
