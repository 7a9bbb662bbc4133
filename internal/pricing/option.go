// Package pricing implements the two pure-function collaborators
// OptionsExecutor relies on: the Black-Scholes binary option price
// and the Kalshi taker-fee schedule. No example in the retrieval pack
// implements options pricing, so this is new code built directly from
// spec §4.6's formula using the standard library's math package.
package pricing

import "math"

// sqrt2 is used to express the standard normal CDF via math.Erf,
// since the standard library has no Φ directly.
var sqrt2 = math.Sqrt(2)

// normalCDF returns Φ(x), the standard normal cumulative distribution
// function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/sqrt2))
}

// Price computes the Black-Scholes price of a binary (cash-or-nothing)
// option paying $1 if the underlying finishes above strike at expiry.
// t is time to expiry in years, sigma is annualized volatility, r is
// the risk-free rate (0 for this system). Price is undefined when
// t <= 0 or sigma <= 0 — callers must guard those cases before
// calling.
func Price(spot, strike, t, sigma, r float64) float64 {
	d2 := (math.Log(spot/strike) + (r-sigma*sigma/2)*t) / (sigma * math.Sqrt(t))
	return math.Exp(-r*t) * normalCDF(d2)
}
