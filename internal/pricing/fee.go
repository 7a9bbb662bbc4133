package pricing

import (
	"math"

	"kalshi-binary-trader/internal/money"
)

// takerFeeRate is Kalshi's published per-contract taker fee rate.
// Grounded on other_examples/d1ab7b54_sdibella-kalshi-btc15m's
// TakerFee formula: fee = ceil(0.07 * contracts * P * (1-P) * 100)
// cents, where P is the yes price as a fraction of a dollar.
const takerFeeRate = 0.07

// TakerFee returns the taker fee, in dollars, for a count-contract
// order at the given yes price. Kalshi rounds fees up to the next
// whole cent.
func TakerFee(count int, yesPrice money.FixedPrice) money.FixedPrice {
	p := yesPrice.Float64()
	cents := math.Ceil(takerFeeRate * float64(count) * p * (1 - p) * 100)
	return money.FromCents(int64(cents))
}

// MakerFee is always zero: Kalshi does not charge resting-order
// makers a fee.
func MakerFee(count int, yesPrice money.FixedPrice) money.FixedPrice {
	return money.Zero
}
