package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AveragePrice is the quantity-weighted cost basis after buying qty shares at
// price on top of an existing position. The exact quotient is rounded half
// up (half away from zero) to a whole currency unit.
func AveragePrice(oldAvg, oldQty, price, qty int64) int64 {
	if oldQty <= 0 {
		return price
	}
	cost := decimal.NewFromInt(oldAvg).Mul(decimal.NewFromInt(oldQty)).
		Add(decimal.NewFromInt(price).Mul(decimal.NewFromInt(qty)))
	return cost.Div(decimal.NewFromInt(oldQty + qty)).Round(0).IntPart()
}

// Interest is floor(balance * ratePercent / 100). Non-positive inputs earn nothing.
func Interest(balance int64, ratePercent decimal.Decimal) int64 {
	if balance <= 0 || !ratePercent.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(balance).Mul(ratePercent).Div(hundred).Floor().IntPart()
}

// tradeValue returns price*qty, or false when it does not fit in an int64
func tradeValue(price, qty int64) (int64, bool) {
	if price <= 0 || qty <= 0 {
		return 0, false
	}
	if qty > math.MaxInt64/price {
		return 0, false
	}
	return price * qty, true
}

// addBalance returns a+b, or false on overflow
func addBalance(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
