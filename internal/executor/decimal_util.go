package executor

import "github.com/shopspring/decimal"

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// priceDrift computes the relative drift of live against intended:
// |p_live - intent.intended_price| / intent.intended_price.
func priceDrift(livePrice float64, intendedPrice decimal.Decimal) decimal.Decimal {
	live := decimalFromFloat(livePrice)
	if intendedPrice.IsZero() {
		return decimal.Zero
	}
	return live.Sub(intendedPrice).Abs().Div(intendedPrice)
}
