package ingest

import "github.com/shopspring/decimal"

// decimalFromFloat converts a float64 price/size field from an upstream
// payload into decimal.Decimal. Upstream APIs in this domain hand back
// trade prices and sizes as JSON numbers; this is the single conversion
// point so rounding behavior stays consistent across the stream and poll
// paths.
func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
