package aggregation

import "github.com/shopspring/decimal"

const ratePrecision = 2

var hundred = decimal.NewFromInt(100)

// Rate returns numerator/denominator as a percentage rounded half-up to two
// decimals. A zero or negative denominator yields 0.
// Arithmetic is exact in decimal; the float conversion happens once at the end.
func Rate(numerator, denominator int64) float64 {
	if denominator <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(numerator).
		Mul(hundred).
		Div(decimal.NewFromInt(denominator)).
		Round(ratePrecision)
	f, _ := pct.Float64()
	return f
}
