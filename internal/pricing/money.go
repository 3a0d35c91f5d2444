package pricing

import "math"

// TroyOunceGrams is the weight of one troy ounce in grams. Every gram/ounce
// conversion in the codebase must go through this constant; a rounded variant
// in one call site would drift prices against the others.
const TroyOunceGrams = 31.1034768

// Round2 rounds a USD amount to 2 fractional digits, half away from zero.
func Round2(usd float64) float64 {
	return math.Round(usd*100) / 100
}

// Round3 rounds a gram weight to 3 fractional digits, half away from zero.
func Round3(grams float64) float64 {
	return math.Round(grams*1000) / 1000
}

// Cents converts a USD amount to integer cents for the payment processor.
func Cents(usd float64) int64 {
	return int64(math.Round(usd * 100))
}
