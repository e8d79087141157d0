package rebate

import "github.com/shopspring/decimal"

var (
	lotsThreshold = decimal.NewFromInt(100)
	lotsDivisor   = decimal.NewFromInt(10000)
)

// NormalizeLots converts a raw bridge volume into standard lots. Values below
// 100 are already lots; anything else is the hundredths encoding and is
// divided by 10000.
func NormalizeLots(raw decimal.Decimal) decimal.Decimal {
	if raw.LessThan(lotsThreshold) {
		return raw
	}
	return raw.Div(lotsDivisor)
}
