package order

import "github.com/shopspring/decimal"

// Deal sizes arrive from venue adapters that round at different scales, so
// every size/price comparison in reconciliation is tolerant.
var epsilon = decimal.New(1, -8)

func approxZero(d decimal.Decimal) bool {
	return d.Abs().Cmp(epsilon) < 0
}

func approxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(epsilon) < 0
}

func definitelyGreater(a, b decimal.Decimal) bool {
	return a.Sub(b).Cmp(epsilon) > 0
}

func definitelyLess(a, b decimal.Decimal) bool {
	return b.Sub(a).Cmp(epsilon) > 0
}
