package domain

import (
	"github.com/shopspring/decimal"
)

// SettlementCurrency is the only currency the service charges in.
const SettlementCurrency = "RUB"

// LineTotal returns price * quantity.
func LineTotal(price decimal.Decimal, quantity int64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity))
}

// OrderTotal sums priced lines and rounds to kopecks.
func OrderTotal(lines []PricedLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(LineTotal(l.Price, l.Quantity))
	}
	return total.Round(2)
}

type PricedLine struct {
	Price    decimal.Decimal
	Quantity int64
}
