package domain

import "github.com/shopspring/decimal"

type Product struct {
	ID    int64
	Price decimal.Decimal
}

// LineItem is one row of a purchase request. It is never persisted.
type LineItem struct {
	ProductID int64
	Quantity  int64
}
