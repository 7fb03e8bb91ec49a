package domain

import "github.com/shopspring/decimal"

// Totals are the aggregates derived from a list of line items.
type Totals struct {
	TotalItems int             `json:"total_items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// ComputeTotals sums quantities and unitPrice*quantity over items.
// No rounding is applied; display rounding is the caller's concern.
func ComputeTotals(items []LineItem) Totals {
	t := Totals{TotalPrice: decimal.Zero}
	for _, item := range items {
		t.TotalItems += item.Quantity
		t.TotalPrice = t.TotalPrice.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return t
}

// Consistent reports whether the stored totals of s equal ComputeTotals(s.Items).
func (s State) Consistent() bool {
	t := ComputeTotals(s.Items)
	return s.TotalItems == t.TotalItems && s.TotalPrice.Equal(t.TotalPrice)
}
