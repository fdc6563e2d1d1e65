package model

import "github.com/shopspring/decimal"

// Asset is immutable reference data for a tradable symbol.
type Asset struct {
	Symbol       string          `json:"symbol"`
	TickSize     decimal.Decimal `json:"tickSize"`
	MinOrderSize decimal.Decimal `json:"minOrderSize"`
}

// RoundPrice snaps a price to the nearest tick.
func (a Asset) RoundPrice(p decimal.Decimal) decimal.Decimal {
	if !a.TickSize.IsPositive() {
		return p
	}
	return p.Div(a.TickSize).Round(0).Mul(a.TickSize)
}

// RoundQty floors a quantity to a multiple of the minimum order size.
func (a Asset) RoundQty(q decimal.Decimal) decimal.Decimal {
	if !a.MinOrderSize.IsPositive() {
		return q
	}
	return q.Div(a.MinOrderSize).Floor().Mul(a.MinOrderSize)
}

// QtyForNotional converts a quote notional into a tradable quantity at price.
// Zero is returned when the result is below the minimum order size.
func (a Asset) QtyForNotional(notional, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !notional.IsPositive() {
		return decimal.Zero
	}
	qty := a.RoundQty(notional.Div(price))
	if qty.LessThan(a.MinOrderSize) || !qty.IsPositive() {
		return decimal.Zero
	}
	return qty
}
