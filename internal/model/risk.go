package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the signed holding of one asset. RealizedPnL covers the current
// trading day; TotalRealized never resets.
type Position struct {
	Qty           decimal.Decimal `json:"qty"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	TotalRealized decimal.Decimal `json:"totalRealized"`
}

// Notional returns the signed position value at mark.
func (p Position) Notional(mark decimal.Decimal) decimal.Decimal {
	return p.Qty.Mul(mark)
}

// Unrealized returns the open P&L at mark.
func (p Position) Unrealized(mark decimal.Decimal) decimal.Decimal {
	if p.Qty.IsZero() || !mark.IsPositive() {
		return decimal.Zero
	}
	return mark.Sub(p.AvgPrice).Mul(p.Qty)
}

// RiskState is owned by the risk gate; only fills mutate it.
type RiskState struct {
	Positions        map[string]Position `json:"positions"`
	DailyRealizedPnL decimal.Decimal     `json:"dailyRealizedPnl"`
	TradingDay       string              `json:"tradingDay"`
	CooldownUntil    time.Time           `json:"cooldownUntil"`
	Equity           decimal.Decimal     `json:"equity"`
}

// Clone returns a deep copy.
func (s RiskState) Clone() RiskState {
	out := s
	out.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	return out
}

// Cooling reports whether the account-wide cooldown is active at now.
func (s RiskState) Cooling(now time.Time) bool {
	return !s.CooldownUntil.IsZero() && now.Before(s.CooldownUntil)
}

// RiskView is the read-only slice of risk state handed to the policy.
// RealizedPnL and Unrealized are account-wide; AssetRealized is the
// cumulative realized P&L of the viewed asset only.
type RiskView struct {
	Position      decimal.Decimal
	Equity        decimal.Decimal
	RealizedPnL   decimal.Decimal
	Unrealized    decimal.Decimal
	AssetRealized decimal.Decimal
	Cooling       bool
}
