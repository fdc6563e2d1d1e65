package risk

import (
	"sync"
	"time"

	"alats/internal/model"
	"alats/internal/model/enum"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

const tradingDayLayout = "2006-01-02"

// Config defines account risk limits. Fractions are relative to current equity.
type Config struct {
	MaxPositionSize decimal.Decimal
	MaxDailyLoss    decimal.Decimal
	StopLossPct     decimal.Decimal
	TakeProfitPct   decimal.Decimal
	MaxLeverage     decimal.Decimal
	CoolingPeriod   time.Duration
}

// FillOutcome reports what a fill did to the risk state.
type FillOutcome struct {
	Realized          decimal.Decimal
	Position          model.Position
	CooldownTriggered bool
	CooldownUntil     time.Time
}

// Gate is the single authority over account risk state. Every method holds the
// same mutex, so authorizations and fill mutations never interleave.
type Gate struct {
	cfg Config

	mu    sync.Mutex
	state model.RiskState
	marks map[string]decimal.Decimal
}

// NewGate creates a gate for an account starting at equity.
func NewGate(cfg Config, equity decimal.Decimal) *Gate {
	return &Gate{
		cfg: cfg,
		state: model.RiskState{
			Positions: make(map[string]model.Position),
			Equity:    equity,
		},
		marks: make(map[string]decimal.Decimal),
	}
}

// Config returns the static limits.
func (g *Gate) Config() Config {
	return g.cfg
}

// Restore replaces the risk state with a recovered checkpoint.
func (g *Gate) Restore(s model.RiskState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s.Clone()
	if g.state.Positions == nil {
		g.state.Positions = make(map[string]model.Position)
	}
	for asset, pos := range g.state.Positions {
		if _, ok := g.marks[asset]; !ok && pos.AvgPrice.IsPositive() {
			g.marks[asset] = pos.AvgPrice
		}
	}
}

// State returns a deep copy of the risk state.
func (g *Gate) State() model.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Clone()
}

// Mark records a reference price used for unrealized P&L. Marks are not part of
// the risk state.
func (g *Gate) Mark(asset string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	g.mu.Lock()
	g.marks[asset] = price
	g.mu.Unlock()
}

// View returns the read-only risk slice for one asset.
func (g *Gate) View(asset string, now time.Time) model.RiskView {
	g.mu.Lock()
	defer g.mu.Unlock()
	pos := g.state.Positions[asset]
	return model.RiskView{
		Position:      pos.Qty,
		Equity:        g.state.Equity,
		RealizedPnL:   g.dailyRealized(now),
		Unrealized:    g.unrealized(),
		AssetRealized: pos.TotalRealized,
		Cooling:       g.state.Cooling(now),
	}
}

// Authorize evaluates a decision against the ordered rule pipeline:
// cooldown, position cap (scale down), daily loss (reject and cool down),
// leverage. A scale-down still has to pass the later rules.
func (g *Gate) Authorize(d model.PolicyDecision, mark decimal.Decimal, now time.Time) model.Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	sign := int64(d.Action.Direction())
	if sign == 0 || !d.Size.IsPositive() {
		return reject(enum.RiskReasonInvalidDecision)
	}
	if mark.IsPositive() {
		g.marks[d.Asset] = mark
	} else {
		mark = g.marks[d.Asset]
	}
	if !mark.IsPositive() {
		return reject(enum.RiskReasonInvalidDecision)
	}

	if g.state.Cooling(now) {
		return reject(enum.RiskReasonCoolingPeriod)
	}

	verdict := model.Verdict{Kind: enum.VerdictAllow, Reason: enum.RiskReasonNone, Size: d.Size}
	equity := g.state.Equity
	dir := decimal.NewFromInt(sign)
	current := g.state.Positions[d.Asset].Notional(mark)

	limit := g.cfg.MaxPositionSize.Mul(equity)
	if current.Add(dir.Mul(d.Size)).Abs().GreaterThan(limit) {
		// fit is the largest size whose signed exposure stays within the cap.
		// When it covers the whole request the position is over the cap on the
		// other side and the trade only shrinks it.
		fit := limit.Sub(dir.Mul(current))
		switch {
		case !fit.IsPositive():
			return reject(enum.RiskReasonPositionLimit)
		case fit.LessThan(d.Size):
			verdict = model.Verdict{Kind: enum.VerdictScaleDown, Reason: enum.RiskReasonPositionLimit, Size: fit}
		}
	}
	projected := current.Add(dir.Mul(verdict.Size))

	if projected.Abs().GreaterThan(current.Abs()) {
		loss := g.dailyRealized(now).Add(g.unrealized()).Neg()
		maxLoss := g.cfg.MaxDailyLoss.Mul(equity)
		if maxLoss.IsPositive() && loss.GreaterThanOrEqual(maxLoss) {
			until := g.startCooldown(now)
			logs.Warnf("risk: daily loss %s reached limit %s, cooling until %s", loss, maxLoss, until.Format(time.RFC3339))
			return reject(enum.RiskReasonDailyLossLimit)
		}
	}

	if g.cfg.MaxLeverage.IsPositive() {
		gross := projected.Abs()
		for asset, pos := range g.state.Positions {
			if asset == d.Asset {
				continue
			}
			gross = gross.Add(pos.Notional(g.markFor(asset, pos)).Abs())
		}
		if gross.GreaterThan(g.cfg.MaxLeverage.Mul(equity)) {
			return reject(enum.RiskReasonLeverageLimit)
		}
	}

	return verdict
}

// ApplyFill is the only path that changes positions, P&L and equity. A single
// fill realizing a loss larger than StopLossPct of the closed value starts the
// account-wide cooldown.
func (g *Gate) ApplyFill(f model.Fill) FillOutcome {
	if !f.Qty.IsPositive() {
		return FillOutcome{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollDay(f.Time)

	pos := g.state.Positions[f.Asset]
	signed := f.Qty
	if f.Side == enum.SideSell {
		signed = signed.Neg()
	}

	realized := decimal.Zero
	closedValue := decimal.Zero
	switch {
	case pos.Qty.IsZero() || pos.Qty.Sign() == signed.Sign():
		total := pos.Qty.Abs().Add(f.Qty)
		pos.AvgPrice = pos.Qty.Abs().Mul(pos.AvgPrice).Add(f.Qty.Mul(f.Price)).Div(total)
		pos.Qty = pos.Qty.Add(signed)
	default:
		closeQty := decimal.Min(pos.Qty.Abs(), f.Qty)
		direction := decimal.NewFromInt(int64(pos.Qty.Sign()))
		realized = f.Price.Sub(pos.AvgPrice).Mul(closeQty).Mul(direction)
		closedValue = closeQty.Mul(pos.AvgPrice)
		pos.Qty = pos.Qty.Add(signed)
		switch {
		case pos.Qty.IsZero():
			pos.AvgPrice = decimal.Zero
		case f.Qty.GreaterThan(closeQty):
			pos.AvgPrice = f.Price
		}
	}

	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.TotalRealized = pos.TotalRealized.Add(realized)
	g.state.Positions[f.Asset] = pos
	g.state.DailyRealizedPnL = g.state.DailyRealizedPnL.Add(realized)
	g.state.Equity = g.state.Equity.Add(realized)
	g.marks[f.Asset] = f.Price

	out := FillOutcome{Realized: realized, Position: pos}
	if realized.IsNegative() && closedValue.IsPositive() &&
		realized.Neg().GreaterThan(g.cfg.StopLossPct.Mul(closedValue)) {
		out.CooldownTriggered = true
		out.CooldownUntil = g.startCooldown(f.Time)
		logs.Warnf("risk: fill %s realized %s beyond stop loss, cooling until %s", f.OrderID, realized, out.CooldownUntil.Format(time.RFC3339))
	}
	return out
}

// CooldownUntil returns the current cooldown expiry; zero when not cooling.
func (g *Gate) CooldownUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.CooldownUntil
}

func (g *Gate) startCooldown(now time.Time) time.Time {
	until := now.Add(g.cfg.CoolingPeriod)
	if until.After(g.state.CooldownUntil) {
		g.state.CooldownUntil = until
	}
	return g.state.CooldownUntil
}

func (g *Gate) rollDay(now time.Time) {
	day := now.UTC().Format(tradingDayLayout)
	if g.state.TradingDay == day {
		return
	}
	g.state.TradingDay = day
	g.state.DailyRealizedPnL = decimal.Zero
	for asset, pos := range g.state.Positions {
		pos.RealizedPnL = decimal.Zero
		g.state.Positions[asset] = pos
	}
}

func (g *Gate) dailyRealized(now time.Time) decimal.Decimal {
	if g.state.TradingDay != now.UTC().Format(tradingDayLayout) {
		return decimal.Zero
	}
	return g.state.DailyRealizedPnL
}

func (g *Gate) unrealized() decimal.Decimal {
	total := decimal.Zero
	for asset, pos := range g.state.Positions {
		total = total.Add(pos.Unrealized(g.markFor(asset, pos)))
	}
	return total
}

func (g *Gate) markFor(asset string, pos model.Position) decimal.Decimal {
	if m, ok := g.marks[asset]; ok {
		return m
	}
	return pos.AvgPrice
}

func reject(reason enum.RiskReason) model.Verdict {
	return model.Verdict{Kind: enum.VerdictReject, Reason: reason, Size: decimal.Zero}
}
