package og

import (
	"alats/internal/model"
	"alats/internal/model/enum"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BracketPrices returns the stop-loss and take-profit trigger prices for an
// entry filled at price on side.
func BracketPrices(side enum.Side, price, stopLossPct, takeProfitPct decimal.Decimal) (stop, take decimal.Decimal) {
	one := decimal.NewFromInt(1)
	if side == enum.SideSell {
		return price.Mul(one.Add(stopLossPct)), price.Mul(one.Sub(takeProfitPct))
	}
	return price.Mul(one.Sub(stopLossPct)), price.Mul(one.Add(takeProfitPct))
}

// registerBrackets registers the linked stop-loss and take-profit pair for a
// finished entry in one step. Both start CREATED.
func (c *Coordinator) registerBrackets(entry model.Order) ([]string, error) {
	if !c.cfg.StopLossPct.IsPositive() || !c.cfg.TakeProfitPct.IsPositive() {
		return nil, nil
	}
	asset := c.assets[entry.Asset]
	stopPx, takePx := BracketPrices(entry.Side, entry.AvgFillPrice, c.cfg.StopLossPct, c.cfg.TakeProfitPct)

	now := c.now()
	stop := model.Order{
		ID:        uuid.NewString(),
		Asset:     entry.Asset,
		Side:      entry.Side.Opposite(),
		Kind:      enum.OrderKindStop,
		Role:      enum.OrderRoleStopLoss,
		Qty:       entry.FilledQty,
		Price:     asset.RoundPrice(stopPx),
		Status:    enum.OrderStatusCreated,
		ParentID:  entry.ID,
		CreatedAt: now,
	}
	take := stop
	take.ID = uuid.NewString()
	take.Kind = enum.OrderKindLimit
	take.Role = enum.OrderRoleTakeProfit
	take.Price = asset.RoundPrice(takePx)

	stop.SiblingID = take.ID
	take.SiblingID = stop.ID
	if err := c.fsm.Register(stop, take); err != nil {
		return nil, err
	}
	return []string{stop.ID, take.ID}, nil
}
