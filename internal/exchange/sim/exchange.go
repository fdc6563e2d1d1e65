// Package sim is an in-memory paper exchange: a random-walk market per asset,
// idempotent order acceptance by client id and price-crossing execution for
// resting orders. Faults are injected through the chaos engine.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"alats/internal/chaos"
	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

const pricePlaces = 8

// Config controls the simulated market.
type Config struct {
	Seed         int64
	Volatility   float64
	SpreadBps    float64
	Depth        float64
	Volume       float64
	PartialFills bool
	Prices       map[string]float64
	Chaos        chaos.Config
}

func (c Config) withDefaults() Config {
	if c.Seed == 0 {
		c.Seed = time.Now().UTC().UnixNano()
	}
	if c.Volatility < 0 {
		c.Volatility = 0
	}
	if c.SpreadBps <= 0 {
		c.SpreadBps = 5
	}
	if c.Depth <= 0 {
		c.Depth = 100
	}
	if c.Volume <= 0 {
		c.Volume = 1_000
	}
	return c
}

type order struct {
	req        model.OrderRequest
	status     enum.OrderStatus
	filled     decimal.Decimal
	avg        decimal.Decimal
	reason     string
	acceptedAt time.Time
}

func (o *order) report() model.OrderReport {
	return model.OrderReport{
		ID:        o.req.ID,
		Status:    o.status,
		FilledQty: o.filled,
		AvgPrice:  o.avg,
		Reason:    o.reason,
	}
}

// Exchange implements exchange.Exchange in memory.
type Exchange struct {
	cfg   Config
	chaos *chaos.Engine

	mu     sync.Mutex
	rng    *rand.Rand
	mids   map[string]float64
	orders map[string]*order
}

// New creates a simulated exchange quoting the configured assets.
func New(cfg Config) (*Exchange, error) {
	cfg = cfg.withDefaults()
	engine, err := chaos.NewEngine(cfg.Chaos)
	if err != nil {
		return nil, errors.Wrap(err, "sim: chaos config")
	}
	mids := make(map[string]float64, len(cfg.Prices))
	for asset, p := range cfg.Prices {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, errors.Wrap(exception.ErrInvalidArgument, "sim: initial price must be positive").With("asset", asset)
		}
		mids[asset] = p
	}
	return &Exchange{
		cfg:    cfg,
		chaos:  engine,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		mids:   mids,
		orders: make(map[string]*order),
	}, nil
}

// Chaos exposes the fault injector, mainly for scripted faults in tests.
func (e *Exchange) Chaos() *chaos.Engine {
	return e.chaos
}

// Accepted returns how many distinct orders the exchange has taken.
func (e *Exchange) Accepted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orders)
}

// Lookup returns an order report without fault injection.
func (e *Exchange) Lookup(id string) (model.OrderReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return model.OrderReport{}, false
	}
	return o.report(), true
}

// SetMid moves the market of asset and executes resting orders that cross.
func (e *Exchange) SetMid(asset string, mid float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mids[asset] = mid
	e.matchResting(asset, mid)
}

func (e *Exchange) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderHandle, error) {
	fault, err := e.inject(ctx)
	if err != nil {
		return model.OrderHandle{}, err
	}

	e.mu.Lock()
	o, ok := e.orders[req.ID]
	if !ok {
		o, err = e.accept(req)
	}
	e.mu.Unlock()
	if err != nil {
		return model.OrderHandle{}, err
	}

	if fault.LoseAck {
		return model.OrderHandle{}, exception.Transient(nil, "sim: acknowledgement lost")
	}
	return model.OrderHandle{ID: req.ID, ExchangeID: req.ID, AcceptedAt: o.acceptedAt}, nil
}

func (e *Exchange) OrderStatus(ctx context.Context, id string) (model.OrderReport, error) {
	if _, err := e.inject(ctx); err != nil {
		return model.OrderReport{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return model.OrderReport{}, errors.Wrap(exception.ErrUnknownOrder, "sim: order status").With("id", id)
	}
	return o.report(), nil
}

func (e *Exchange) CancelOrder(ctx context.Context, id string) error {
	fault, err := e.inject(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	o, ok := e.orders[id]
	if ok && o.status.IsOpen() {
		o.status = enum.OrderStatusCancelled
	}
	e.mu.Unlock()
	if !ok {
		return errors.Wrap(exception.ErrUnknownOrder, "sim: cancel order").With("id", id)
	}

	if fault.LoseAck {
		return exception.Transient(nil, "sim: cancel acknowledgement lost")
	}
	return nil
}

func (e *Exchange) MarketData(ctx context.Context, asset string) (model.MarketSample, error) {
	if _, err := e.inject(ctx); err != nil {
		return model.MarketSample{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	mid, ok := e.mids[asset]
	if !ok {
		return model.MarketSample{}, exception.Permanent(exception.ErrUnknownAsset, "sim: market data for "+asset)
	}
	if e.cfg.Volatility > 0 {
		mid *= math.Exp(e.cfg.Volatility * e.rng.NormFloat64())
		e.mids[asset] = mid
	}
	e.matchResting(asset, mid)

	return model.MarketSample{
		Spread:    mid * e.cfg.SpreadBps / 10_000 * (1 + 0.5*math.Abs(e.rng.NormFloat64())),
		Depth:     e.cfg.Depth * (0.5 + e.rng.Float64()),
		Volume:    e.cfg.Volume * (0.5 + e.rng.Float64()),
		Mid:       mid,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (e *Exchange) inject(ctx context.Context) (chaos.Fault, error) {
	if err := ctx.Err(); err != nil {
		return chaos.Fault{}, err
	}
	fault := e.chaos.Next()
	if fault.Delay > 0 {
		timer := time.NewTimer(fault.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fault, exception.Transient(ctx.Err(), "sim: call timed out")
		case <-timer.C:
		}
	}
	if fault.Fail {
		return fault, exception.Transient(nil, "sim: injected failure")
	}
	return fault, nil
}

// accept registers a new order. Rejected orders are still recorded so that a
// status query reports the rejection.
func (e *Exchange) accept(req model.OrderRequest) (*order, error) {
	o := &order{
		req:        req,
		status:     enum.OrderStatusSubmitted,
		acceptedAt: time.Now().UTC(),
	}

	mid, ok := e.mids[req.Asset]
	switch {
	case !ok:
		return nil, exception.Permanent(exception.ErrUnknownAsset, "sim: place order for "+req.Asset)
	case req.ID == "":
		return nil, exception.Permanent(exception.ErrInvalidArgument, "sim: empty client order id")
	case !req.Side.IsAvailable() || !req.Kind.IsAvailable():
		o.reason = "invalid side or kind"
	case !req.Qty.IsPositive():
		o.reason = "non-positive quantity"
	case req.Kind.NeedsPrice() && !req.Price.IsPositive():
		o.reason = "price required"
	}
	e.orders[req.ID] = o
	if o.reason != "" {
		o.status = enum.OrderStatusRejected
		return nil, errors.Wrap(exception.ErrOrderRejected, "sim: "+o.reason).With("id", req.ID)
	}

	e.match(o, mid, false)
	return o, nil
}

func (e *Exchange) matchResting(asset string, mid float64) {
	for _, o := range e.orders {
		if o.req.Asset == asset && o.status.IsOpen() {
			e.match(o, mid, true)
		}
	}
}

// match executes o against mid. Resting limit orders fill at their limit
// price; marketable orders and triggered stops fill at mid.
func (e *Exchange) match(o *order, mid float64, resting bool) {
	px := decimal.NewFromFloat(mid).Round(pricePlaces)
	buy := o.req.Side == enum.SideBuy

	switch o.req.Kind {
	case enum.OrderKindMarket:
	case enum.OrderKindLimit:
		if buy && px.GreaterThan(o.req.Price) || !buy && px.LessThan(o.req.Price) {
			return
		}
		if resting {
			px = o.req.Price
		}
	case enum.OrderKindStop:
		if buy && px.LessThan(o.req.Price) || !buy && px.GreaterThan(o.req.Price) {
			return
		}
	default:
		return
	}

	qty := o.req.Qty.Sub(o.filled)
	if e.cfg.PartialFills && o.filled.IsZero() && o.req.Kind == enum.OrderKindMarket {
		qty = qty.Div(decimal.NewFromInt(2))
	}
	e.fill(o, qty, px)
}

func (e *Exchange) fill(o *order, qty, px decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	total := o.filled.Add(qty)
	o.avg = o.avg.Mul(o.filled).Add(px.Mul(qty)).Div(total)
	o.filled = total
	if o.filled.GreaterThanOrEqual(o.req.Qty) {
		o.status = enum.OrderStatusFilled
		return
	}
	o.status = enum.OrderStatusPartiallyFilled
}
