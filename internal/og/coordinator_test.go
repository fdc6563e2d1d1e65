package og

import (
	"context"
	"sync"
	"testing"
	"time"

	"alats/internal/chaos"
	"alats/internal/exchange/sim"
	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

type fillRecorder struct {
	mu    sync.Mutex
	fills []model.Fill
}

func (r *fillRecorder) handle(_ context.Context, f model.Fill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, f)
}

func (r *fillRecorder) all() []model.Fill {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Fill(nil), r.fills...)
}

type notifierStub struct {
	mu       sync.Mutex
	messages []string
}

func (n *notifierStub) Notify(_ context.Context, _ enum.Severity, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *notifierStub) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

var btc = model.Asset{
	Symbol:       "BTC",
	TickSize:     decimal.RequireFromString("0.01"),
	MinOrderSize: decimal.RequireFromString("0.001"),
}

func testConfig() Config {
	return Config{
		MaxRetries:    2,
		Backoff:       Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
		CallTimeout:   time.Second,
		RateLimit:     4,
		StopLossPct:   decimal.RequireFromString("0.05"),
		TakeProfitPct: decimal.RequireFromString("0.10"),
		DrainTimeout:  time.Second,
		PollInterval:  5 * time.Millisecond,
	}
}

func setup(t *testing.T, cfg Config) (*Coordinator, *sim.Exchange, *fillRecorder, *notifierStub) {
	t.Helper()
	ex, err := sim.New(sim.Config{Seed: 1, Prices: map[string]float64{"BTC": 100}})
	require.NoError(t, err)
	fills := &fillRecorder{}
	notes := &notifierStub{}
	c := NewCoordinator(cfg, ex, []model.Asset{btc}, WithFillHandler(fills.handle), WithNotifier(notes))
	t.Cleanup(c.Close)
	return c, ex, fills, notes
}

func marketBuy(qty string) model.OrderRequest {
	return model.OrderRequest{
		Asset: "BTC",
		Side:  enum.SideBuy,
		Kind:  enum.OrderKindMarket,
		Qty:   decimal.RequireFromString(qty),
	}
}

func TestSubmitAndSyncDeliversFill(t *testing.T) {
	cfg := testConfig()
	cfg.StopLossPct = decimal.Zero
	c, _, fills, _ := setup(t, cfg)

	o, err := c.Submit(t.Context(), marketBuy("1"))
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusSubmitted, o.Status)
	assert.NotEmpty(t, o.ID)

	require.NoError(t, c.Sync(t.Context(), "BTC"))
	got, _ := c.StateMachine().Order(o.ID)
	assert.Equal(t, enum.OrderStatusFilled, got.Status)

	fs := fills.all()
	require.Len(t, fs, 1)
	assert.True(t, fs[0].Qty.Equal(decimal.NewFromInt(1)))
	assert.True(t, fs[0].Price.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, c.OpenOrders())

	require.NoError(t, c.Sync(t.Context(), "BTC"))
	assert.Len(t, fills.all(), 1, "terminal orders produce no more fills")
}

func TestSubmitRetriesLostAckWithSameID(t *testing.T) {
	cfg := testConfig()
	cfg.StopLossPct = decimal.Zero
	c, ex, fills, _ := setup(t, cfg)
	ex.Chaos().Script(chaos.Fault{LoseAck: true})

	req := marketBuy("1")
	req.ID = "client-1"
	o, err := c.Submit(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, "client-1", o.ID)
	assert.Equal(t, 1, o.Retries)
	assert.Equal(t, enum.OrderStatusSubmitted, o.Status)
	assert.Equal(t, 1, ex.Accepted())

	require.NoError(t, c.Sync(t.Context(), "BTC"))
	assert.Len(t, fills.all(), 1)
}

func TestSubmitFailsWhenRetriesExhausted(t *testing.T) {
	c, ex, _, notes := setup(t, testConfig())
	ex.Chaos().Script(
		chaos.Fault{Fail: true},
		chaos.Fault{Fail: true},
		chaos.Fault{Fail: true},
		chaos.Fault{Fail: true},
	)

	o, err := c.Submit(t.Context(), marketBuy("1"))
	assert.True(t, errors.Is(err, exception.ErrRetriesExhausted))
	assert.Equal(t, enum.OrderStatusFailed, o.Status)
	assert.Equal(t, 2, o.Retries)
	assert.Equal(t, 0, ex.Accepted())
	assert.Equal(t, 1, notes.count())
}

func TestSubmitAdoptsOrderWhenLastAckLost(t *testing.T) {
	cfg := testConfig()
	cfg.StopLossPct = decimal.Zero
	c, ex, _, notes := setup(t, cfg)
	ex.Chaos().Script(
		chaos.Fault{Fail: true},
		chaos.Fault{Fail: true},
		chaos.Fault{LoseAck: true},
	)

	o, err := c.Submit(t.Context(), marketBuy("1"))
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusFilled, o.Status)
	assert.Equal(t, 1, ex.Accepted())
	assert.Equal(t, 0, notes.count())
}

func TestSubmitValidation(t *testing.T) {
	c, _, _, _ := setup(t, testConfig())

	req := marketBuy("1")
	req.Asset = "DOGE"
	_, err := c.Submit(t.Context(), req)
	assert.True(t, errors.Is(err, exception.ErrUnknownAsset))

	_, err = c.Submit(t.Context(), marketBuy("0"))
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))

	req = marketBuy("1")
	req.Kind = enum.OrderKindLimit
	_, err = c.Submit(t.Context(), req)
	assert.True(t, errors.Is(err, exception.ErrInvalidArgument))

	req = marketBuy("1")
	req.ID = "dup"
	_, err = c.Submit(t.Context(), req)
	require.NoError(t, err)
	_, err = c.Submit(t.Context(), req)
	assert.True(t, errors.Is(err, exception.ErrDuplicateOrder))
}

func TestBracketOrdersWithOCO(t *testing.T) {
	c, ex, fills, _ := setup(t, testConfig())

	entry, err := c.Submit(t.Context(), marketBuy("1"))
	require.NoError(t, err)
	require.NoError(t, c.Sync(t.Context(), "BTC"))

	open := c.OpenOrders()
	require.Len(t, open, 2)
	var stop, take model.Order
	for _, o := range open {
		switch o.Role {
		case enum.OrderRoleStopLoss:
			stop = o
		case enum.OrderRoleTakeProfit:
			take = o
		}
	}
	assert.Equal(t, enum.OrderKindStop, stop.Kind)
	assert.True(t, stop.Price.Equal(decimal.NewFromInt(95)), stop.Price.String())
	assert.Equal(t, enum.OrderKindLimit, take.Kind)
	assert.True(t, take.Price.Equal(decimal.NewFromInt(110)), take.Price.String())
	assert.Equal(t, take.ID, stop.SiblingID)
	assert.Equal(t, stop.ID, take.SiblingID)
	assert.Equal(t, entry.ID, stop.ParentID)
	assert.Equal(t, enum.SideSell, stop.Side)
	assert.Equal(t, enum.OrderStatusSubmitted, stop.Status)
	assert.Equal(t, enum.OrderStatusSubmitted, take.Status)

	ex.SetMid("BTC", 111)
	require.NoError(t, c.Sync(t.Context(), "BTC"))

	got, _ := c.StateMachine().Order(take.ID)
	assert.Equal(t, enum.OrderStatusFilled, got.Status)
	assert.Eventually(t, func() bool {
		o, _ := c.StateMachine().Order(stop.ID)
		return o.Status == enum.OrderStatusCancelled
	}, time.Second, 5*time.Millisecond)

	rep, _ := ex.Lookup(stop.ID)
	assert.Equal(t, enum.OrderStatusCancelled, rep.Status)

	fs := fills.all()
	require.Len(t, fs, 2)
	assert.Equal(t, enum.OrderRoleTakeProfit, fs[1].Role)
	assert.True(t, fs[1].Price.Equal(decimal.NewFromInt(110)))
	assert.Empty(t, c.OpenOrders())
}

func TestShortBracketPrices(t *testing.T) {
	stop, take := BracketPrices(enum.SideSell, decimal.NewFromInt(200),
		decimal.RequireFromString("0.05"), decimal.RequireFromString("0.10"))
	assert.True(t, stop.Equal(decimal.NewFromInt(210)))
	assert.True(t, take.Equal(decimal.NewFromInt(180)))
}

func TestReconcile(t *testing.T) {
	cfg := testConfig()
	cfg.StopLossPct = decimal.Zero
	c, ex, fills, notes := setup(t, cfg)

	_, err := ex.PlaceOrder(t.Context(), model.OrderRequest{
		ID: "known", Asset: "BTC", Side: enum.SideBuy, Kind: enum.OrderKindMarket, Qty: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	known := newOrder("known")
	known.Status = enum.OrderStatusSubmitted
	ghost := newOrder("ghost")
	ghost.Status = enum.OrderStatusSubmitted
	fresh := newOrder("fresh")
	done := newOrder("done")
	done.Status = enum.OrderStatusFilled

	require.NoError(t, c.Reconcile(t.Context(), []model.Order{known, ghost, fresh, done}))

	got, _ := c.StateMachine().Order("known")
	assert.Equal(t, enum.OrderStatusFilled, got.Status)
	require.Len(t, fills.all(), 1)
	assert.Equal(t, "known", fills.all()[0].OrderID)

	got, _ = c.StateMachine().Order("ghost")
	assert.Equal(t, enum.OrderStatusFailed, got.Status)
	assert.Equal(t, 1, notes.count())

	got, _ = c.StateMachine().Order("fresh")
	assert.Equal(t, enum.OrderStatusSubmitted, got.Status)
	_, ok := ex.Lookup("fresh")
	assert.True(t, ok, "never acknowledged order resubmitted with the same id")

	_, ok = c.StateMachine().Order("done")
	assert.False(t, ok, "terminal orders are not restored")
}

func TestDrainLeavesConfirmedPending(t *testing.T) {
	c, _, _, _ := setup(t, testConfig())

	req := marketBuy("1")
	req.Kind = enum.OrderKindLimit
	req.Price = decimal.NewFromInt(90)
	_, err := c.Submit(t.Context(), req)
	require.NoError(t, err)

	require.NoError(t, c.Drain(t.Context()))
	open := c.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, enum.OrderStatusSubmitted, open[0].Status)

	_, err = c.Submit(t.Context(), marketBuy("1"))
	assert.True(t, errors.Is(err, exception.ErrCoordinatorClosed))
}

func TestDrainTimesOutOnUnreachableExchange(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeout = 50 * time.Millisecond
	c, ex, _, _ := setup(t, cfg)

	req := marketBuy("1")
	req.Kind = enum.OrderKindLimit
	req.Price = decimal.NewFromInt(90)
	_, err := c.Submit(t.Context(), req)
	require.NoError(t, err)

	faults := make([]chaos.Fault, 1_000)
	for i := range faults {
		faults[i].Fail = true
	}
	ex.Chaos().Script(faults...)

	err = c.Drain(t.Context())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, time.Second)
	var mu sync.Mutex
	active, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > peak {
					peak = active
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, 2)
}
