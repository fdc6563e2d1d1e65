package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/internal/obs"
	"alats/internal/replay"
	"alats/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu   sync.Mutex
	snap model.LiquiditySnapshot
	err  error
}

func (s *fakeSource) set(snap model.LiquiditySnapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *fakeSource) Latest(asset string, _ time.Time) (model.LiquiditySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.err
}

type fakeOracle struct {
	mu       sync.Mutex
	decision model.PolicyDecision
	err      error
	delay    time.Duration
	windows  []Window
	batches  chan []replay.Entry
}

func (o *fakeOracle) Infer(ctx context.Context, w Window, _ model.RiskView) (model.PolicyDecision, error) {
	o.mu.Lock()
	o.windows = append(o.windows, w)
	d, err, delay := o.decision, o.err, o.delay
	o.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.PolicyDecision{}, ctx.Err()
		}
	}
	return d, err
}

func (o *fakeOracle) TrainStep(_ context.Context, batch []replay.Entry) error {
	if o.batches != nil {
		o.batches <- batch
	}
	return nil
}

func snapAt(ts time.Time, mid, score float64) model.LiquiditySnapshot {
	return model.LiquiditySnapshot{Asset: "BTC", Timestamp: ts, Mid: mid, Score: score, NormDepth: 0.5}
}

func newTestEngine(t *testing.T, cfg Config, o Oracle, src SnapshotSource) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, o, src, replay.NewBuffer(100, 7), []string{"BTC"}, obs.NewMetrics(), obs.NewTraceGenerator(1))
	require.NoError(t, err)
	return e
}

func buy(conf float64) model.PolicyDecision {
	return model.PolicyDecision{Action: enum.ActionBuy, Confidence: conf, Size: decimal.NewFromInt(100)}
}

func TestDecideHoldsOnEmptyOrStaleWindow(t *testing.T) {
	src := &fakeSource{snap: model.LiquiditySnapshot{Asset: "BTC", Stale: true}}
	o := &fakeOracle{decision: buy(0.9)}
	e := newTestEngine(t, Config{WindowSize: 4}, o, src)

	d, err := e.Decide(context.Background(), "BTC", model.RiskView{})
	require.NoError(t, err)
	assert.Equal(t, enum.ActionHold, d.Action)
	assert.True(t, d.Size.IsZero())
	assert.Empty(t, o.windows, "oracle is not consulted without fresh data")
	assert.Equal(t, uint64(1), e.metrics.Snapshot().StaleSkips)
}

func TestDecideUnknownAsset(t *testing.T) {
	e := newTestEngine(t, Config{}, &fakeOracle{}, &fakeSource{})
	_, err := e.Decide(context.Background(), "DOGE", model.RiskView{})
	assert.True(t, errors.Is(err, exception.ErrUnknownAsset))
}

func TestDecideWindowSkipsRepeatsAndPadsFront(t *testing.T) {
	src := &fakeSource{}
	o := &fakeOracle{decision: buy(0.9)}
	e := newTestEngine(t, Config{WindowSize: 3}, o, src)
	ctx := context.Background()

	src.set(snapAt(t0, 100, 0.4))
	_, err := e.Decide(ctx, "BTC", model.RiskView{})
	require.NoError(t, err)
	// same timestamp is not appended twice
	_, err = e.Decide(ctx, "BTC", model.RiskView{})
	require.NoError(t, err)

	require.Len(t, o.windows, 2)
	w := o.windows[1]
	require.Len(t, w.Snapshots, 1)
	require.Len(t, w.Features, 3*model.FeatureCount)
	for i := 0; i < 2*model.FeatureCount; i++ {
		assert.Zero(t, w.Features[i], "leading slot %d is padding", i)
	}
	assert.Equal(t, 0.4, w.Features[2*model.FeatureCount])

	for i := 1; i <= 4; i++ {
		src.set(snapAt(t0.Add(time.Duration(i)*time.Second), 100+float64(i), 0.4))
		_, err = e.Decide(ctx, "BTC", model.RiskView{})
		require.NoError(t, err)
	}
	last := o.windows[len(o.windows)-1]
	require.Len(t, last.Snapshots, 3)
	assert.Equal(t, t0.Add(2*time.Second), last.Snapshots[0].Timestamp)
	latest, ok := last.Latest()
	require.True(t, ok)
	assert.Equal(t, 104.0, latest.Mid)
}

func TestDecideConfidenceThreshold(t *testing.T) {
	src := &fakeSource{snap: snapAt(t0, 100, 0.5)}
	o := &fakeOracle{decision: buy(0.55)}
	e := newTestEngine(t, Config{ConfidenceThreshold: 0.6}, o, src)

	d, err := e.Decide(context.Background(), "BTC", model.RiskView{})
	require.NoError(t, err)
	assert.Equal(t, enum.ActionHold, d.Action)
	assert.True(t, d.Size.IsZero())
	assert.Equal(t, 0.55, d.Confidence)

	o.decision = buy(0.8)
	src.set(snapAt(t0.Add(time.Second), 100, 0.5))
	d, err = e.Decide(context.Background(), "BTC", model.RiskView{})
	require.NoError(t, err)
	assert.Equal(t, enum.ActionBuy, d.Action)
	assert.Equal(t, "BTC", d.Asset)
	assert.NotZero(t, d.TraceID)
	assert.True(t, d.Size.Equal(decimal.NewFromInt(100)))
}

func TestDecideRejectsInvalidDecision(t *testing.T) {
	testCases := []struct {
		desc     string
		decision model.PolicyDecision
	}{
		{desc: "unknown action", decision: model.PolicyDecision{Action: 9, Confidence: 0.9}},
		{desc: "confidence above one", decision: model.PolicyDecision{Action: enum.ActionBuy, Confidence: 1.2}},
		{desc: "negative size", decision: model.PolicyDecision{Action: enum.ActionSell, Confidence: 0.9, Size: decimal.NewFromInt(-1)}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			src := &fakeSource{snap: snapAt(t0, 100, 0.5)}
			e := newTestEngine(t, Config{}, &fakeOracle{decision: tc.decision}, src)
			d, err := e.Decide(context.Background(), "BTC", model.RiskView{})
			assert.True(t, errors.Is(err, exception.ErrInvalidDecision), "%+v", err)
			assert.Equal(t, enum.ActionHold, d.Action)
		})
	}
}

func TestDecideOracleTimeout(t *testing.T) {
	src := &fakeSource{snap: snapAt(t0, 100, 0.5)}
	o := &fakeOracle{decision: buy(0.9), delay: time.Second}
	e := newTestEngine(t, Config{InferTimeout: 20 * time.Millisecond}, o, src)

	start := time.Now()
	d, err := e.Decide(context.Background(), "BTC", model.RiskView{})
	assert.True(t, errors.Is(err, exception.ErrOracleTimeout), "%+v", err)
	assert.Equal(t, enum.ActionHold, d.Action)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, uint64(1), e.metrics.Snapshot().OracleErrors)
}

func TestDecideOracleError(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{snap: snapAt(t0, 100, 0.5)}
	e := newTestEngine(t, Config{}, &fakeOracle{err: boom}, src)

	_, err := e.Decide(context.Background(), "BTC", model.RiskView{})
	assert.True(t, errors.Is(err, boom))
}

func TestDecideSourceStaleCeiling(t *testing.T) {
	src := &fakeSource{err: exception.ErrStaleData}
	e := newTestEngine(t, Config{}, &fakeOracle{}, src)

	d, err := e.Decide(context.Background(), "BTC", model.RiskView{})
	assert.True(t, errors.Is(err, exception.ErrStaleData))
	assert.Equal(t, enum.ActionHold, d.Action)
}

func TestDecideRecordsReward(t *testing.T) {
	src := &fakeSource{snap: snapAt(t0, 100, 0.5)}
	o := &fakeOracle{decision: buy(0.9)}
	e := newTestEngine(t, Config{WindowSize: 2}, o, src)
	ctx := context.Background()
	equity := decimal.NewFromInt(10_000)

	_, err := e.Decide(ctx, "BTC", model.RiskView{Equity: equity})
	require.NoError(t, err)
	assert.Zero(t, e.Buffer().Len(), "first cycle has nothing to link to")

	// nothing realized: proxy reward = +1 * 2% * 0.5
	src.set(snapAt(t0.Add(time.Second), 102, 0.5))
	_, err = e.Decide(ctx, "BTC", model.RiskView{Equity: equity})
	require.NoError(t, err)

	// realized 50 on 10k equity
	src.set(snapAt(t0.Add(2*time.Second), 90, 0.5))
	_, err = e.Decide(ctx, "BTC", model.RiskView{Equity: equity, RealizedPnL: decimal.NewFromInt(50), AssetRealized: decimal.NewFromInt(50)})
	require.NoError(t, err)

	entries := e.Buffer().Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, enum.ActionBuy, entries[0].Action)
	assert.InDelta(t, 0.01, entries[0].Reward, 1e-9)
	assert.InDelta(t, 0.005, entries[1].Reward, 1e-9)
	assert.Equal(t, entries[0].NextState, entries[1].State)
}

type assetSource struct {
	mu    sync.Mutex
	snaps map[string]model.LiquiditySnapshot
}

func (s *assetSource) set(asset string, ts time.Time, mid float64) {
	s.mu.Lock()
	s.snaps[asset] = model.LiquiditySnapshot{Asset: asset, Timestamp: ts, Mid: mid, Score: 0.5, NormDepth: 0.5}
	s.mu.Unlock()
}

func (s *assetSource) Latest(asset string, _ time.Time) (model.LiquiditySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[asset], nil
}

func TestDecideRewardIsPerAsset(t *testing.T) {
	src := &assetSource{snaps: map[string]model.LiquiditySnapshot{}}
	e, err := NewEngine(Config{WindowSize: 2}, &fakeOracle{decision: buy(0.9)}, src, replay.NewBuffer(100, 7),
		[]string{"BTC", "ETH"}, obs.NewMetrics(), obs.NewTraceGenerator(1))
	require.NoError(t, err)
	ctx := context.Background()
	equity := decimal.NewFromInt(10_000)

	src.set("BTC", t0, 100)
	src.set("ETH", t0, 100)
	_, err = e.Decide(ctx, "BTC", model.RiskView{Equity: equity})
	require.NoError(t, err)
	_, err = e.Decide(ctx, "ETH", model.RiskView{Equity: equity})
	require.NoError(t, err)

	// a BTC fill realized 50; the account-wide figure moves for both assets
	src.set("BTC", t0.Add(time.Second), 100)
	src.set("ETH", t0.Add(time.Second), 102)
	realized := decimal.NewFromInt(50)
	_, err = e.Decide(ctx, "BTC", model.RiskView{Equity: equity, RealizedPnL: realized, AssetRealized: realized})
	require.NoError(t, err)
	_, err = e.Decide(ctx, "ETH", model.RiskView{Equity: equity, RealizedPnL: realized})
	require.NoError(t, err)

	rewards := map[string]float64{}
	for _, entry := range e.Buffer().Snapshot() {
		rewards[entry.Asset] = entry.Reward
	}
	require.Len(t, rewards, 2)
	assert.InDelta(t, 0.005, rewards["BTC"], 1e-9)
	assert.InDelta(t, 0.01, rewards["ETH"], 1e-9, "ETH keeps the mid-return proxy")
}

func TestTrainerReceivesBatches(t *testing.T) {
	src := &fakeSource{}
	o := &fakeOracle{decision: buy(0.9), batches: make(chan []replay.Entry, 4)}
	e := newTestEngine(t, Config{BatchSize: 2, UpdateFrequency: 3}, o, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		e.RunTrainer(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		src.set(snapAt(t0.Add(time.Duration(i)*time.Second), 100, 0.5))
		_, err := e.Decide(ctx, "BTC", model.RiskView{})
		require.NoError(t, err)
	}

	select {
	case batch := <-o.batches:
		assert.Len(t, batch, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no training batch delivered")
	}
	e.Close()
	<-done
	assert.Eventually(t, func() bool { return e.metrics.Snapshot().TrainBatches == 1 }, time.Second, 10*time.Millisecond)
}

func TestTrainerDropsWhenBusy(t *testing.T) {
	src := &fakeSource{}
	e := newTestEngine(t, Config{BatchSize: 1, UpdateFrequency: 1}, &fakeOracle{decision: buy(0.9)}, src)

	// no trainer running: the first batch fills the queue, later ones drop
	for i := 0; i < 4; i++ {
		src.set(snapAt(t0.Add(time.Duration(i)*time.Second), 100, 0.5))
		_, err := e.Decide(context.Background(), "BTC", model.RiskView{})
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(2), e.metrics.Snapshot().TrainDrops)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{ConfidenceThreshold: 1.5}.Validate())
	assert.Error(t, Config{WindowSize: -1}.Validate())
	assert.NoError(t, Config{ConfidenceThreshold: 0.6}.Validate())
}
