package policy

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"alats/internal/bus"
	"alats/internal/model"
	"alats/internal/obs"
	"alats/internal/replay"
	"alats/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Config tunes the decision engine.
type Config struct {
	WindowSize          int
	ConfidenceThreshold float64
	BatchSize           int
	UpdateFrequency     int
	InferTimeout        time.Duration
	TrainTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 60
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.UpdateFrequency <= 0 {
		c.UpdateFrequency = 10
	}
	if c.InferTimeout <= 0 {
		c.InferTimeout = 500 * time.Millisecond
	}
	if c.TrainTimeout <= 0 {
		c.TrainTimeout = 30 * time.Second
	}
	return c
}

// Validate checks the ranges a caller may get wrong.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Wrap(exception.ErrConfig, "confidence threshold out of [0,1]").With("threshold", c.ConfidenceThreshold)
	}
	if c.WindowSize < 0 || c.BatchSize < 0 || c.UpdateFrequency < 0 {
		return errors.Wrap(exception.ErrConfig, "negative window, batch or update frequency")
	}
	return nil
}

// SnapshotSource yields the latest liquidity snapshot of an asset.
type SnapshotSource interface {
	Latest(asset string, now time.Time) (model.LiquiditySnapshot, error)
}

type assetState struct {
	mu     sync.Mutex
	window []model.LiquiditySnapshot

	hasPrev      bool
	prevState    []float64
	prevAction   model.PolicyDecision
	prevMid      float64
	prevScore    float64
	prevRealized decimal.Decimal
}

// Engine runs one decision cycle per call to Decide. Cycles of different
// assets run in parallel; cycles of the same asset are serialized.
type Engine struct {
	cfg     Config
	oracle  Oracle
	source  SnapshotSource
	buffer  *replay.Buffer
	metrics *obs.Metrics
	traces  *obs.TraceGenerator
	train   *bus.Queue[[]replay.Entry]
	now     func() time.Time

	assets map[string]*assetState
	cycles atomic.Uint64
}

// NewEngine builds an engine for the given assets.
func NewEngine(cfg Config, oracle Oracle, source SnapshotSource, buffer *replay.Buffer, assets []string, metrics *obs.Metrics, traces *obs.TraceGenerator) (*Engine, error) {
	if oracle == nil || source == nil || buffer == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "policy engine dependencies")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg.withDefaults(),
		oracle:  oracle,
		source:  source,
		buffer:  buffer,
		metrics: metrics,
		traces:  traces,
		train:   bus.NewQueue[[]replay.Entry](1),
		now:     func() time.Time { return time.Now().UTC() },
		assets:  make(map[string]*assetState, len(assets)),
	}
	for _, a := range assets {
		e.assets[a] = &assetState{}
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Buffer exposes the replay buffer the engine records into.
func (e *Engine) Buffer() *replay.Buffer {
	return e.buffer
}

// Decide runs one decision cycle for asset.
func (e *Engine) Decide(ctx context.Context, asset string, risk model.RiskView) (model.PolicyDecision, error) {
	st, ok := e.assets[asset]
	if !ok {
		return model.PolicyDecision{}, errors.Wrapf(exception.ErrUnknownAsset, "asset: %s", asset)
	}
	start := time.Now()
	now := e.now()
	hold := model.Hold(asset, now)

	st.mu.Lock()
	defer st.mu.Unlock()

	snap, err := e.source.Latest(asset, now)
	if err != nil {
		e.metrics.IncStaleSkip()
		return hold, err
	}
	if !snap.Stale {
		st.push(snap, e.cfg.WindowSize)
	}
	if snap.Stale || len(st.window) == 0 {
		e.metrics.IncStaleSkip()
		st.hasPrev = false
		e.metrics.ObserveDecision(hold.Action, time.Since(start))
		return hold, nil
	}

	w := newWindow(asset, st.window, e.cfg.WindowSize)
	e.record(st, w, snap, risk, now)

	d, err := e.infer(ctx, w, risk)
	if err != nil {
		e.metrics.IncOracleError()
		st.prevAction = hold
		return hold, err
	}
	if err := validate(d); err != nil {
		e.metrics.IncOracleError()
		st.prevAction = hold
		return hold, err
	}

	d.Asset = asset
	d.Timestamp = now
	d.TraceID = e.traces.Next()
	if d.Confidence < e.cfg.ConfidenceThreshold {
		logs.Debugf("policy %s: %s at confidence %.3f below threshold %.3f, holding", asset, d.Action, d.Confidence, e.cfg.ConfidenceThreshold)
		d.Action = hold.Action
	}
	if d.Action == hold.Action {
		d.Size = decimal.Zero
	}
	st.prevAction = d

	e.metrics.ObserveDecision(d.Action, time.Since(start))
	e.maybeTrain()
	return d, nil
}

func (st *assetState) push(snap model.LiquiditySnapshot, size int) {
	if n := len(st.window); n > 0 && !snap.Timestamp.After(st.window[n-1].Timestamp) {
		return
	}
	st.window = append(st.window, snap)
	if over := len(st.window) - size; over > 0 {
		st.window = append(st.window[:0], st.window[over:]...)
	}
}

// record links the previous cycle to the reward observed since and remembers
// the current state for the next cycle.
func (e *Engine) record(st *assetState, w Window, snap model.LiquiditySnapshot, risk model.RiskView, now time.Time) {
	if st.hasPrev {
		e.buffer.Add(replay.Entry{
			Asset:     w.Asset,
			Timestamp: now,
			State:     st.prevState,
			Action:    st.prevAction.Action,
			Reward:    st.reward(snap, risk),
			NextState: w.Features,
		})
	}
	st.hasPrev = true
	st.prevState = w.Features
	st.prevMid = snap.Mid
	st.prevScore = snap.Score
	st.prevRealized = risk.AssetRealized
}

// reward is the asset's realized P&L delta over equity, or the
// liquidity-adjusted mid return when nothing was realized on it.
func (st *assetState) reward(snap model.LiquiditySnapshot, risk model.RiskView) float64 {
	delta := risk.AssetRealized.Sub(st.prevRealized)
	if !delta.IsZero() && risk.Equity.IsPositive() {
		return delta.Div(risk.Equity).InexactFloat64()
	}
	if st.prevMid <= 0 {
		return 0
	}
	ret := (snap.Mid - st.prevMid) / st.prevMid
	return float64(st.prevAction.Action.Direction()) * ret * st.prevScore
}

type inferResult struct {
	d   model.PolicyDecision
	err error
}

func (e *Engine) infer(ctx context.Context, w Window, risk model.RiskView) (model.PolicyDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.InferTimeout)
	defer cancel()

	done := make(chan inferResult, 1)
	go func() {
		d, err := e.oracle.Infer(ctx, w, risk)
		done <- inferResult{d: d, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return model.PolicyDecision{}, errors.Wrapf(exception.ErrOracleTimeout, "asset: %s, timeout: %s", w.Asset, e.cfg.InferTimeout)
			}
			return model.PolicyDecision{}, errors.Wrapf(r.err, "oracle infer, asset: %s", w.Asset)
		}
		return r.d, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.PolicyDecision{}, errors.Wrapf(exception.ErrOracleTimeout, "asset: %s, timeout: %s", w.Asset, e.cfg.InferTimeout)
		}
		return model.PolicyDecision{}, ctx.Err()
	}
}

func validate(d model.PolicyDecision) error {
	if !d.Action.IsAvailable() {
		return errors.Wrap(exception.ErrInvalidDecision, "unknown action").With("action", uint8(d.Action))
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return errors.Wrap(exception.ErrInvalidDecision, "confidence out of [0,1]").With("confidence", d.Confidence)
	}
	if d.Size.IsNegative() {
		return errors.Wrap(exception.ErrInvalidDecision, "negative size").With("size", d.Size.String())
	}
	return nil
}

func (e *Engine) maybeTrain() {
	n := e.cycles.Add(1)
	if n%uint64(e.cfg.UpdateFrequency) != 0 || e.buffer.Len() < e.cfg.BatchSize {
		return
	}
	batch := e.buffer.Sample(e.cfg.BatchSize)
	if err := e.train.TryPublish(batch); err != nil {
		e.metrics.IncTrainDrop()
		logs.Debugf("policy: training batch dropped at cycle %d, err: %+v", n, err)
	}
}

// RunTrainer consumes training batches until ctx is done or Close is called.
// It is the only caller of Oracle.TrainStep.
func (e *Engine) RunTrainer(ctx context.Context) {
	e.train.Run(ctx, func(batch []replay.Entry) {
		tctx, cancel := context.WithTimeout(ctx, e.cfg.TrainTimeout)
		defer cancel()
		if err := e.oracle.TrainStep(tctx, batch); err != nil {
			logs.Warnf("policy: train step on %d entries failed, err: %+v", len(batch), err)
			return
		}
		e.metrics.IncTrainBatch()
	})
}

// Close stops accepting training batches.
func (e *Engine) Close() {
	e.train.Close()
}
