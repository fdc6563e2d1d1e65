package liquidity

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"alats/internal/model"
	"alats/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	defaultInterval     = time.Second
	defaultWindow       = 100
	defaultStaleCeiling = 5
)

// Weights are independent multipliers for the score components. They are not
// required to sum to 1; Normalize divides the score by their sum.
type Weights struct {
	Spread    float64
	Depth     float64
	Volume    float64
	Normalize bool
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Spread + w.Depth + w.Volume
}

// Config controls the aggregator.
type Config struct {
	Interval     time.Duration
	Weights      Weights
	Window       int
	StaleCeiling int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.StaleCeiling <= 0 {
		c.StaleCeiling = defaultStaleCeiling
	}
	return c
}

// MaxAge is the age after which a snapshot is stale.
func (c Config) MaxAge() time.Duration {
	return 2 * c.Interval
}

// Aggregator scores raw samples per asset and publishes them to a Cache.
type Aggregator struct {
	cfg    Config
	cache  *Cache
	assets map[string]*assetState
}

type assetState struct {
	mu     sync.Mutex
	spread rolling
	depth  rolling
	volume rolling
	last   model.LiquiditySnapshot
	misses int

	staleReads atomic.Int64
}

// NewAggregator creates an aggregator for a fixed asset set.
func NewAggregator(cfg Config, assets []string) *Aggregator {
	cfg = cfg.withDefaults()
	states := make(map[string]*assetState, len(assets))
	for _, a := range assets {
		states[a] = &assetState{
			spread: newRolling(cfg.Window),
			depth:  newRolling(cfg.Window),
			volume: newRolling(cfg.Window),
		}
	}
	return &Aggregator{cfg: cfg, cache: NewCache(assets), assets: states}
}

// Cache exposes the latest-value cache read by the decision loop.
func (a *Aggregator) Cache() *Cache {
	return a.cache
}

// Config returns the resolved configuration.
func (a *Aggregator) Config() Config {
	return a.cfg
}

// Ingest folds one raw sample into the asset's snapshot. A fetch error or a
// malformed sample keeps the last known-good snapshot; only when that happens
// more than StaleCeiling times in a row is ErrStaleData returned.
func (a *Aggregator) Ingest(asset string, sample model.MarketSample, fetchErr error) (model.LiquiditySnapshot, error) {
	st, ok := a.assets[asset]
	if !ok {
		return model.LiquiditySnapshot{}, errors.Wrapf(exception.ErrUnknownAsset, "asset: %s", asset)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if fetchErr != nil || !validSample(sample, st.last.Timestamp) {
		st.misses++
		if fetchErr != nil {
			logs.Debugf("liquidity %s: sample fetch failed (miss %d), err: %+v", asset, st.misses, fetchErr)
		} else {
			logs.Debugf("liquidity %s: malformed sample dropped (miss %d): %+v", asset, st.misses, sample)
		}
		if st.misses > a.cfg.StaleCeiling {
			return st.last, errors.Wrapf(exception.ErrStaleData, "asset: %s, consecutive misses: %d", asset, st.misses)
		}
		return st.last, nil
	}

	st.misses = 0
	st.spread.push(sample.Spread)
	st.depth.push(sample.Depth)
	st.volume.push(sample.Volume)

	snap := model.LiquiditySnapshot{
		Asset:      asset,
		Timestamp:  sample.Timestamp,
		Spread:     sample.Spread,
		Depth:      sample.Depth,
		Volume:     sample.Volume,
		Mid:        sample.Mid,
		NormSpread: 1 - st.spread.norm(sample.Spread),
		NormDepth:  st.depth.norm(sample.Depth),
		NormVolume: st.volume.norm(sample.Volume),
		WeightSum:  a.cfg.Weights.Sum(),
		Normalized: a.cfg.Weights.Normalize,
	}
	snap.Score = score(a.cfg.Weights, snap.NormSpread, snap.NormDepth, snap.NormVolume)
	st.last = snap
	a.cache.Store(snap)
	return snap, nil
}

// Latest returns the cached snapshot for asset with its stale flag resolved at
// now. ErrStaleData is returned once the asset has been missing or stale for
// more than StaleCeiling consecutive observations.
func (a *Aggregator) Latest(asset string, now time.Time) (model.LiquiditySnapshot, error) {
	st, ok := a.assets[asset]
	if !ok {
		return model.LiquiditySnapshot{}, errors.Wrapf(exception.ErrUnknownAsset, "asset: %s", asset)
	}
	snap, ok := a.cache.Load(asset)
	if !ok {
		snap = model.LiquiditySnapshot{Asset: asset}
	}
	snap.Stale = snap.IsStaleAt(now, a.cfg.MaxAge())

	if !snap.Stale {
		st.staleReads.Store(0)
		return snap, nil
	}
	n := st.staleReads.Add(1)
	if n > int64(a.cfg.StaleCeiling) {
		return snap, errors.Wrapf(exception.ErrStaleData, "asset: %s, consecutive stale reads: %d", asset, n)
	}
	return snap, nil
}

func score(w Weights, spread, depth, volume float64) float64 {
	s := w.Spread*spread + w.Depth*depth + w.Volume*volume
	if w.Normalize {
		if sum := w.Sum(); sum != 0 {
			s /= sum
		}
	}
	return s
}

func validSample(s model.MarketSample, last time.Time) bool {
	for _, v := range [...]float64{s.Spread, s.Depth, s.Volume, s.Mid} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	if s.Mid <= 0 || s.Timestamp.IsZero() {
		return false
	}
	return !s.Timestamp.Before(last)
}

// rolling keeps the last n values for min/max normalization.
type rolling struct {
	buf  []float64
	next int
	full bool
}

func newRolling(n int) rolling {
	return rolling{buf: make([]float64, n)}
}

func (r *rolling) push(v float64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *rolling) values() []float64 {
	if r.full {
		return r.buf
	}
	return r.buf[:r.next]
}

// norm maps v into [0,1] against the window range; a flat window yields 0.5.
func (r *rolling) norm(v float64) float64 {
	vals := r.values()
	if len(vals) == 0 {
		return 0.5
	}
	lo, hi := vals[0], vals[0]
	for _, x := range vals[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if hi-lo <= 0 {
		return 0.5
	}
	n := (v - lo) / (hi - lo)
	return math.Max(0, math.Min(1, n))
}
