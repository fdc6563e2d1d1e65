/*
Core runs the trading control loop.

# Module
  - sampler: one task per asset polling market data into the liquidity aggregator
  - decision loop: one task per asset, sync open orders, decide, authorize, submit
  - fill path: risk gate update under the coordinator capture section, then a checkpoint commit
  - heartbeat: periodic checkpoint and metrics line
  - recovery: newest intact checkpoint, risk restore, order reconciliation

# Source
  - market data and order status from the exchange
  - checkpoint from the store at startup

# Produce
  - orders to the exchange
  - checkpoints to the store
  - operator alerts

# Sharded
  - asset
*/
package core

import (
	"context"
	"sync"
	"time"

	"alats/internal/alert"
	"alats/internal/exchange"
	"alats/internal/liquidity"
	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/internal/obs"
	"alats/internal/og"
	"alats/internal/policy"
	"alats/internal/replay"
	"alats/internal/risk"
	"alats/internal/state"
	"alats/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

// Deps are the external collaborators of the runtime. Notifier should not
// block; alert.Dispatcher is the usual choice.
type Deps struct {
	Exchange exchange.Exchange
	Oracle   policy.Oracle
	Store    state.Store
	Archive  state.Archive
	Notifier alert.Notifier
	Metrics  *obs.Metrics
}

// Runtime owns every component of one trading process.
type Runtime struct {
	cfg      Config
	ex       exchange.Exchange
	store    state.Store
	notifier alert.Notifier
	metrics  *obs.Metrics

	agg    *liquidity.Aggregator
	engine *policy.Engine
	gate   *risk.Gate
	coord  *og.Coordinator
	ckpt   *state.Checkpointer
	assets map[string]model.Asset

	fatal chan error

	rejectsMu sync.Mutex
	rejects   map[string]int
}

// New wires the components. Nothing runs until Recover and Run are called.
func New(cfg Config, deps Deps) (*Runtime, error) {
	if deps.Exchange == nil || deps.Oracle == nil || deps.Store == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "runtime dependencies")
	}
	if len(cfg.Assets) == 0 {
		return nil, errors.Wrap(exception.ErrConfig, "no assets configured")
	}
	if !cfg.InitialEquity.IsPositive() {
		return nil, errors.Wrap(exception.ErrConfig, "initial equity must be positive")
	}
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = obs.NewMetrics()
	}
	if deps.Notifier == nil {
		deps.Notifier = alert.LogNotifier{}
	}

	r := &Runtime{
		cfg:      cfg,
		ex:       deps.Exchange,
		store:    deps.Store,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		assets:   make(map[string]model.Asset, len(cfg.Assets)),
		fatal:    make(chan error, 1),
		rejects:  make(map[string]int, len(cfg.Assets)),
	}
	for _, a := range cfg.Assets {
		r.assets[a.Symbol] = a
	}
	symbols := cfg.Symbols()

	r.agg = liquidity.NewAggregator(cfg.Liquidity, symbols)
	engine, err := policy.NewEngine(cfg.Policy, deps.Oracle, r.agg, replay.NewBuffer(cfg.BufferCapacity, cfg.Seed), symbols, r.metrics, obs.NewTraceGenerator(0))
	if err != nil {
		return nil, err
	}
	r.engine = engine
	r.gate = risk.NewGate(cfg.Risk, cfg.InitialEquity)

	opts := []og.Option{
		og.WithFillHandler(r.onFill),
		og.WithPostFill(r.afterFill),
		og.WithNotifier(r.notifier),
		og.WithMetrics(r.metrics),
	}
	if deps.Archive != nil {
		opts = append(opts, og.WithArchiver(deps.Archive))
	}
	r.coord = og.NewCoordinator(cfg.Execution, deps.Exchange, cfg.Assets, opts...)
	r.ckpt = state.NewCheckpointer(cfg.Checkpoint, deps.Store, state.SourceFunc(func() (model.RiskState, []model.Order) {
		return r.coord.Capture(r.gate.State)
	}), r.metrics)
	return r, nil
}

func (r *Runtime) Config() Config {
	return r.cfg
}

func (r *Runtime) Gate() *risk.Gate {
	return r.gate
}

func (r *Runtime) Coordinator() *og.Coordinator {
	return r.coord
}

func (r *Runtime) Engine() *policy.Engine {
	return r.engine
}

func (r *Runtime) Aggregator() *liquidity.Aggregator {
	return r.agg
}

func (r *Runtime) Checkpointer() *state.Checkpointer {
	return r.ckpt
}

func (r *Runtime) Metrics() *obs.Metrics {
	return r.metrics
}

// Recover restores risk state and open orders from the newest intact
// checkpoint and reconciles those orders with the exchange before any
// decision is made. It ends with a checkpoint of the reconciled state.
func (r *Runtime) Recover(ctx context.Context) error {
	res, err := state.Recover(ctx, r.store)
	if err != nil {
		return errors.Wrap(exception.ErrPersistenceFatal, err.Error())
	}
	if len(res.Skipped) > 0 {
		r.alert(ctx, enum.SeverityWarning, "checkpoint recovery skipped corrupted sequences, falling back to an older checkpoint")
	}

	r.ckpt.Resume(res.Floor)
	if cp := res.Checkpoint; cp != nil {
		r.gate.Restore(cp.Risk)
		if err := r.coord.Reconcile(ctx, cp.Orders); err != nil {
			logs.Warnf("core: reconcile finished with errors, unresolved orders stay open, err: %+v", err)
		}
		logs.Infof("core: resumed from checkpoint %d, equity %s, %d open orders", cp.Seq, cp.Risk.Equity, len(r.coord.OpenOrders()))
	} else {
		logs.Infof("core: no checkpoint, fresh start with equity %s", r.cfg.InitialEquity)
	}

	if _, err := r.ckpt.Commit(ctx, "recovery"); err != nil {
		return errors.Wrap(exception.ErrPersistenceFatal, err.Error())
	}
	return nil
}

// Run drives the per-asset tasks until ctx is done or a fatal error occurs,
// then drains the coordinator and writes a final checkpoint.
func (r *Runtime) Run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)

	for _, a := range r.cfg.Assets {
		asset := a
		eg.Go(func() error {
			r.sampleLoop(gctx, asset.Symbol)
			return nil
		})
		eg.Go(func() error {
			r.decisionLoop(gctx, asset)
			return nil
		})
	}
	eg.Go(func() error {
		r.engine.RunTrainer(gctx)
		return nil
	})
	eg.Go(func() error {
		return r.ckpt.Run(gctx)
	})
	eg.Go(func() error {
		r.heartbeat(gctx)
		return nil
	})
	eg.Go(func() error {
		select {
		case err := <-r.fatal:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	logs.Infof("core: running %d assets", len(r.cfg.Assets))
	runErr := eg.Wait()
	if runErr != nil {
		logs.Errorf("core: stopping on fatal error, err: %+v", runErr)
		r.alert(context.Background(), enum.SeverityCritical, "trader stopping: "+runErr.Error())
	}
	return r.shutdown(runErr)
}

func (r *Runtime) shutdown(runErr error) error {
	r.engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*r.cfg.DrainTimeout)
	defer cancel()

	if err := r.coord.Drain(ctx); err != nil {
		logs.Warnf("core: drain incomplete, %d orders left open, err: %+v", len(r.coord.OpenOrders()), err)
	}
	r.coord.Close()

	cp, err := r.ckpt.Commit(ctx, "shutdown")
	if err != nil {
		logs.Errorf("core: final checkpoint failed, err: %+v", err)
		if runErr == nil {
			runErr = err
		}
	} else {
		logs.Infof("core: final checkpoint %d, %d orders confirmed pending", cp.Seq, len(cp.Orders))
	}
	return runErr
}

func (r *Runtime) sampleLoop(ctx context.Context, asset string) {
	ticker := time.NewTicker(r.cfg.SamplingInterval)
	defer ticker.Stop()
	for {
		r.sample(ctx, asset)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runtime) sample(ctx context.Context, asset string) {
	var sample model.MarketSample
	fetchErr := r.coord.Pool().Do(ctx, func(ctx context.Context) error {
		s, err := r.ex.MarketData(ctx, asset)
		sample = s
		return err
	})
	if ctx.Err() != nil {
		return
	}
	snap, err := r.agg.Ingest(asset, sample, fetchErr)
	if err != nil {
		logs.Warnf("core %s: %+v", asset, err)
		return
	}
	if fetchErr == nil && snap.Mid > 0 {
		r.gate.Mark(asset, decimal.NewFromFloat(snap.Mid))
	}
}

func (r *Runtime) decisionLoop(ctx context.Context, asset model.Asset) {
	ticker := time.NewTicker(r.cfg.SamplingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cycle(ctx, asset)
		}
	}
}

// cycle runs one decision cycle for asset. Every failure here is local to the
// asset.
func (r *Runtime) cycle(ctx context.Context, asset model.Asset) {
	if err := r.coord.Sync(ctx, asset.Symbol); err != nil && ctx.Err() == nil {
		logs.Warnf("core %s: sync open orders, err: %+v", asset.Symbol, err)
	}

	now := time.Now().UTC()
	d, err := r.engine.Decide(ctx, asset.Symbol, r.gate.View(asset.Symbol, now))
	if err != nil {
		if ctx.Err() == nil {
			logs.Warnf("core %s: decision cycle skipped, err: %+v", asset.Symbol, err)
		}
		return
	}
	if d.Action == enum.ActionHold {
		return
	}

	snap, ok := r.agg.Cache().Load(asset.Symbol)
	if !ok || snap.Mid <= 0 {
		return
	}
	mark := decimal.NewFromFloat(snap.Mid)

	start := time.Now()
	v := r.gate.Authorize(d, mark, now)
	r.metrics.ObserveVerdict(v.Kind, v.Reason, time.Since(start))
	if !v.Kind.Approved() {
		r.rejected(ctx, asset.Symbol, v)
		return
	}
	r.resetRejects(asset.Symbol)

	side, _ := d.Action.Side()
	qty := asset.QtyForNotional(v.Size, mark)
	if qty.IsZero() {
		logs.Debugf("core %s: %s notional %s below min order size at %s", asset.Symbol, d.Action, v.Size, mark)
		return
	}
	if v.Kind == enum.VerdictScaleDown {
		logs.Infof("core %s: trace %d scaled %s -> %s (%s)", asset.Symbol, d.TraceID, d.Size, v.Size, v.Reason)
	}

	o, err := r.coord.Submit(ctx, model.OrderRequest{
		Asset: asset.Symbol,
		Side:  side,
		Kind:  enum.OrderKindMarket,
		Qty:   qty,
	})
	if err != nil {
		if ctx.Err() == nil {
			logs.Warnf("core %s: trace %d submit failed, err: %+v", asset.Symbol, d.TraceID, err)
		}
		return
	}
	logs.Infof("core %s: trace %d %s qty %s at confidence %.3f -> order %s %s", asset.Symbol, d.TraceID, side, qty, d.Confidence, o.ID, o.Status)
}

func (r *Runtime) rejected(ctx context.Context, asset string, v model.Verdict) {
	r.rejectsMu.Lock()
	r.rejects[asset]++
	n := r.rejects[asset]
	r.rejectsMu.Unlock()

	logs.Debugf("core %s: rejected (%s), %d in a row", asset, v.Reason, n)
	if n == r.cfg.AlertThreshold {
		err := errors.Wrapf(exception.ErrRiskViolation, "%s rejected %d times in a row, last reason %s", asset, n, v.Reason)
		r.alert(ctx, enum.SeverityWarning, err.Error())
	}
}

func (r *Runtime) resetRejects(asset string) {
	r.rejectsMu.Lock()
	r.rejects[asset] = 0
	r.rejectsMu.Unlock()
}

// onFill runs inside the coordinator capture section.
func (r *Runtime) onFill(ctx context.Context, f model.Fill) {
	out := r.gate.ApplyFill(f)
	logs.Infof("core %s: fill %s %s %s@%s (%s), realized %s, position %s", f.Asset, f.OrderID, f.Side, f.Qty, f.Price, f.Role, out.Realized, out.Position.Qty)
	if out.CooldownTriggered {
		r.alert(ctx, enum.SeverityWarning, "stop-loss realized on "+f.Asset+", trading paused until "+out.CooldownUntil.Format(time.RFC3339))
	}
}

func (r *Runtime) afterFill(ctx context.Context, f model.Fill) {
	if _, err := r.ckpt.Commit(context.WithoutCancel(ctx), "fill"); exception.IsFatal(err) {
		select {
		case r.fatal <- err:
		default:
		}
	}
}

func (r *Runtime) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := r.metrics.Snapshot()
			st := r.gate.State()
			logs.Infof("core: heartbeat equity %s daily %s, decisions %d holds %d stale %d, verdicts %v, fills %d, open orders %d, checkpoints %d/%d failed, train %d dropped %d",
				st.Equity, st.DailyRealizedPnL, m.Decisions, m.Holds, m.StaleSkips, m.Verdicts, m.Fills,
				len(r.coord.OpenOrders()), m.Checkpoints, m.CkptFailures, m.TrainBatches, m.TrainDrops)
		}
	}
}

func (r *Runtime) alert(ctx context.Context, severity enum.Severity, message string) {
	if err := r.notifier.Notify(ctx, severity, message); err != nil {
		logs.Warnf("core: alert not delivered, err: %+v", err)
	}
}
