package og

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"alats/internal/exchange"
	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/internal/obs"
	"alats/pkg/exception"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Config controls order execution.
type Config struct {
	MaxRetries     int
	Backoff        Backoff
	CallTimeout    time.Duration
	RateLimit      int64
	StopLossPct    decimal.Decimal
	TakeProfitPct  decimal.Decimal
	DrainTimeout   time.Duration
	PollInterval   time.Duration
	RetainTerminal time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.RetainTerminal <= 0 {
		c.RetainTerminal = 10 * time.Minute
	}
	return c
}

// FillHandler receives every incremental fill, in order, per order.
type FillHandler func(ctx context.Context, fill model.Fill)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, severity enum.Severity, message string) error
}

// Archiver stores terminal orders as immutable records.
type Archiver interface {
	Archive(ctx context.Context, order model.Order) error
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithFillHandler sets the handler applying fills to account state. It runs
// inside the capture section and must not call Capture.
func WithFillHandler(h FillHandler) Option {
	return func(c *Coordinator) { c.onFill = h }
}

// WithPostFill sets a hook run after a fill is fully applied, such as a
// checkpoint commit.
func WithPostFill(h FillHandler) Option {
	return func(c *Coordinator) { c.postFill = h }
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithArchiver(a Archiver) Option {
	return func(c *Coordinator) { c.archiver = a }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator drives orders from creation to a terminal state.
type Coordinator struct {
	cfg      Config
	ex       exchange.Exchange
	pool     *Pool
	fsm      *StateMachine
	assets   map[string]model.Asset
	onFill   FillHandler
	postFill FillHandler
	notifier Notifier
	archiver Archiver
	metrics  *obs.Metrics
	now      func() time.Time

	// capture keeps order transitions and their fills atomic with respect
	// to Capture.
	capture sync.RWMutex
	closed  atomic.Bool
	bg      context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewCoordinator creates a coordinator trading the given assets on ex.
func NewCoordinator(cfg Config, ex exchange.Exchange, assets []model.Asset, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	bg, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:    cfg,
		ex:     ex,
		pool:   NewPool(cfg.RateLimit, cfg.CallTimeout),
		fsm:    NewStateMachine(),
		assets: make(map[string]model.Asset, len(assets)),
		now:    func() time.Time { return time.Now().UTC() },
		bg:     bg,
		stop:   stop,
	}
	for _, a := range assets {
		c.assets[a.Symbol] = a
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pool returns the bounded worker pool shared by all exchange calls.
func (c *Coordinator) Pool() *Pool {
	return c.pool
}

// StateMachine exposes the order registry.
func (c *Coordinator) StateMachine() *StateMachine {
	return c.fsm
}

// OpenOrders returns copies of every non-terminal order.
func (c *Coordinator) OpenOrders() []model.Order {
	return c.fsm.Open("")
}

// Capture returns the account state from risk together with the open orders,
// with no fill half applied between the two.
func (c *Coordinator) Capture(risk func() model.RiskState) (model.RiskState, []model.Order) {
	c.capture.Lock()
	defer c.capture.Unlock()
	return risk(), c.fsm.Open("")
}

// Submit registers an entry order and submits it. Transient failures are
// retried with backoff under the same client order id.
func (c *Coordinator) Submit(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	if c.closed.Load() {
		return model.Order{}, exception.ErrCoordinatorClosed
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := c.validate(req); err != nil {
		return model.Order{}, err
	}

	o := model.Order{
		ID:        req.ID,
		Asset:     req.Asset,
		Side:      req.Side,
		Kind:      req.Kind,
		Role:      enum.OrderRoleEntry,
		Qty:       req.Qty,
		Price:     req.Price,
		Status:    enum.OrderStatusCreated,
		CreatedAt: c.now(),
	}
	if err := c.fsm.Register(o); err != nil {
		return model.Order{}, err
	}
	logs.Infof("og: submit %s %s %s %s qty %s", o.ID, o.Asset, o.Side, o.Kind, o.Qty)
	return c.place(ctx, o.ID)
}

// Cancel cancels an order and confirms the result with the exchange.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	release, err := c.fsm.Acquire(id)
	if err != nil {
		return err
	}

	o, _ := c.fsm.Order(id)
	switch {
	case o.Status.IsTerminal():
		release()
		return nil
	case o.Status == enum.OrderStatusCreated:
		o, err = c.fsm.Transition(id, enum.OrderStatusCancelled, c.now(), nil)
		release()
		if err != nil {
			return err
		}
		c.settle(ctx, o, nil)
		return nil
	}

	err = c.pool.Do(ctx, func(ctx context.Context) error {
		return c.ex.CancelOrder(ctx, id)
	})
	if err != nil && !errors.Is(err, exception.ErrUnknownOrder) {
		release()
		return errors.Wrap(err, "cancel order").With("id", id)
	}

	rep, err := c.status(ctx, id)
	if err != nil {
		release()
		return err
	}
	o, brackets, changed, err := c.applyLocked(ctx, id, rep)
	release()
	if err != nil {
		return err
	}
	if changed {
		c.settle(ctx, o, brackets)
	}
	if !o.Status.IsTerminal() {
		return exception.Transient(nil, "cancel not yet confirmed for "+id)
	}
	return nil
}

// Sync polls the exchange for every open order of asset and applies what it
// reports.
func (c *Coordinator) Sync(ctx context.Context, asset string) error {
	var firstErr error
	for _, o := range c.fsm.Open(asset) {
		if o.Status == enum.OrderStatusCreated {
			continue
		}
		if _, err := c.syncOrder(ctx, o.ID); err != nil {
			logs.Warnf("og: sync %s, err: %+v", o.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	c.fsm.Prune(c.now().Add(-c.cfg.RetainTerminal))
	return firstErr
}

// Reconcile restores orders from a checkpoint and moves each non-terminal one
// to the state the exchange reports. Orders created but never acknowledged are
// resubmitted with the same id; submitted orders the exchange does not know
// become FAILED.
func (c *Coordinator) Reconcile(ctx context.Context, orders []model.Order) error {
	pending := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status.IsTerminal() {
			continue
		}
		if err := c.fsm.Register(o); err != nil {
			logs.Warnf("og: reconcile register %s, err: %+v", o.ID, err)
			continue
		}
		pending = append(pending, o)
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, o := range pending {
		release, err := c.fsm.Acquire(o.ID)
		if err != nil {
			record(err)
			continue
		}

		rep, err := c.status(ctx, o.ID)
		switch {
		case err == nil:
			updated, brackets, changed, err := c.applyLocked(ctx, o.ID, rep)
			release()
			record(err)
			if changed {
				c.settle(ctx, updated, brackets)
			}
		case errors.Is(err, exception.ErrUnknownOrder) && o.Status == enum.OrderStatusCreated:
			release()
			logs.Infof("og: reconcile resubmit %s", o.ID)
			_, err = c.place(ctx, o.ID)
			record(err)
		case errors.Is(err, exception.ErrUnknownOrder):
			updated, terr := c.fsm.Transition(o.ID, enum.OrderStatusFailed, c.now(), func(o *model.Order) {
				o.LastError = "unknown to exchange after restart"
			})
			release()
			record(terr)
			if terr == nil {
				c.alert(ctx, enum.SeverityCritical, fmt.Sprintf("order %s on %s unknown to exchange after restart", o.ID, o.Asset))
				c.settle(ctx, updated, nil)
			}
		default:
			release()
			record(err)
		}
	}

	logs.Infof("og: reconciled %d orders, %d still open", len(pending), len(c.fsm.Open("")))
	return firstErr
}

// Drain stops new submissions and polls open orders until each is terminal or
// confirmed resting on the exchange, bounded by the drain timeout.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.closed.Store(true)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	defer cancel()

	for {
		unconfirmed := 0
		for _, o := range c.fsm.Open("") {
			if o.Status == enum.OrderStatusCreated {
				if o, _ = c.place(ctx, o.ID); o.Status == enum.OrderStatusCreated {
					unconfirmed++
				}
				continue
			}
			if _, err := c.syncOrder(ctx, o.ID); err != nil {
				unconfirmed++
			}
		}
		if unconfirmed == 0 {
			break
		}
		if err := sleep(ctx, c.cfg.PollInterval); err != nil {
			logs.Warnf("og: drain gave up with %d unconfirmed orders", unconfirmed)
			return errors.Wrap(err, "drain")
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain background cancels")
	}

	logs.Infof("og: drained, %d orders confirmed pending", len(c.fsm.Open("")))
	return nil
}

// Close stops background cancellations.
func (c *Coordinator) Close() {
	c.closed.Store(true)
	c.stop()
	c.wg.Wait()
}

func (c *Coordinator) validate(req model.OrderRequest) error {
	if _, ok := c.assets[req.Asset]; !ok {
		return errors.Wrap(exception.ErrUnknownAsset, "submit").With("asset", req.Asset)
	}
	switch {
	case !req.Side.IsAvailable():
		return errors.Wrap(exception.ErrInvalidArgument, "invalid side")
	case !req.Kind.IsAvailable():
		return errors.Wrap(exception.ErrInvalidArgument, "invalid order kind")
	case !req.Qty.IsPositive():
		return errors.Wrap(exception.ErrInvalidArgument, "quantity must be positive")
	case req.Kind.NeedsPrice() && !req.Price.IsPositive():
		return errors.Wrap(exception.ErrInvalidArgument, "price required for "+req.Kind.String())
	}
	return nil
}

// place submits a CREATED order, retrying transient failures with the same
// client id.
func (c *Coordinator) place(ctx context.Context, id string) (model.Order, error) {
	release, err := c.fsm.Acquire(id)
	if err != nil {
		return model.Order{}, err
	}
	o, _ := c.fsm.Order(id)
	if o.Status != enum.OrderStatusCreated {
		release()
		return o, nil
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := c.pool.Do(ctx, func(ctx context.Context) error {
			_, err := c.ex.PlaceOrder(ctx, o.Request())
			return err
		})
		if err == nil {
			o, err = c.fsm.Transition(id, enum.OrderStatusSubmitted, c.now(), nil)
			release()
			c.metrics.ObserveSubmit(time.Since(start))
			return o, err
		}
		lastErr = err

		if ctx.Err() != nil {
			release()
			return o, errors.Wrap(ctx.Err(), "submit interrupted").With("id", id)
		}
		if errors.Is(err, exception.ErrOrderRejected) {
			o, _ = c.fsm.Transition(id, enum.OrderStatusRejected, c.now(), func(o *model.Order) {
				o.LastError = err.Error()
			})
			release()
			logs.Warnf("og: order %s rejected, err: %+v", id, err)
			c.settle(ctx, o, nil)
			return o, err
		}
		if !exception.IsRetryable(err) || attempt >= c.cfg.MaxRetries {
			break
		}

		o, _ = c.fsm.Update(id, func(o *model.Order) {
			o.Retries++
			o.LastError = err.Error()
		})
		c.metrics.IncRetry()
		wait := c.cfg.Backoff.Next(attempt + 1)
		logs.Warnf("og: submit %s attempt %d failed, retry in %s, err: %+v", id, attempt+1, wait, err)
		if err := sleep(ctx, wait); err != nil {
			release()
			return o, errors.Wrap(err, "submit interrupted").With("id", id)
		}
	}

	// The last acknowledgement may have been lost; ask before giving up.
	if exception.IsRetryable(lastErr) {
		if rep, err := c.status(ctx, id); err == nil {
			updated, brackets, changed, err := c.applyLocked(ctx, id, rep)
			release()
			if changed {
				c.settle(ctx, updated, brackets)
			}
			return updated, err
		}
	}

	o, _ = c.fsm.Transition(id, enum.OrderStatusFailed, c.now(), func(o *model.Order) {
		o.LastError = lastErr.Error()
	})
	release()
	logs.Errorf("og: order %s failed after %d attempts, err: %+v", id, o.Retries+1, lastErr)
	c.alert(ctx, enum.SeverityCritical, fmt.Sprintf("order %s %s on %s failed: %v", o.ID, o.Role, o.Asset, lastErr))
	c.settle(ctx, o, nil)
	if exception.IsRetryable(lastErr) {
		return o, errors.Wrap(exception.ErrRetriesExhausted, lastErr.Error()).With("id", id)
	}
	return o, errors.Wrap(lastErr, "place order").With("id", id)
}

func (c *Coordinator) syncOrder(ctx context.Context, id string) (model.Order, error) {
	release, err := c.fsm.Acquire(id)
	if err != nil {
		return model.Order{}, err
	}
	o, _ := c.fsm.Order(id)
	if o.Status.IsTerminal() {
		release()
		return o, nil
	}

	rep, err := c.status(ctx, id)
	if err != nil {
		release()
		return o, err
	}
	o, brackets, changed, err := c.applyLocked(ctx, id, rep)
	release()
	if err != nil {
		return o, err
	}
	if changed {
		c.settle(ctx, o, brackets)
	}
	return o, nil
}

func (c *Coordinator) status(ctx context.Context, id string) (model.OrderReport, error) {
	var rep model.OrderReport
	err := c.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		rep, err = c.ex.OrderStatus(ctx, id)
		return err
	})
	return rep, err
}

// applyLocked applies an exchange report while the caller holds the order's
// operation lock. Brackets of a finished entry are registered before its fill
// is delivered, so a checkpoint taken by the fill handler already holds them.
func (c *Coordinator) applyLocked(ctx context.Context, id string, rep model.OrderReport) (model.Order, []string, bool, error) {
	c.capture.RLock()
	o, fill, changed, err := c.apply(id, rep)
	if err != nil || !changed {
		c.capture.RUnlock()
		return o, nil, changed, err
	}

	var brackets []string
	if o.Role == enum.OrderRoleEntry && o.Status.IsTerminal() && o.FilledQty.IsPositive() {
		if brackets, err = c.registerBrackets(o); err != nil {
			logs.Errorf("og: register brackets for %s, err: %+v", o.ID, err)
		}
	}
	if fill != nil {
		c.deliver(ctx, *fill)
	}
	c.capture.RUnlock()

	if fill != nil && c.postFill != nil {
		c.postFill(ctx, *fill)
	}
	return o, brackets, true, nil
}

func (c *Coordinator) apply(id string, rep model.OrderReport) (model.Order, *model.Fill, bool, error) {
	o, ok := c.fsm.Order(id)
	if !ok {
		return o, nil, false, errors.Wrap(exception.ErrUnknownOrder, "apply report").With("id", id)
	}
	if o.Status.IsTerminal() {
		return o, nil, false, nil
	}

	now := c.now()
	if o.Status == enum.OrderStatusCreated {
		var err error
		if o, err = c.fsm.Transition(id, enum.OrderStatusSubmitted, now, nil); err != nil {
			return o, nil, false, err
		}
	}

	delta := rep.FilledQty.Sub(o.FilledQty)
	target := rep.Status
	if target == enum.OrderStatusCreated || target == enum.OrderStatusSubmitted {
		target = o.Status
		if delta.IsPositive() {
			target = enum.OrderStatusPartiallyFilled
		}
	}
	if target == o.Status && !delta.IsPositive() {
		return o, nil, false, nil
	}

	var fill *model.Fill
	if delta.IsPositive() {
		price := rep.AvgPrice
		if o.FilledQty.IsPositive() {
			price = rep.AvgPrice.Mul(rep.FilledQty).Sub(o.AvgFillPrice.Mul(o.FilledQty)).Div(delta)
		}
		fill = &model.Fill{
			OrderID: id,
			Asset:   o.Asset,
			Side:    o.Side,
			Role:    o.Role,
			Qty:     delta,
			Price:   price,
			Time:    now,
		}
	}

	o, err := c.fsm.Transition(id, target, now, func(o *model.Order) {
		if delta.IsPositive() {
			o.FilledQty = rep.FilledQty
			o.AvgFillPrice = rep.AvgPrice
		}
		if rep.Reason != "" {
			o.LastError = rep.Reason
		}
	})
	if err != nil {
		return o, nil, false, err
	}
	return o, fill, true, nil
}

func (c *Coordinator) deliver(ctx context.Context, fill model.Fill) {
	c.metrics.IncFill()
	logs.Infof("og: fill %s %s %s %s @ %s", fill.OrderID, fill.Asset, fill.Side, fill.Qty, fill.Price)
	if c.onFill != nil {
		c.onFill(ctx, fill)
	}
}

// settle runs the follow-ups of an order reaching a terminal state: bracket
// submission, OCO cancellation and archiving.
func (c *Coordinator) settle(ctx context.Context, o model.Order, brackets []string) {
	if !o.Status.IsTerminal() {
		return
	}
	c.metrics.ObserveOrderStatus(o.Status)
	logs.Infof("og: order %s %s %s", o.ID, o.Role, o.Status)

	for _, id := range brackets {
		if _, err := c.place(ctx, id); err != nil {
			logs.Errorf("og: place bracket %s for %s, err: %+v", id, o.ID, err)
		}
	}
	if o.Role.IsBracket() && o.Status == enum.OrderStatusFilled && o.SiblingID != "" {
		c.cancelInBackground(o.SiblingID)
	}
	if c.archiver != nil {
		if err := c.archiver.Archive(ctx, o); err != nil {
			logs.Warnf("og: archive %s, err: %+v", o.ID, err)
		}
	}
}

func (c *Coordinator) cancelInBackground(id string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.cfg.Backoff.Retry(c.bg, c.cfg.MaxRetries+1, func(attempt int) error {
			err := c.Cancel(c.bg, id)
			if err != nil {
				logs.Warnf("og: oco cancel %s attempt %d, err: %+v", id, attempt, err)
			}
			return err
		})
		if err == nil || c.bg.Err() != nil {
			return
		}
		c.alert(c.bg, enum.SeverityCritical, "oco cancel of "+id+" gave up")
	}()
}

func (c *Coordinator) alert(ctx context.Context, severity enum.Severity, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, severity, message); err != nil {
		logs.Warnf("og: notify, err: %+v", err)
	}
}
