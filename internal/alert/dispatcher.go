package alert

import (
	"context"
	"time"

	"alats/internal/bus"
	"alats/internal/model/enum"
	"alats/internal/obs"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Dispatcher queues alerts for a background worker. Notify never blocks: a
// full queue drops the alert.
type Dispatcher struct {
	target  Notifier
	queue   *bus.Queue[Alert]
	timeout time.Duration
	metrics *obs.Metrics
}

// NewDispatcher creates a dispatcher delivering to target.
func NewDispatcher(target Notifier, size int, timeout time.Duration, metrics *obs.Metrics) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		target:  target,
		queue:   bus.NewQueue[Alert](size),
		timeout: timeout,
		metrics: metrics,
	}
}

func (d *Dispatcher) Notify(_ context.Context, severity enum.Severity, message string) error {
	err := d.queue.TryPublish(Alert{Severity: severity, Message: message, Time: time.Now().UTC()})
	if err != nil {
		d.metrics.IncAlertDrop()
		logs.Warnf("alert: dropped [%s] %s, err: %+v", severity, message, err)
		return errors.Wrap(err, "dispatch alert")
	}
	return nil
}

// Run delivers queued alerts until ctx is done or the dispatcher is closed
// and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	d.queue.Run(ctx, func(a Alert) {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.target.Notify(callCtx, a.Severity, a.Message); err != nil {
			logs.Warnf("alert: deliver [%s] %s, err: %+v", a.Severity, a.Message, err)
		}
	})
}

// Close stops accepting alerts; queued ones are still delivered by Run.
func (d *Dispatcher) Close() {
	d.queue.Close()
}
