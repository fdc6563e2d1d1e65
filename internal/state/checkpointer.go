package state

import (
	"context"
	"sync"
	"time"

	"alats/internal/model"
	"alats/internal/obs"
	"alats/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Source captures the state to checkpoint in one consistent read.
type Source interface {
	Capture() (model.RiskState, []model.Order)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (model.RiskState, []model.Order)

func (f SourceFunc) Capture() (model.RiskState, []model.Order) {
	return f()
}

// Config controls checkpoint writes.
type Config struct {
	HeartbeatInterval time.Duration
	MaxFailures       int
	Retries           int
	RetryDelay        time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 50 * time.Millisecond
	}
	return c
}

// Checkpointer serializes checkpoint commits and assigns strictly increasing
// sequence numbers.
type Checkpointer struct {
	cfg     Config
	store   Store
	source  Source
	metrics *obs.Metrics

	mu       sync.Mutex
	next     uint64
	failures int
	last     uint64
}

// NewCheckpointer creates a checkpointer starting at sequence 1.
func NewCheckpointer(cfg Config, store Store, source Source, metrics *obs.Metrics) *Checkpointer {
	return &Checkpointer{
		cfg:     cfg.withDefaults(),
		store:   store,
		source:  source,
		metrics: metrics,
		next:    1,
	}
}

// Resume makes the next commit use floor+1.
func (c *Checkpointer) Resume(floor uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if floor+1 > c.next {
		c.next = floor + 1
	}
}

// LastSeq returns the sequence of the last successful commit.
func (c *Checkpointer) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Commit snapshots the source and saves it. A sequence number is consumed
// even when the save fails. After MaxFailures consecutive failed commits the
// error wraps exception.ErrPersistenceFatal.
func (c *Checkpointer) Commit(ctx context.Context, reason string) (Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	risk, orders := c.source.Capture()
	cp := Checkpoint{
		Seq:       c.next,
		CreatedAt: time.Now().UTC(),
		Reason:    reason,
		Risk:      risk,
		Orders:    orders,
	}
	c.next++

	payload, err := Encode(cp)
	if err == nil {
		err = c.save(ctx, cp.Seq, payload)
	}
	c.metrics.ObserveCheckpoint(time.Since(start), err)

	if err != nil {
		c.failures++
		logs.Errorf("state: checkpoint %d (%s) failed %d/%d, err: %+v", cp.Seq, reason, c.failures, c.cfg.MaxFailures, err)
		if c.failures >= c.cfg.MaxFailures {
			return cp, errors.Wrap(exception.ErrPersistenceFatal, err.Error()).With("seq", cp.Seq)
		}
		return cp, errors.Wrap(exception.ErrPersistence, err.Error()).With("seq", cp.Seq)
	}

	c.failures = 0
	c.last = cp.Seq
	logs.Debugf("state: checkpoint %d (%s), %d open orders", cp.Seq, reason, len(orders))
	return cp, nil
}

func (c *Checkpointer) save(ctx context.Context, seq uint64, payload []byte) error {
	var err error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.cfg.RetryDelay * time.Duration(1<<(attempt-1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrap(ctx.Err(), err.Error())
			case <-timer.C:
			}
		}
		if err = c.store.SaveCheckpoint(ctx, seq, payload); err == nil {
			return nil
		}
	}
	return err
}

// Run commits on every heartbeat until ctx is done. Only a fatal persistence
// error stops it early.
func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Commit(ctx, "heartbeat"); exception.IsFatal(err) {
				return err
			}
		}
	}
}
