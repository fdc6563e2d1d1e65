package core

import (
	"time"

	"alats/internal/liquidity"
	"alats/internal/model"
	"alats/internal/og"
	"alats/internal/policy"
	"alats/internal/risk"
	"alats/internal/state"

	"github.com/shopspring/decimal"
)

// Config is the resolved runtime configuration. It is immutable once the
// runtime starts.
type Config struct {
	Assets            []model.Asset
	SamplingInterval  time.Duration
	HeartbeatInterval time.Duration
	DrainTimeout      time.Duration
	InitialEquity     decimal.Decimal
	OrderNotional     decimal.Decimal
	BufferCapacity    int
	AlertThreshold    int
	Seed              int64

	Liquidity  liquidity.Config
	Policy     policy.Config
	Risk       risk.Config
	Execution  og.Config
	Checkpoint state.Config
}

func (c Config) withDefaults() Config {
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 10_000
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = 5
	}
	c.Liquidity.Interval = c.SamplingInterval
	c.Execution.DrainTimeout = c.DrainTimeout
	c.Execution.StopLossPct = c.Risk.StopLossPct
	c.Execution.TakeProfitPct = c.Risk.TakeProfitPct
	c.Checkpoint.HeartbeatInterval = c.HeartbeatInterval
	return c
}

// Symbols lists the configured asset symbols in order.
func (c Config) Symbols() []string {
	out := make([]string, len(c.Assets))
	for i, a := range c.Assets {
		out[i] = a.Symbol
	}
	return out
}
