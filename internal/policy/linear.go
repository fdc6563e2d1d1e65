package policy

import (
	"context"
	"math"
	"sync"

	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/internal/replay"
	"alats/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// LinearConfig tunes LinearOracle.
type LinearConfig struct {
	WindowSize    int
	LearningRate  float64
	Discount      float64
	OrderNotional decimal.Decimal
}

// LinearOracle is a linear Q-function over the window features, one weight
// vector per action, trained with TD(0).
type LinearOracle struct {
	cfg LinearConfig
	dim int

	mu      sync.RWMutex
	weights [actionCount][]float64
	bias    [actionCount]float64
}

func NewLinearOracle(cfg LinearConfig) *LinearOracle {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 1e-3
	}
	if cfg.Discount < 0 || cfg.Discount >= 1 {
		cfg.Discount = 0.99
	}
	o := &LinearOracle{cfg: cfg, dim: cfg.WindowSize * model.FeatureCount}
	for i := range o.weights {
		o.weights[i] = make([]float64, o.dim)
	}
	return o
}

// Q returns the action value of state.
func (o *LinearOracle) Q(state []float64, action enum.Action) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.q(state, action.Index())
}

func (o *LinearOracle) q(state []float64, idx int) float64 {
	v := o.bias[idx]
	w := o.weights[idx]
	for i := 0; i < len(state) && i < len(w); i++ {
		v += w[i] * state[i]
	}
	return v
}

func (o *LinearOracle) Infer(ctx context.Context, w Window, _ model.RiskView) (model.PolicyDecision, error) {
	if err := ctx.Err(); err != nil {
		return model.PolicyDecision{}, err
	}
	if len(w.Features) != o.dim {
		return model.PolicyDecision{}, errors.Wrapf(exception.ErrInvalidArgument, "feature length %d, want %d", len(w.Features), o.dim)
	}

	var scores [actionCount]float64
	o.mu.RLock()
	for i := range scores {
		scores[i] = o.q(w.Features, i)
	}
	o.mu.RUnlock()

	action, conf, size := pick(scores, o.cfg.OrderNotional)
	return model.PolicyDecision{
		Asset:      w.Asset,
		Action:     action,
		Confidence: conf,
		Size:       size,
	}, nil
}

// TrainStep applies one SGD pass of TD(0) updates over batch.
func (o *LinearOracle) TrainStep(ctx context.Context, batch []replay.Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for n, e := range batch {
		if n%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		idx := e.Action.Index()
		if idx < 0 || len(e.State) != o.dim {
			continue
		}
		target := e.Reward
		if len(e.NextState) == o.dim {
			best := math.Inf(-1)
			for i := 0; i < actionCount; i++ {
				best = math.Max(best, o.q(e.NextState, i))
			}
			target += o.cfg.Discount * best
		}
		td := target - o.q(e.State, idx)
		if math.IsNaN(td) || math.IsInf(td, 0) {
			continue
		}
		step := o.cfg.LearningRate * td
		w := o.weights[idx]
		for i, x := range e.State {
			w[i] += step * x
		}
		o.bias[idx] += step
	}
	return nil
}
