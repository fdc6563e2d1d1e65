package policy

import (
	"context"
	"math"

	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/internal/replay"

	"github.com/shopspring/decimal"
)

// Oracle is the decision model behind the engine. Infer must honor ctx when it
// can; the engine bounds it by InferTimeout either way.
type Oracle interface {
	Infer(ctx context.Context, w Window, risk model.RiskView) (model.PolicyDecision, error)
	TrainStep(ctx context.Context, batch []replay.Entry) error
}

// Window is the feature window of one asset, oldest snapshot first.
type Window struct {
	Asset     string
	Snapshots []model.LiquiditySnapshot

	// Features is Size*FeatureCount long. Missing leading slots are zero.
	Features []float64
	Size     int
}

// Latest returns the newest snapshot in the window.
func (w Window) Latest() (model.LiquiditySnapshot, bool) {
	if len(w.Snapshots) == 0 {
		return model.LiquiditySnapshot{}, false
	}
	return w.Snapshots[len(w.Snapshots)-1], true
}

func newWindow(asset string, snaps []model.LiquiditySnapshot, size int) Window {
	features := make([]float64, size*model.FeatureCount)
	offset := (size - len(snaps)) * model.FeatureCount
	prevMid := 0.0
	for i, s := range snaps {
		f := s.Features(prevMid)
		copy(features[offset+i*model.FeatureCount:], f[:])
		prevMid = s.Mid
	}
	out := make([]model.LiquiditySnapshot, len(snaps))
	copy(out, snaps)
	return Window{Asset: asset, Snapshots: out, Features: features, Size: size}
}

const actionCount = len(enum.Actions)

// pick turns per-action scores into a decision: the best action, its softmax
// probability as confidence and a size scaled by that confidence.
func pick(scores [actionCount]float64, notional decimal.Decimal) (enum.Action, float64, decimal.Decimal) {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - scores[best])
	}
	conf := 1 / sum
	if math.IsNaN(conf) {
		conf = 0
	}
	action := enum.Actions[best]
	if action == enum.ActionHold {
		return action, conf, decimal.Zero
	}
	return action, conf, notional.Mul(decimal.NewFromFloat(conf))
}
