package model

import (
	"time"

	"alats/internal/model/enum"

	"github.com/shopspring/decimal"
)

// PolicyDecision is produced once per decision cycle and never mutated after
// it is handed to the risk gate.
type PolicyDecision struct {
	Asset      string          `json:"asset"`
	Timestamp  time.Time       `json:"timestamp"`
	Action     enum.Action     `json:"action"`
	Size       decimal.Decimal `json:"size"`
	Confidence float64         `json:"confidence"`
	TraceID    uint64          `json:"traceId"`
}

// Hold builds a HOLD decision for asset.
func Hold(asset string, ts time.Time) PolicyDecision {
	return PolicyDecision{Asset: asset, Timestamp: ts, Action: enum.ActionHold, Size: decimal.Zero}
}

// Verdict is the risk gate's answer to a decision.
type Verdict struct {
	Kind   enum.VerdictKind
	Reason enum.RiskReason
	Size   decimal.Decimal
}
