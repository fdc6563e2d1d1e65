package obs

import (
	"sync/atomic"
	"time"

	"alats/internal/model/enum"
)

const maxOrderStatus = int(enum.OrderStatusFailed)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	verdicts      [3]uint64
	rejectReasons [enum.RiskReasonCount]uint64
	orderStatuses [maxOrderStatus + 1]uint64

	decisions    uint64
	holds        uint64
	staleSkips   uint64
	oracleErrors uint64
	retries      uint64
	fills        uint64
	trainBatches uint64
	trainDrops   uint64
	checkpoints  uint64
	ckptFailures uint64
	alertDrops   uint64

	decisionLatency   LatencyStats
	riskEvalLatency   LatencyStats
	submitLatency     LatencyStats
	checkpointLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Verdicts      map[string]uint64
	RejectReasons map[string]uint64
	OrderStatuses map[string]uint64

	Decisions    uint64
	Holds        uint64
	StaleSkips   uint64
	OracleErrors uint64
	Retries      uint64
	Fills        uint64
	TrainBatches uint64
	TrainDrops   uint64
	Checkpoints  uint64
	CkptFailures uint64
	AlertDrops   uint64

	DecisionLatency   LatencySnapshot
	RiskEvalLatency   LatencySnapshot
	SubmitLatency     LatencySnapshot
	CheckpointLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveVerdict counts a risk verdict and its evaluation latency.
func (m *Metrics) ObserveVerdict(kind enum.VerdictKind, reason enum.RiskReason, d time.Duration) {
	if m == nil {
		return
	}
	if idx := int(kind) - 1; idx >= 0 && idx < len(m.verdicts) {
		atomic.AddUint64(&m.verdicts[idx], 1)
	}
	if kind == enum.VerdictReject {
		if idx := int(reason); idx >= 0 && idx < len(m.rejectReasons) {
			atomic.AddUint64(&m.rejectReasons[idx], 1)
		}
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveDecision counts a completed decision cycle.
func (m *Metrics) ObserveDecision(action enum.Action, d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.decisions, 1)
	if action == enum.ActionHold {
		atomic.AddUint64(&m.holds, 1)
	}
	m.decisionLatency.Observe(d)
}

// ObserveOrderStatus counts an order reaching status.
func (m *Metrics) ObserveOrderStatus(status enum.OrderStatus) {
	if m == nil {
		return
	}
	if idx := int(status); idx >= 0 && idx < len(m.orderStatuses) {
		atomic.AddUint64(&m.orderStatuses[idx], 1)
	}
}

// ObserveSubmit measures one exchange submission including retries.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// ObserveCheckpoint measures a checkpoint commit.
func (m *Metrics) ObserveCheckpoint(d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		atomic.AddUint64(&m.ckptFailures, 1)
		return
	}
	atomic.AddUint64(&m.checkpoints, 1)
	m.checkpointLatency.Observe(d)
}

func (m *Metrics) IncStaleSkip() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.staleSkips, 1)
}

func (m *Metrics) IncOracleError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.oracleErrors, 1)
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.retries, 1)
}

func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

func (m *Metrics) IncTrainBatch() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.trainBatches, 1)
}

func (m *Metrics) IncTrainDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.trainDrops, 1)
}

func (m *Metrics) IncAlertDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.alertDrops, 1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	verdicts := make(map[string]uint64)
	for i := range m.verdicts {
		if v := atomic.LoadUint64(&m.verdicts[i]); v > 0 {
			verdicts[enum.VerdictKind(i+1).String()] = v
		}
	}
	reasons := make(map[string]uint64)
	for i := range m.rejectReasons {
		if v := atomic.LoadUint64(&m.rejectReasons[i]); v > 0 {
			reasons[enum.RiskReason(i).String()] = v
		}
	}
	statuses := make(map[string]uint64)
	for i := range m.orderStatuses {
		if v := atomic.LoadUint64(&m.orderStatuses[i]); v > 0 {
			statuses[enum.OrderStatus(i).String()] = v
		}
	}
	return Snapshot{
		Verdicts:          verdicts,
		RejectReasons:     reasons,
		OrderStatuses:     statuses,
		Decisions:         atomic.LoadUint64(&m.decisions),
		Holds:             atomic.LoadUint64(&m.holds),
		StaleSkips:        atomic.LoadUint64(&m.staleSkips),
		OracleErrors:      atomic.LoadUint64(&m.oracleErrors),
		Retries:           atomic.LoadUint64(&m.retries),
		Fills:             atomic.LoadUint64(&m.fills),
		TrainBatches:      atomic.LoadUint64(&m.trainBatches),
		TrainDrops:        atomic.LoadUint64(&m.trainDrops),
		Checkpoints:       atomic.LoadUint64(&m.checkpoints),
		CkptFailures:      atomic.LoadUint64(&m.ckptFailures),
		AlertDrops:        atomic.LoadUint64(&m.alertDrops),
		DecisionLatency:   m.decisionLatency.Snapshot(),
		RiskEvalLatency:   m.riskEvalLatency.Snapshot(),
		SubmitLatency:     m.submitLatency.Snapshot(),
		CheckpointLatency: m.checkpointLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
