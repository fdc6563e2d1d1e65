package enum

// VerdictKind allow, reject, scale down
type VerdictKind uint8

const (
	_verdict_kind_beg VerdictKind = iota
	VerdictAllow
	VerdictReject
	VerdictScaleDown
	_verdict_kind_end
)

func (k VerdictKind) IsAvailable() bool {
	return k > _verdict_kind_beg && k < _verdict_kind_end
}

// Approved reports whether an order may be placed.
func (k VerdictKind) Approved() bool {
	return k == VerdictAllow || k == VerdictScaleDown
}

func (k VerdictKind) String() string {
	switch k {
	case VerdictAllow:
		return "ALLOW"
	case VerdictReject:
		return "REJECT"
	case VerdictScaleDown:
		return "SCALE_DOWN"
	default:
		return "UNKNOWN"
	}
}

// RiskReason is a coarse reason code for risk verdicts.
type RiskReason uint8

const (
	RiskReasonNone RiskReason = iota
	RiskReasonCoolingPeriod
	RiskReasonPositionLimit
	RiskReasonDailyLossLimit
	RiskReasonLeverageLimit
	RiskReasonInvalidDecision
	riskReasonCount
)

// RiskReasonCount is the number of reason codes, for fixed-size counters.
const RiskReasonCount = int(riskReasonCount)

func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return "none"
	case RiskReasonCoolingPeriod:
		return "cooling_period"
	case RiskReasonPositionLimit:
		return "position_limit"
	case RiskReasonDailyLossLimit:
		return "daily_loss_limit"
	case RiskReasonLeverageLimit:
		return "leverage_limit"
	case RiskReasonInvalidDecision:
		return "invalid_decision"
	default:
		return "unknown"
	}
}
