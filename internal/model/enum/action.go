package enum

import "fmt"

// Action is the trading action proposed by the policy.
type Action uint8

const (
	_action_beg Action = iota
	ActionHold
	ActionBuy
	ActionSell
	_action_end
)

func (a Action) IsAvailable() bool {
	return a > _action_beg && a < _action_end
}

// Direction returns +1 for buy, -1 for sell and 0 for hold.
func (a Action) Direction() int {
	switch a {
	case ActionBuy:
		return 1
	case ActionSell:
		return -1
	default:
		return 0
	}
}

// Side maps a non-hold action to an order side.
func (a Action) Side() (Side, bool) {
	switch a {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	default:
		return 0, false
	}
}

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "HOLD"
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.IsAvailable() {
		return nil, fmt.Errorf("invalid action: %d", a)
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	switch string(b) {
	case "HOLD":
		*a = ActionHold
	case "BUY":
		*a = ActionBuy
	case "SELL":
		*a = ActionSell
	default:
		return fmt.Errorf("invalid action: %q", b)
	}
	return nil
}

// Actions lists every valid action in index order.
var Actions = [...]Action{ActionHold, ActionBuy, ActionSell}

// Index returns the position of a in Actions, or -1.
func (a Action) Index() int {
	if !a.IsAvailable() {
		return -1
	}
	return int(a) - 1
}
