package enum

import "fmt"

// Side buy, sell
type Side uint8

const (
	_side_beg Side = iota
	SideBuy
	SideSell
	_side_end
)

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

// Sign returns +1 for buy and -1 for sell.
func (s Side) Sign() int {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "BUY":
		*s = SideBuy
	case "SELL":
		*s = SideSell
	default:
		return fmt.Errorf("invalid side: %q", b)
	}
	return nil
}

// OrderKind market, limit, stop
type OrderKind uint8

const (
	_order_kind_beg OrderKind = iota
	OrderKindMarket
	OrderKindLimit
	OrderKindStop
	_order_kind_end
)

func (k OrderKind) IsAvailable() bool {
	return k > _order_kind_beg && k < _order_kind_end
}

// NeedsPrice reports whether the kind carries a limit or trigger price.
func (k OrderKind) NeedsPrice() bool {
	return k == OrderKindLimit || k == OrderKindStop
}

func (k OrderKind) String() string {
	switch k {
	case OrderKindMarket:
		return "MARKET"
	case OrderKindLimit:
		return "LIMIT"
	case OrderKindStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

func (k OrderKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OrderKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "MARKET":
		*k = OrderKindMarket
	case "LIMIT":
		*k = OrderKindLimit
	case "STOP":
		*k = OrderKindStop
	default:
		return fmt.Errorf("invalid order kind: %q", b)
	}
	return nil
}

// OrderRole entry, stop loss, take profit
type OrderRole uint8

const (
	_order_role_beg OrderRole = iota
	OrderRoleEntry
	OrderRoleStopLoss
	OrderRoleTakeProfit
	_order_role_end
)

func (r OrderRole) IsAvailable() bool {
	return r > _order_role_beg && r < _order_role_end
}

// IsBracket reports whether the order protects a filled entry.
func (r OrderRole) IsBracket() bool {
	return r == OrderRoleStopLoss || r == OrderRoleTakeProfit
}

func (r OrderRole) String() string {
	switch r {
	case OrderRoleEntry:
		return "ENTRY"
	case OrderRoleStopLoss:
		return "STOP_LOSS"
	case OrderRoleTakeProfit:
		return "TAKE_PROFIT"
	default:
		return "UNKNOWN"
	}
}

func (r OrderRole) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *OrderRole) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ENTRY":
		*r = OrderRoleEntry
	case "STOP_LOSS":
		*r = OrderRoleStopLoss
	case "TAKE_PROFIT":
		*r = OrderRoleTakeProfit
	default:
		return fmt.Errorf("invalid order role: %q", b)
	}
	return nil
}

// OrderStatus created, submitted, partially filled, filled, rejected, cancelled, failed
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusCreated
	OrderStatusSubmitted
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusRejected
	OrderStatusCancelled
	OrderStatusFailed
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the order may still produce fills on the exchange.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusSubmitted || s == OrderStatusPartiallyFilled
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusCreated:
		return "CREATED"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	for st := _order_status_beg + 1; st < _order_status_end; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("invalid order status: %q", b)
}
