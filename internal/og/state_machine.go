package og

import (
	"sort"
	"sync"
	"time"

	"alats/internal/model"
	"alats/internal/model/enum"
	"alats/pkg/exception"

	"github.com/yanun0323/errors"
)

// tracked guards one order. op serializes operations on the order (submit,
// sync, cancel); mu guards the order value so snapshots never wait on an
// in-flight exchange call.
type tracked struct {
	op    sync.Mutex
	mu    sync.RWMutex
	order model.Order
}

func (t *tracked) snapshot() model.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.order
}

// StateMachine is the registry of orders and the only place their status
// changes.
type StateMachine struct {
	mu     sync.RWMutex
	orders map[string]*tracked
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[string]*tracked)}
}

// Register adds orders atomically: either all are added or none.
func (m *StateMachine) Register(orders ...model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range orders {
		if o.ID == "" {
			return errors.Wrap(exception.ErrInvalidArgument, "empty order id")
		}
		if _, ok := m.orders[o.ID]; ok {
			return errors.Wrap(exception.ErrDuplicateOrder, "register").With("id", o.ID)
		}
	}
	for _, o := range orders {
		m.orders[o.ID] = &tracked{order: o}
	}
	return nil
}

// Order returns a copy of the current order.
func (m *StateMachine) Order(id string) (model.Order, bool) {
	t, ok := m.get(id)
	if !ok {
		return model.Order{}, false
	}
	return t.snapshot(), true
}

// Acquire takes the operation lock of an order.
func (m *StateMachine) Acquire(id string) (release func(), err error) {
	t, ok := m.get(id)
	if !ok {
		return nil, errors.Wrap(exception.ErrUnknownOrder, "acquire").With("id", id)
	}
	t.op.Lock()
	return t.op.Unlock, nil
}

// Transition moves an order to status and applies mutate under the same lock.
// Terminal orders accept nothing.
func (m *StateMachine) Transition(id string, to enum.OrderStatus, now time.Time, mutate func(*model.Order)) (model.Order, error) {
	t, ok := m.get(id)
	if !ok {
		return model.Order{}, errors.Wrap(exception.ErrUnknownOrder, "transition").With("id", id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	from := t.order.Status
	if !canTransition(from, to) {
		return t.order, errors.Wrap(exception.ErrInvalidTransition, from.String()+" -> "+to.String()).With("id", id)
	}
	if mutate != nil {
		mutate(&t.order)
	}
	t.order.Status = to
	if from == enum.OrderStatusCreated && to != enum.OrderStatusCreated && t.order.SubmittedAt.IsZero() {
		t.order.SubmittedAt = now
	}
	if to.IsTerminal() {
		t.order.TerminalAt = now
	}
	return t.order, nil
}

// Update changes non-status fields of a live order.
func (m *StateMachine) Update(id string, mutate func(*model.Order)) (model.Order, error) {
	t, ok := m.get(id)
	if !ok {
		return model.Order{}, errors.Wrap(exception.ErrUnknownOrder, "update").With("id", id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.order.Status.IsTerminal() {
		return t.order, errors.Wrap(exception.ErrInvalidTransition, "update "+t.order.Status.String()+" order").With("id", id)
	}
	status := t.order.Status
	mutate(&t.order)
	t.order.Status = status
	return t.order, nil
}

// Open returns copies of non-terminal orders, oldest first. An empty asset
// matches every asset.
func (m *StateMachine) Open(asset string) []model.Order {
	m.mu.RLock()
	out := make([]model.Order, 0, len(m.orders))
	for _, t := range m.orders {
		o := t.snapshot()
		if o.Status.IsTerminal() || asset != "" && o.Asset != asset {
			continue
		}
		out = append(out, o)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Prune drops terminal orders that finished before cutoff.
func (m *StateMachine) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.orders {
		o := t.snapshot()
		if o.Status.IsTerminal() && o.TerminalAt.Before(cutoff) {
			delete(m.orders, id)
			n++
		}
	}
	return n
}

// Len returns the number of registered orders.
func (m *StateMachine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

func (m *StateMachine) get(id string) (*tracked, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.orders[id]
	return t, ok
}

func canTransition(from, to enum.OrderStatus) bool {
	switch from {
	case enum.OrderStatusCreated:
		switch to {
		case enum.OrderStatusSubmitted, enum.OrderStatusFailed, enum.OrderStatusRejected, enum.OrderStatusCancelled:
			return true
		}
	case enum.OrderStatusSubmitted:
		switch to {
		case enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled, enum.OrderStatusRejected,
			enum.OrderStatusCancelled, enum.OrderStatusFailed:
			return true
		}
	case enum.OrderStatusPartiallyFilled:
		switch to {
		case enum.OrderStatusPartiallyFilled, enum.OrderStatusFilled, enum.OrderStatusCancelled:
			return true
		}
	}
	return false
}
