package model

import (
	"time"

	"alats/internal/model/enum"

	"github.com/shopspring/decimal"
)

// Order is the coordinator's record of one client order.
type Order struct {
	ID        string           `json:"id"`
	Asset     string           `json:"asset"`
	Side      enum.Side        `json:"side"`
	Kind      enum.OrderKind   `json:"kind"`
	Role      enum.OrderRole   `json:"role"`
	Qty       decimal.Decimal  `json:"qty"`
	Price     decimal.Decimal  `json:"price"`
	Status    enum.OrderStatus `json:"status"`
	Retries   int              `json:"retries"`
	SiblingID string           `json:"siblingId,omitempty"`
	ParentID  string           `json:"parentId,omitempty"`

	FilledQty    decimal.Decimal `json:"filledQty"`
	AvgFillPrice decimal.Decimal `json:"avgFillPrice"`

	CreatedAt   time.Time `json:"createdAt"`
	SubmittedAt time.Time `json:"submittedAt"`
	TerminalAt  time.Time `json:"terminalAt"`
	LastError   string    `json:"lastError,omitempty"`
}

// Request returns the submission request for the order.
func (o Order) Request() OrderRequest {
	return OrderRequest{
		ID:    o.ID,
		Asset: o.Asset,
		Side:  o.Side,
		Kind:  o.Kind,
		Qty:   o.Qty,
		Price: o.Price,
	}
}

// OrderRequest is what the exchange receives.
type OrderRequest struct {
	ID    string
	Asset string
	Side  enum.Side
	Kind  enum.OrderKind
	Qty   decimal.Decimal
	Price decimal.Decimal
}

// OrderHandle acknowledges an accepted submission.
type OrderHandle struct {
	ID         string
	ExchangeID string
	AcceptedAt time.Time
}

// OrderReport is the exchange's authoritative view of an order.
type OrderReport struct {
	ID        string
	Status    enum.OrderStatus
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
	Reason    string
}

// Fill is an incremental execution applied to risk state.
type Fill struct {
	OrderID string
	Asset   string
	Side    enum.Side
	Role    enum.OrderRole
	Qty     decimal.Decimal
	Price   decimal.Decimal
	Time    time.Time
}
