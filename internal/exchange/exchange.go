// Package exchange defines the contract the control core uses to reach a
// trading venue.
//
// Errors returned by implementations wrap exception.ErrTransientExchange when
// the same call may be retried, exception.ErrPermanentExchange when it may not,
// exception.ErrOrderRejected when the venue refused an order, and
// exception.ErrUnknownOrder when a client order id was never accepted.
package exchange

import (
	"context"

	"alats/internal/model"
)

// Exchange is the venue connectivity required by the core. Order submission is
// idempotent by client order id.
type Exchange interface {
	PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderHandle, error)
	OrderStatus(ctx context.Context, id string) (model.OrderReport, error)
	CancelOrder(ctx context.Context, id string) error
	MarketData(ctx context.Context, asset string) (model.MarketSample, error)
}
