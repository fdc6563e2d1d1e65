package state

import (
	"context"

	"alats/internal/model"
)

// Store is durable checkpoint storage. LoadLatestCheckpoint returns the
// highest stored sequence strictly below below; zero means unbounded. It
// returns exception.ErrNoCheckpoint when nothing qualifies.
type Store interface {
	SaveCheckpoint(ctx context.Context, seq uint64, payload []byte) error
	LoadLatestCheckpoint(ctx context.Context, below uint64) (uint64, []byte, error)
	Close() error
}

// Archive keeps terminal orders as immutable records.
type Archive interface {
	Archive(ctx context.Context, order model.Order) error
}
