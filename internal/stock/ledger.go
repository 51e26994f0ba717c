package stock

import (
	"context"
	"errors"
)

// Common errors returned by ledger implementations
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSKUNotFound       = errors.New("sku not found")
)

// Ledger owns per-variant available-quantity counters. Reserve is the
// concurrency-correctness core of checkout: it must decrement atomically,
// guarded by the available quantity, so that concurrent checkouts racing for
// the last unit can never both succeed and the counter can never go negative.
// No caller may read-then-write stock around this interface.
type Ledger interface {
	// Reserve decrements available stock for sku by quantity only if enough
	// is available. It returns the quantity that was available immediately
	// before the decrement, for the saga's reservation ledger.
	Reserve(ctx context.Context, sku string, quantity int32) (prevAvailable int32, err error)

	// Release adds quantity back unconditionally. It is only ever called
	// with quantities the caller itself reserved.
	Release(ctx context.Context, sku string, quantity int32) error

	// SetStock sets the available quantity for a variant (seeding/admin).
	SetStock(ctx context.Context, sku string, quantity int32) error

	// GetStock returns the current available quantity for a variant.
	GetStock(ctx context.Context, sku string) (int32, error)
}
