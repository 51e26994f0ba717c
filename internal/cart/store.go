package cart

import (
	"context"
	"errors"

	"github.com/fjod/go_checkout/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// Store is the external cart collaborator: a key-value blob keyed by a
// session identifier. The saga only reads snapshots; ClearCart is called by
// the request handler after a completed checkout, never by the saga itself.
type Store interface {
	GetCurrentCart(ctx context.Context, sessionID string) (*domain.CartSnapshot, error)
	ClearCart(ctx context.Context, sessionID string) error
}
