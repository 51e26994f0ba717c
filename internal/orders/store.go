package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/go_checkout/domain"
)

// Common errors returned by order stores
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateCheckout = errors.New("an order for this idempotency key already exists")
)

// Store persists the order aggregate. PersistOrder must write the order, all
// item rows, and the payment row as a single unit: either every row exists
// after the call or none do. Partial inserts are rolled back by the store
// itself before the error is returned.
type Store interface {
	PersistOrder(ctx context.Context, order domain.Order, items []domain.OrderItem, payment domain.Payment) (uuid.UUID, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}

// OutboxEvent is a pending integration event written in the same transaction
// as the order it describes.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// OutboxReader is consumed by the publisher poller.
type OutboxReader interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, eventID int64) error
}
