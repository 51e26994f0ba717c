package orders

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/go_checkout/domain"
)

// MemoryStore implements Store and OutboxReader in memory for tests and local
// development. The mutex makes each PersistOrder all-or-nothing, matching the
// transactional contract of the Postgres store.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]domain.Order
	items    map[uuid.UUID][]domain.OrderItem
	payments map[uuid.UUID]domain.Payment
	byKey    map[string]uuid.UUID

	outbox     []*OutboxEvent
	nextOutbox int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:     make(map[uuid.UUID]domain.Order),
		items:      make(map[uuid.UUID][]domain.OrderItem),
		payments:   make(map[uuid.UUID]domain.Payment),
		byKey:      make(map[string]uuid.UUID),
		nextOutbox: 1,
	}
}

func (s *MemoryStore) PersistOrder(_ context.Context, order domain.Order, items []domain.OrderItem, payment domain.Payment) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.IdempotencyKey != "" {
		if _, exists := s.byKey[order.IdempotencyKey]; exists {
			return uuid.Nil, ErrDuplicateCheckout
		}
		s.byKey[order.IdempotencyKey] = order.ID
	}

	s.orders[order.ID] = order
	s.items[order.ID] = append([]domain.OrderItem(nil), items...)
	s.payments[payment.ID] = payment

	s.outbox = append(s.outbox, &OutboxEvent{
		ID:          s.nextOutbox,
		AggregateID: order.ID.String(),
		EventType:   "order_completed",
		CreatedAt:   time.Now().UTC(),
	})
	s.nextOutbox++

	return order.ID, nil
}

func (s *MemoryStore) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[id]
	if !exists {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

func (s *MemoryStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.byKey[key]
	if !exists {
		return nil, ErrOrderNotFound
	}
	order := s.orders[id]
	return &order, nil
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []*OutboxEvent
	for _, e := range s.outbox {
		if e.ProcessedAt == nil {
			events = append(events, e)
			if len(events) == limit {
				break
			}
		}
	}
	return events, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.outbox {
		if e.ID == eventID {
			now := time.Now().UTC()
			e.ProcessedAt = &now
			return nil
		}
	}
	return nil
}
