package stock

import (
	"context"
	"sync"
)

// MemoryLedger implements Ledger with in-memory storage. The mutex covers the
// check and the decrement together, giving the same guarantee as the SQL
// conditional update. Used in tests and local development.
type MemoryLedger struct {
	mu     sync.Mutex
	stocks map[string]int32
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{stocks: make(map[string]int32)}
}

func (l *MemoryLedger) Reserve(_ context.Context, sku string, quantity int32) (int32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	available, exists := l.stocks[sku]
	if !exists {
		return 0, ErrSKUNotFound
	}
	if available < quantity {
		return 0, ErrInsufficientStock
	}

	l.stocks[sku] = available - quantity
	return available, nil
}

func (l *MemoryLedger) Release(_ context.Context, sku string, quantity int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.stocks[sku]; !exists {
		return ErrSKUNotFound
	}

	l.stocks[sku] += quantity
	return nil
}

func (l *MemoryLedger) SetStock(_ context.Context, sku string, quantity int32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stocks[sku] = quantity
	return nil
}

func (l *MemoryLedger) GetStock(_ context.Context, sku string) (int32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	available, exists := l.stocks[sku]
	if !exists {
		return 0, ErrSKUNotFound
	}
	return available, nil
}
