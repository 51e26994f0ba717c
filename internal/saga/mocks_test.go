package saga

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fjod/go_checkout/domain"
	"github.com/fjod/go_checkout/internal/orders"
	"github.com/fjod/go_checkout/internal/payment"
	"github.com/fjod/go_checkout/internal/stock"
)

// recordingLedger wraps the real in-memory ledger and records the order of
// reserve/release calls, so tests can assert compensation ordering.
type recordingLedger struct {
	*stock.MemoryLedger
	mu         sync.Mutex
	reserved   []string
	released   []string
	releaseErr error
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{MemoryLedger: stock.NewMemoryLedger()}
}

func (l *recordingLedger) Reserve(ctx context.Context, sku string, quantity int32) (int32, error) {
	prev, err := l.MemoryLedger.Reserve(ctx, sku, quantity)
	if err == nil {
		l.mu.Lock()
		l.reserved = append(l.reserved, sku)
		l.mu.Unlock()
	}
	return prev, err
}

func (l *recordingLedger) Release(ctx context.Context, sku string, quantity int32) error {
	l.mu.Lock()
	l.released = append(l.released, sku)
	err := l.releaseErr
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return l.MemoryLedger.Release(ctx, sku, quantity)
}

type refundCall struct {
	TransactionID string
	Amount        int64
}

// MockGateway implements payment.Gateway for testing
type MockGateway struct {
	ChargeResult *payment.ChargeResult
	ChargeErr    error
	RefundErr    error

	ChargeCalls   int
	ChargedAmount int64
	ChargedCurr   string
	RefundCalls   []refundCall
}

func (m *MockGateway) Charge(_ context.Context, amountCents int64, currency string, _ domain.PaymentInstrument) (*payment.ChargeResult, error) {
	m.ChargeCalls++
	m.ChargedAmount = amountCents
	m.ChargedCurr = currency
	if m.ChargeErr != nil {
		return nil, m.ChargeErr
	}
	return m.ChargeResult, nil
}

func (m *MockGateway) Refund(_ context.Context, transactionID string, amountCents int64) error {
	m.RefundCalls = append(m.RefundCalls, refundCall{TransactionID: transactionID, Amount: amountCents})
	return m.RefundErr
}

type persistedAggregate struct {
	Order   domain.Order
	Items   []domain.OrderItem
	Payment domain.Payment
}

// MockStore implements orders.Store for testing
type MockStore struct {
	PersistErr   error
	PersistCalls int
	Persisted    *persistedAggregate
}

func (m *MockStore) PersistOrder(_ context.Context, order domain.Order, items []domain.OrderItem, pay domain.Payment) (uuid.UUID, error) {
	m.PersistCalls++
	if m.PersistErr != nil {
		return uuid.Nil, m.PersistErr
	}
	m.Persisted = &persistedAggregate{Order: order, Items: items, Payment: pay}
	return order.ID, nil
}

func (m *MockStore) GetOrderByID(_ context.Context, _ uuid.UUID) (*domain.Order, error) {
	if m.Persisted == nil {
		return nil, orders.ErrOrderNotFound
	}
	order := m.Persisted.Order
	return &order, nil
}

func (m *MockStore) GetOrderByIdempotencyKey(_ context.Context, _ string) (*domain.Order, error) {
	return nil, orders.ErrOrderNotFound
}
