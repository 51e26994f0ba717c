package saga

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_checkout/domain"
	"github.com/fjod/go_checkout/internal/payment"
	"github.com/fjod/go_checkout/internal/stock"
)

func testCart() *domain.CartSnapshot {
	cart := &domain.CartSnapshot{
		SessionID: "session-1",
		UserID:    "user-1",
		Lines: []domain.CartLine{
			{ProductID: 1, VariantSKU: "SKU-A", UnitPrice: 1500, Quantity: 2},
			{ProductID: 2, VariantSKU: "SKU-B", UnitPrice: 1200, Quantity: 1},
		},
		Currency: "USD",
	}
	cart.TotalAmount = cart.ComputeTotal() // $42.00
	return cart
}

func testRequest() Request {
	return Request{
		Cart: testCart(),
		Instrument: domain.PaymentInstrument{
			CardNumber: "4242424242424242",
			Expiry:     "12/99",
			CVC:        "123",
		},
		ShippingAddressID: "addr-1",
	}
}

func capturedGateway() *MockGateway {
	return &MockGateway{
		ChargeResult: &payment.ChargeResult{
			Status:        payment.ChargeStatusCaptured,
			TransactionID: "TXN-1",
		},
	}
}

// newTestCoordinator wires a coordinator against an in-memory ledger seeded
// with plenty of stock.
func newTestCoordinator(t *testing.T, gateway *MockGateway, store *MockStore) (*Coordinator, *recordingLedger) {
	t.Helper()
	ledger := newRecordingLedger()
	ctx := context.Background()
	require.NoError(t, ledger.SetStock(ctx, "SKU-A", 10))
	require.NoError(t, ledger.SetStock(ctx, "SKU-B", 10))
	return NewCoordinator(ledger, gateway, store, zerolog.Nop()), ledger
}

func checkoutErr(t *testing.T, err error) *domain.CheckoutError {
	t.Helper()
	var ce *domain.CheckoutError
	require.ErrorAs(t, err, &ce)
	return ce
}

func stockOf(t *testing.T, ledger stock.Ledger, sku string) int32 {
	t.Helper()
	available, err := ledger.GetStock(context.Background(), sku)
	require.NoError(t, err)
	return available
}

func TestCheckout_Success(t *testing.T) {
	gateway := capturedGateway()
	store := &MockStore{}
	coord, ledger := newTestCoordinator(t, gateway, store)

	result, err := coord.Checkout(context.Background(), testRequest())
	require.NoError(t, err)

	assert.NotEqual(t, result.OrderID.String(), "00000000-0000-0000-0000-000000000000")
	assert.NotEqual(t, result.PaymentID.String(), "00000000-0000-0000-0000-000000000000")

	// Charged once, for the exact cart total.
	assert.Equal(t, 1, gateway.ChargeCalls)
	assert.Equal(t, int64(4200), gateway.ChargedAmount)
	assert.Equal(t, "USD", gateway.ChargedCurr)
	assert.Empty(t, gateway.RefundCalls)

	// Stock decremented by exactly the cart quantities, nothing released.
	assert.Equal(t, int32(8), stockOf(t, ledger, "SKU-A"))
	assert.Equal(t, int32(9), stockOf(t, ledger, "SKU-B"))
	assert.Empty(t, ledger.released)

	// Exactly one order/items/payment set persisted, fully paid.
	require.Equal(t, 1, store.PersistCalls)
	persisted := store.Persisted
	require.NotNil(t, persisted)
	assert.Equal(t, result.OrderID, persisted.Order.ID)
	assert.Equal(t, result.PaymentID, persisted.Order.PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, persisted.Order.PaymentStatus)
	assert.Equal(t, "TXN-1", persisted.Payment.TransactionID)
	assert.Equal(t, int64(4200), persisted.Payment.Amount)
	assert.Len(t, persisted.Items, 2)
}

func TestCheckout_Validation(t *testing.T) {
	cases := map[string]func(*Request){
		"nil cart":        func(r *Request) { r.Cart = nil },
		"empty cart":      func(r *Request) { r.Cart.Lines = nil },
		"missing sku":     func(r *Request) { r.Cart.Lines[1].VariantSKU = "" },
		"zero quantity":   func(r *Request) { r.Cart.Lines[0].Quantity = 0 },
		"negative price":  func(r *Request) { r.Cart.Lines[0].UnitPrice = -1; r.Cart.TotalAmount = r.Cart.ComputeTotal() },
		"total mismatch":  func(r *Request) { r.Cart.TotalAmount = 9999 },
		"bad currency":    func(r *Request) { r.Cart.Currency = "DOLLARS" },
		"no address":      func(r *Request) { r.ShippingAddressID = "" },
		"bad card number": func(r *Request) { r.Instrument.CardNumber = "1234" },
		"expired card":    func(r *Request) { r.Instrument.Expiry = "01/20" },
		"bad cvc":         func(r *Request) { r.Instrument.CVC = "1" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			gateway := capturedGateway()
			store := &MockStore{}
			coord, ledger := newTestCoordinator(t, gateway, store)

			req := testRequest()
			mutate(&req)

			_, err := coord.Checkout(context.Background(), req)
			ce := checkoutErr(t, err)
			assert.Equal(t, domain.ErrKindInvalidCheckout, ce.Kind)

			// Validation failures have nothing to compensate and must not
			// touch any collaborator.
			assert.Empty(t, ledger.reserved)
			assert.Equal(t, 0, gateway.ChargeCalls)
			assert.Equal(t, 0, store.PersistCalls)
		})
	}
}

func TestCheckout_InsufficientStock_FirstLineFails(t *testing.T) {
	// B has only 1 unit; SKUs reserve in ascending order so A succeeds first.
	gateway := capturedGateway()
	store := &MockStore{}
	ledger := newRecordingLedger()
	ctx := context.Background()
	require.NoError(t, ledger.SetStock(ctx, "SKU-A", 10))
	require.NoError(t, ledger.SetStock(ctx, "SKU-B", 1))
	coord := NewCoordinator(ledger, gateway, store, zerolog.Nop())

	req := testRequest()
	req.Cart.Lines[0].Quantity = 2 // SKU-A x2
	req.Cart.Lines[1].Quantity = 2 // SKU-B x2, only 1 available
	req.Cart.TotalAmount = req.Cart.ComputeTotal()

	_, err := coord.Checkout(ctx, req)
	ce := checkoutErr(t, err)
	assert.Equal(t, domain.ErrKindInsufficientStock, ce.Kind)
	assert.Equal(t, "SKU-B", ce.SKU)
	assert.True(t, ce.Retryable())

	// A's reservation was compensated; B was never decremented.
	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-A"))
	assert.Equal(t, int32(1), stockOf(t, ledger, "SKU-B"))
	assert.Equal(t, []string{"SKU-A"}, ledger.reserved)
	assert.Equal(t, []string{"SKU-A"}, ledger.released)

	// The saga never reached payment or persistence.
	assert.Equal(t, 0, gateway.ChargeCalls)
	assert.Equal(t, 0, store.PersistCalls)
}

func TestCheckout_InsufficientStock_ReleasesInReverseOrder(t *testing.T) {
	gateway := capturedGateway()
	store := &MockStore{}
	ledger := newRecordingLedger()
	ctx := context.Background()
	require.NoError(t, ledger.SetStock(ctx, "SKU-A", 10))
	require.NoError(t, ledger.SetStock(ctx, "SKU-B", 10))
	require.NoError(t, ledger.SetStock(ctx, "SKU-C", 0))
	coord := NewCoordinator(ledger, gateway, store, zerolog.Nop())

	req := testRequest()
	req.Cart.Lines = []domain.CartLine{
		{ProductID: 3, VariantSKU: "SKU-C", UnitPrice: 100, Quantity: 1},
		{ProductID: 1, VariantSKU: "SKU-A", UnitPrice: 100, Quantity: 1},
		{ProductID: 2, VariantSKU: "SKU-B", UnitPrice: 100, Quantity: 1},
	}
	req.Cart.TotalAmount = req.Cart.ComputeTotal()

	_, err := coord.Checkout(ctx, req)
	ce := checkoutErr(t, err)
	assert.Equal(t, "SKU-C", ce.SKU)

	// Acquired ascending (A, B), compensated in reverse (B, A), each exactly once.
	assert.Equal(t, []string{"SKU-A", "SKU-B"}, ledger.reserved)
	assert.Equal(t, []string{"SKU-B", "SKU-A"}, ledger.released)
	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-A"))
	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-B"))
}

func TestCheckout_PaymentDeclined(t *testing.T) {
	gateway := &MockGateway{
		ChargeResult: &payment.ChargeResult{
			Status:        payment.ChargeStatusDeclined,
			DeclineReason: "insufficient funds",
		},
	}
	store := &MockStore{}
	coord, ledger := newTestCoordinator(t, gateway, store)

	_, err := coord.Checkout(context.Background(), testRequest())
	ce := checkoutErr(t, err)
	assert.Equal(t, domain.ErrKindPaymentDeclined, ce.Kind)
	assert.Equal(t, "insufficient funds", ce.Reason)
	assert.False(t, ce.Retryable(), "a decline is permanent for this attempt")

	// Declined payment leaves no trace: stock restored, nothing persisted,
	// nothing refunded (nothing was captured).
	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-A"))
	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-B"))
	assert.Equal(t, 1, gateway.ChargeCalls)
	assert.Empty(t, gateway.RefundCalls)
	assert.Equal(t, 0, store.PersistCalls)
}

func TestCheckout_GatewayError(t *testing.T) {
	gateway := &MockGateway{ChargeErr: payment.ErrGatewayUnavailable}
	store := &MockStore{}
	coord, ledger := newTestCoordinator(t, gateway, store)

	_, err := coord.Checkout(context.Background(), testRequest())
	ce := checkoutErr(t, err)
	assert.Equal(t, domain.ErrKindPaymentGateway, ce.Kind)
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	assert.True(t, ce.Retryable(), "the caller may retry the whole checkout")

	// Exactly one charge attempt: an ambiguous failure is never auto-retried
	// inside the saga (double-charge risk).
	assert.Equal(t, 1, gateway.ChargeCalls)
	assert.Empty(t, gateway.RefundCalls)

	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-A"))
	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-B"))
	assert.Equal(t, 0, store.PersistCalls)
}

func TestCheckout_PersistenceFailureAfterCapture(t *testing.T) {
	gateway := capturedGateway()
	store := &MockStore{PersistErr: errors.New("connection reset during insert")}
	coord, ledger := newTestCoordinator(t, gateway, store)

	_, err := coord.Checkout(context.Background(), testRequest())
	ce := checkoutErr(t, err)

	// The distinct error kind, not a generic failure.
	assert.Equal(t, domain.ErrKindOrderPersistenceAfterPayment, ce.Kind)
	assert.Contains(t, ce.Message, "TXN-1")
	assert.False(t, ce.Retryable())

	// Stock released and a compensating refund attempted for the captured
	// transaction.
	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-A"))
	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-B"))
	require.Len(t, gateway.RefundCalls, 1)
	assert.Equal(t, "TXN-1", gateway.RefundCalls[0].TransactionID)
	assert.Equal(t, int64(4200), gateway.RefundCalls[0].Amount)
}

func TestCheckout_PersistenceFailure_RefundFailureDoesNotMaskError(t *testing.T) {
	gateway := capturedGateway()
	gateway.RefundErr = payment.ErrGatewayUnavailable
	persistErr := errors.New("disk full")
	store := &MockStore{PersistErr: persistErr}
	coord, _ := newTestCoordinator(t, gateway, store)

	_, err := coord.Checkout(context.Background(), testRequest())
	ce := checkoutErr(t, err)

	// The caller learns the real reason; the refund failure is secondary.
	assert.Equal(t, domain.ErrKindOrderPersistenceAfterPayment, ce.Kind)
	assert.ErrorIs(t, err, persistErr)
	require.Len(t, gateway.RefundCalls, 1)
}

func TestCheckout_ReleaseFailureDoesNotMaskError(t *testing.T) {
	gateway := &MockGateway{
		ChargeResult: &payment.ChargeResult{
			Status:        payment.ChargeStatusDeclined,
			DeclineReason: "do not honor",
		},
	}
	store := &MockStore{}
	ledger := newRecordingLedger()
	ledger.releaseErr = errors.New("ledger unavailable")
	ctx := context.Background()
	require.NoError(t, ledger.SetStock(ctx, "SKU-A", 10))
	require.NoError(t, ledger.SetStock(ctx, "SKU-B", 10))
	coord := NewCoordinator(ledger, gateway, store, zerolog.Nop())

	_, err := coord.Checkout(ctx, testRequest())
	ce := checkoutErr(t, err)

	// Both releases were attempted despite the first failing, and the
	// decline is still the error reported.
	assert.Equal(t, domain.ErrKindPaymentDeclined, ce.Kind)
	assert.Len(t, ledger.released, 2)
}

// TestCheckout_ConcurrentCheckouts_NoOversell runs many full sagas against
// one contended SKU: the number of completed orders must equal the stock.
func TestCheckout_ConcurrentCheckouts_NoOversell(t *testing.T) {
	const (
		stockQty  = 3
		checkouts = 20
	)

	ledger := newRecordingLedger()
	ctx := context.Background()
	require.NoError(t, ledger.SetStock(ctx, "SKU-HOT", stockQty))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		shortfall int
	)

	for i := 0; i < checkouts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			coord := NewCoordinator(ledger, capturedGateway(), &MockStore{}, zerolog.Nop())
			req := testRequest()
			req.Cart.Lines = []domain.CartLine{
				{ProductID: 9, VariantSKU: "SKU-HOT", UnitPrice: 1000, Quantity: 1},
			}
			req.Cart.TotalAmount = req.Cart.ComputeTotal()

			_, err := coord.Checkout(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				completed++
				return
			}
			var ce *domain.CheckoutError
			if errors.As(err, &ce) && ce.Kind == domain.ErrKindInsufficientStock {
				shortfall++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stockQty, completed)
	assert.Equal(t, checkouts-stockQty, shortfall)
	assert.Equal(t, int32(0), stockOf(t, ledger, "SKU-HOT"))
}

func TestCheckout_CancelledCallerStillCompensates(t *testing.T) {
	gateway := &MockGateway{ChargeErr: payment.ErrGatewayUnavailable}
	store := &MockStore{}
	coord, ledger := newTestCoordinator(t, gateway, store)

	// The caller gave up mid-flight; compensation must still run.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coord.Checkout(ctx, testRequest())
	checkoutErr(t, err)

	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-A"))
	assert.Equal(t, int32(10), stockOf(t, ledger, "SKU-B"))
}
