package saga

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fjod/go_checkout/domain"
	"github.com/fjod/go_checkout/internal/orders"
	"github.com/fjod/go_checkout/internal/payment"
	"github.com/fjod/go_checkout/internal/stock"
)

// Request is one checkout attempt. The cart snapshot is read-only for the
// saga; the idempotency key is optional and guards against double submits.
type Request struct {
	Cart              *domain.CartSnapshot
	Instrument        domain.PaymentInstrument
	ShippingAddressID string
	IdempotencyKey    string
}

// Result is the terminal success state.
type Result struct {
	OrderID   uuid.UUID
	PaymentID uuid.UUID
}

// reservation is one entry of the saga-local reservation ledger, recorded the
// instant a decrement succeeds and compensated exactly once, in reverse order.
type reservation struct {
	sku              string
	quantityReserved int32
	originalQuantity int32
}

// Coordinator orchestrates the checkout saga: validate, reserve stock, charge,
// persist, with compensations in reverse order of the side effects actually
// committed. One Checkout call is one sequential saga run; concurrency across
// runs is handled entirely by the stock ledger's atomic conditional decrement.
type Coordinator struct {
	ledger  stock.Ledger
	gateway payment.Gateway
	store   orders.Store
	tracer  trace.Tracer
	logger  zerolog.Logger
	now     func() time.Time
}

func NewCoordinator(ledger stock.Ledger, gateway payment.Gateway, store orders.Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		ledger:  ledger,
		gateway: gateway,
		store:   store,
		tracer:  noop.NewTracerProvider().Tracer("saga"),
		logger:  logger,
		now:     time.Now,
	}
}

// WithTracer replaces the no-op tracer, typically with the process-wide
// provider's tracer.
func (c *Coordinator) WithTracer(tracer trace.Tracer) *Coordinator {
	c.tracer = tracer
	return c
}

// Checkout runs the saga to one of its two terminal states. On failure the
// returned error is always a *domain.CheckoutError naming the real reason;
// compensation failures are logged as secondary detail, never returned.
//
// Once stock reservation begins the saga runs to completion: compensations
// use a context detached from the caller's cancellation so an abandoned
// request cannot strand reservations or a captured payment.
func (c *Coordinator) Checkout(ctx context.Context, req Request) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "saga.Checkout")
	defer span.End()

	status := domain.CheckoutStatusValidating
	if err := c.validate(req); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	cart := req.Cart
	logger := c.logger.With().
		Str("user_id", cart.UserID).
		Str("session_id", cart.SessionID).
		Int64("total_amount", cart.TotalAmount).
		Logger()

	status = c.transition(status, domain.CheckoutStatusReservingStock)
	reservations, failedSKU, err := c.reserveStock(ctx, cart)
	if err != nil {
		status = c.transition(status, domain.CheckoutStatusCompensating)
		c.releaseReservations(ctx, logger, reservations)
		c.transition(status, domain.CheckoutStatusFailed)

		span.RecordError(err)
		span.SetStatus(codes.Error, "stock reservation failed")
		if errors.Is(err, stock.ErrInsufficientStock) || errors.Is(err, stock.ErrSKUNotFound) {
			return nil, domain.NewInsufficientStock(failedSKU)
		}
		checkoutErr := domain.NewInsufficientStock(failedSKU)
		checkoutErr.Err = err
		return nil, checkoutErr
	}

	status = c.transition(status, domain.CheckoutStatusCharging)
	chargeResult, err := c.charge(ctx, cart, req.Instrument)
	if err != nil {
		status = c.transition(status, domain.CheckoutStatusCompensating)
		c.releaseReservations(ctx, logger, reservations)
		c.transition(status, domain.CheckoutStatusFailed)

		span.RecordError(err)
		span.SetStatus(codes.Error, "charge failed")
		// Ambiguous gateway failure: funds may or may not be captured. The
		// saga never retries the charge itself; the caller may retry the
		// whole checkout later.
		return nil, domain.NewPaymentGatewayError(err)
	}
	if chargeResult.Status == payment.ChargeStatusDeclined {
		status = c.transition(status, domain.CheckoutStatusCompensating)
		c.releaseReservations(ctx, logger, reservations)
		c.transition(status, domain.CheckoutStatusFailed)

		span.SetStatus(codes.Error, "payment declined")
		return nil, domain.NewPaymentDeclined(chargeResult.DeclineReason)
	}

	status = c.transition(status, domain.CheckoutStatusPersisting)
	order, items, pay := domain.NewOrderFromSnapshot(cart, req.ShippingAddressID, chargeResult.TransactionID, req.IdempotencyKey)
	orderID, err := c.persist(ctx, order, items, pay)
	if err != nil {
		// The critical branch: payment is captured by an external system,
		// but no order exists. Everything here is best-effort; the distinct
		// error kind is what guarantees operator attention.
		status = c.transition(status, domain.CheckoutStatusCompensating)
		c.releaseReservations(ctx, logger, reservations)
		c.refundCapturedPayment(ctx, logger, chargeResult.TransactionID, cart.TotalAmount)
		c.transition(status, domain.CheckoutStatusFailed)

		span.RecordError(err)
		span.SetStatus(codes.Error, "order persistence failed after capture")
		return nil, domain.NewOrderPersistenceAfterPayment(chargeResult.TransactionID, err)
	}

	c.transition(status, domain.CheckoutStatusCompleted)
	logger.Info().
		Str("order_id", orderID.String()).
		Str("payment_id", pay.ID.String()).
		Str("transaction_id", chargeResult.TransactionID).
		Msg("checkout completed")

	return &Result{OrderID: orderID, PaymentID: pay.ID}, nil
}

func (c *Coordinator) validate(req Request) error {
	cart := req.Cart
	if cart == nil || len(cart.Lines) == 0 {
		return domain.NewInvalidCheckout("cart is empty, nothing to checkout")
	}

	for i, line := range cart.Lines {
		if line.VariantSKU == "" {
			return domain.NewInvalidCheckout(fmt.Sprintf("line %d: missing variant sku", i))
		}
		if line.Quantity <= 0 {
			return domain.NewInvalidCheckout(fmt.Sprintf("line %d: quantity must be positive", i))
		}
		if line.UnitPrice < 0 {
			return domain.NewInvalidCheckout(fmt.Sprintf("line %d: negative unit price", i))
		}
	}

	if cart.TotalAmount != cart.ComputeTotal() {
		return domain.NewInvalidCheckout("cart total does not match line items")
	}
	if cart.TotalAmount <= 0 {
		return domain.NewInvalidCheckout("cart total must be positive")
	}
	if len(cart.Currency) != 3 {
		return domain.NewInvalidCheckout("currency must be a 3-letter ISO code")
	}

	if req.ShippingAddressID == "" {
		return domain.NewInvalidCheckout("shipping address is required")
	}

	// A malformed instrument never reaches the payment gateway.
	if err := req.Instrument.Validate(c.now()); err != nil {
		return domain.NewInvalidCheckout(fmt.Sprintf("invalid payment instrument: %v", err))
	}

	return nil
}

// reserveStock decrements stock line by line in ascending SKU order, so
// concurrent checkouts acquire contended rows in the same order. It returns
// the reservations committed before the first failure, for compensation.
func (c *Coordinator) reserveStock(ctx context.Context, cart *domain.CartSnapshot) ([]reservation, string, error) {
	ctx, span := c.tracer.Start(ctx, "saga.ReserveStock")
	defer span.End()

	lines := make([]domain.CartLine, len(cart.Lines))
	copy(lines, cart.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].VariantSKU < lines[j].VariantSKU })

	reservations := make([]reservation, 0, len(lines))
	for _, line := range lines {
		prev, err := c.ledger.Reserve(ctx, line.VariantSKU, line.Quantity)
		if err != nil {
			span.RecordError(err)
			return reservations, line.VariantSKU, err
		}
		reservations = append(reservations, reservation{
			sku:              line.VariantSKU,
			quantityReserved: line.Quantity,
			originalQuantity: prev,
		})
	}

	return reservations, "", nil
}

func (c *Coordinator) charge(ctx context.Context, cart *domain.CartSnapshot, instrument domain.PaymentInstrument) (*payment.ChargeResult, error) {
	ctx, span := c.tracer.Start(ctx, "saga.Charge")
	defer span.End()

	return c.gateway.Charge(ctx, cart.TotalAmount, cart.Currency, instrument)
}

func (c *Coordinator) persist(ctx context.Context, order domain.Order, items []domain.OrderItem, pay domain.Payment) (uuid.UUID, error) {
	ctx, span := c.tracer.Start(ctx, "saga.PersistOrder")
	defer span.End()

	return c.store.PersistOrder(ctx, order, items, pay)
}

// releaseReservations compensates the reservation ledger in reverse
// acquisition order. Each entry is compensated exactly once; a failed release
// is logged and skipped so the remaining entries still get released and the
// original error is still the one reported.
func (c *Coordinator) releaseReservations(ctx context.Context, logger zerolog.Logger, reservations []reservation) {
	if len(reservations) == 0 {
		return
	}

	// Detached from the caller's cancellation: an abandoned request must not
	// strand reservations.
	compCtx, span := c.tracer.Start(context.WithoutCancel(ctx), "saga.compensation.ReleaseStock")
	defer span.End()

	for i := len(reservations) - 1; i >= 0; i-- {
		r := reservations[i]
		if err := c.ledger.Release(compCtx, r.sku, r.quantityReserved); err != nil {
			span.RecordError(err)
			logger.Error().Err(err).
				Str("sku", r.sku).
				Int32("quantity", r.quantityReserved).
				Int32("original_quantity", r.originalQuantity).
				Msg("failed to release stock reservation during compensation")
			continue
		}
		logger.Debug().
			Str("sku", r.sku).
			Int32("quantity", r.quantityReserved).
			Msg("stock reservation released")
	}
}

// refundCapturedPayment attempts to void a captured transaction after order
// persistence failed. A refund failure means funds are captured with no order
// row anywhere, so it is logged at error level for operator follow-up.
func (c *Coordinator) refundCapturedPayment(ctx context.Context, logger zerolog.Logger, transactionID string, amountCents int64) {
	compCtx, span := c.tracer.Start(context.WithoutCancel(ctx), "saga.compensation.RefundPayment")
	defer span.End()

	if err := c.gateway.Refund(compCtx, transactionID, amountCents); err != nil {
		span.RecordError(err)
		logger.Error().Err(err).
			Str("transaction_id", transactionID).
			Int64("amount", amountCents).
			Msg("compensating refund failed: funds captured with no order, operator attention required")
		return
	}

	logger.Warn().
		Str("transaction_id", transactionID).
		Int64("amount", amountCents).
		Msg("captured payment refunded after order persistence failure")
}

// transition asserts a legal state-machine move. An illegal move is a
// programming error in the coordinator itself, so it only logs; the saga's
// behavior is driven by control flow, the status is its audit trail.
func (c *Coordinator) transition(from, to domain.CheckoutStatus) domain.CheckoutStatus {
	if !domain.CanTransitionTo(from, to) {
		c.logger.Error().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("illegal checkout status transition")
	}
	return to
}
