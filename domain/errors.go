package domain

import "fmt"

type CheckoutErrorKind string

const (
	ErrKindInvalidCheckout              CheckoutErrorKind = "INVALID_CHECKOUT"
	ErrKindInsufficientStock            CheckoutErrorKind = "INSUFFICIENT_STOCK"
	ErrKindPaymentDeclined              CheckoutErrorKind = "PAYMENT_DECLINED"
	ErrKindPaymentGateway               CheckoutErrorKind = "PAYMENT_GATEWAY_ERROR"
	ErrKindOrderPersistenceAfterPayment CheckoutErrorKind = "ORDER_PERSISTENCE_AFTER_PAYMENT"
)

// CheckoutError is the single error type the saga returns. Kind identifies the
// failure class; SKU and Reason carry the variant-specific detail. Retryable
// tells the caller whether submitting the same checkout again can succeed.
type CheckoutError struct {
	Kind    CheckoutErrorKind
	Message string
	SKU     string // set for INSUFFICIENT_STOCK
	Reason  string // set for PAYMENT_DECLINED
	Err     error  // triggering cause, never a compensation failure
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkout failed (%s): %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("checkout failed (%s): %s", e.Kind, e.Message)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same checkout may be re-submitted by the
// caller. Declines are permanent for this attempt; a gateway error is
// ambiguous but a fresh attempt is a new charge, so it stays retryable.
// Persistence-after-payment needs operator attention first.
func (e *CheckoutError) Retryable() bool {
	switch e.Kind {
	case ErrKindInsufficientStock, ErrKindPaymentGateway:
		return true
	default:
		return false
	}
}

func NewInvalidCheckout(msg string) *CheckoutError {
	return &CheckoutError{Kind: ErrKindInvalidCheckout, Message: msg}
}

func NewInsufficientStock(sku string) *CheckoutError {
	return &CheckoutError{
		Kind:    ErrKindInsufficientStock,
		Message: fmt.Sprintf("insufficient stock for sku %s", sku),
		SKU:     sku,
	}
}

func NewPaymentDeclined(reason string) *CheckoutError {
	return &CheckoutError{
		Kind:    ErrKindPaymentDeclined,
		Message: fmt.Sprintf("payment declined: %s", reason),
		Reason:  reason,
	}
}

func NewPaymentGatewayError(err error) *CheckoutError {
	return &CheckoutError{
		Kind:    ErrKindPaymentGateway,
		Message: "payment gateway unavailable or ambiguous",
		Err:     err,
	}
}

// NewOrderPersistenceAfterPayment flags the one genuinely dangerous branch:
// funds are captured but no order exists. It carries the captured transaction
// id so operators can reconcile manually if the compensating refund failed.
func NewOrderPersistenceAfterPayment(transactionID string, err error) *CheckoutError {
	return &CheckoutError{
		Kind:    ErrKindOrderPersistenceAfterPayment,
		Message: fmt.Sprintf("order persistence failed after payment capture (transaction %s)", transactionID),
		Err:     err,
	}
}
