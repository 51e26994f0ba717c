package payment

import (
	"context"
	"errors"

	"github.com/fjod/go_checkout/domain"
)

// ErrGatewayUnavailable marks the ambiguous failure class: the processor may
// or may not have captured funds (timeout, 5xx, connection failure, open
// breaker). Callers must never treat it as a decline and must not blindly
// retry the charge.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ChargeStatus is the processor's answer to a charge attempt.
type ChargeStatus string

const (
	ChargeStatusCaptured ChargeStatus = "CAPTURED"
	ChargeStatusDeclined ChargeStatus = "DECLINED"
)

// ChargeResult carries the outcome of a successful round trip. A Declined
// result is a normal business outcome, not an error; transport-level failures
// surface as ErrGatewayUnavailable instead.
type ChargeResult struct {
	Status        ChargeStatus
	TransactionID string // set when captured
	DeclineReason string // set when declined
}

// Gateway is the narrow contract to the external payment processor.
type Gateway interface {
	// Charge authorizes and captures amountCents in one step.
	Charge(ctx context.Context, amountCents int64, currency string, instrument domain.PaymentInstrument) (*ChargeResult, error)

	// Refund voids or refunds a previously captured transaction. Used only
	// as best-effort compensation when order persistence fails after capture.
	Refund(ctx context.Context, transactionID string, amountCents int64) error
}
