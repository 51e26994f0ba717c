package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_checkout/domain"
)

// HTTPGateway talks to the external payment processor over HTTP. Every call
// runs with an explicit timeout and through a circuit breaker; any outcome
// other than a well-formed captured/declined response maps to
// ErrGatewayUnavailable, because the processor may have captured funds even
// when this process never saw the response.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*ChargeResult]
	timeout time.Duration
	logger  zerolog.Logger
}

type chargeRequestDTO struct {
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	CardNumber string `json:"card_number"`
	Expiry     string `json:"expiry"`
	CVC        string `json:"cvc"`
}

type chargeResponseDTO struct {
	TransactionID string `json:"transaction_id"`
	DeclineReason string `json:"decline_reason"`
}

type refundRequestDTO struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

func NewHTTPGateway(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPGateway {
	breaker := gobreaker.NewCircuitBreaker[*ChargeResult](gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPGateway{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		timeout: timeout,
		logger:  logger,
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, amountCents int64, currency string, instrument domain.PaymentInstrument) (*ChargeResult, error) {
	result, err := g.breaker.Execute(func() (*ChargeResult, error) {
		return g.doCharge(ctx, amountCents, currency, instrument)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.logger.Warn().Err(err).Msg("payment gateway circuit breaker open")
			return nil, fmt.Errorf("%w: circuit breaker open", ErrGatewayUnavailable)
		}
		return nil, err
	}
	return result, nil
}

func (g *HTTPGateway) doCharge(ctx context.Context, amountCents int64, currency string, instrument domain.PaymentInstrument) (*ChargeResult, error) {
	body, err := json.Marshal(chargeRequestDTO{
		Amount:     amountCents,
		Currency:   currency,
		CardNumber: instrument.CardNumber,
		Expiry:     instrument.Expiry,
		CVC:        instrument.CVC,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal charge request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// Timeout or connection failure: the charge may have landed.
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var dto chargeResponseDTO
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
			return nil, fmt.Errorf("%w: malformed capture response: %v", ErrGatewayUnavailable, err)
		}
		if dto.TransactionID == "" {
			return nil, fmt.Errorf("%w: capture response missing transaction id", ErrGatewayUnavailable)
		}
		return &ChargeResult{Status: ChargeStatusCaptured, TransactionID: dto.TransactionID}, nil

	case resp.StatusCode == http.StatusPaymentRequired:
		// A decline is a definitive answer from the processor, not a failure.
		if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil || dto.DeclineReason == "" {
			dto.DeclineReason = "card declined"
		}
		return &ChargeResult{Status: ChargeStatusDeclined, DeclineReason: dto.DeclineReason}, nil

	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
}

func (g *HTTPGateway) Refund(ctx context.Context, transactionID string, amountCents int64) error {
	body, err := json.Marshal(refundRequestDTO{TransactionID: transactionID, Amount: amountCents})
	if err != nil {
		return fmt.Errorf("marshal refund request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: refund for %s returned status %d", ErrGatewayUnavailable, transactionID, resp.StatusCode)
	}
	return nil
}
