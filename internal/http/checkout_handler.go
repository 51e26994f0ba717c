package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fjod/go_checkout/domain"
	"github.com/fjod/go_checkout/internal/cart"
	"github.com/fjod/go_checkout/internal/orders"
	"github.com/fjod/go_checkout/internal/saga"
)

// CheckoutService is the slice of the saga coordinator the handler needs.
type CheckoutService interface {
	Checkout(ctx context.Context, req saga.Request) (*saga.Result, error)
}

// OrderLookup resolves idempotency-key replays to the original order.
type OrderLookup interface {
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}

type CheckoutHandler struct {
	service CheckoutService
	carts   cart.Store
	lookup  OrderLookup
	timeout time.Duration
	logger  zerolog.Logger
}

func NewCheckoutHandler(service CheckoutService, carts cart.Store, lookup OrderLookup, timeout time.Duration, logger zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		carts:   carts,
		lookup:  lookup,
		timeout: timeout,
		logger:  logger,
	}
}

type CheckoutRequestDTO struct {
	ShippingAddressID string `json:"shipping_address_id"`
	CardNumber        string `json:"card_number"`
	Expiry            string `json:"expiry"`
	CVC               string `json:"cvc"`
}

type CheckoutResponseDTO struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	SKU       string `json:"sku,omitempty"`
	Retryable bool   `json:"retryable"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "missing_session", "session identifier is required")
		return
	}

	var dto CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	// A replayed submit with the same key returns the original result.
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey != "" {
		if existing, err := h.lookup.GetOrderByIdempotencyKey(ctx, idempotencyKey); err == nil {
			h.logger.Info().
				Str("idempotency_key", idempotencyKey).
				Str("order_id", existing.ID.String()).
				Msg("duplicate checkout request, returning existing order")
			respondJSON(w, http.StatusOK, CheckoutResponseDTO{
				OrderID:   existing.ID.String(),
				PaymentID: existing.PaymentID.String(),
			})
			return
		} else if !errors.Is(err, orders.ErrOrderNotFound) {
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to check idempotency")
			return
		}
	}

	snapshot, err := h.carts.GetCurrentCart(ctx, sessionID)
	if err != nil {
		if errors.Is(err, cart.ErrCartNotFound) {
			respondError(w, http.StatusBadRequest, "empty_cart", "no cart for this session")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load cart")
		return
	}

	result, err := h.service.Checkout(ctx, saga.Request{
		Cart: snapshot,
		Instrument: domain.PaymentInstrument{
			CardNumber: dto.CardNumber,
			Expiry:     dto.Expiry,
			CVC:        dto.CVC,
		},
		ShippingAddressID: dto.ShippingAddressID,
		IdempotencyKey:    idempotencyKey,
	})
	if err != nil {
		handleCheckoutError(w, err)
		return
	}

	// The saga never clears the cart; that is this caller's job, and a
	// failure here must not fail the completed checkout.
	if err := h.carts.ClearCart(ctx, sessionID); err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to clear cart after checkout")
	}

	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		OrderID:   result.OrderID.String(),
		PaymentID: result.PaymentID.String(),
	})
}

func handleCheckoutError(w http.ResponseWriter, err error) {
	var ce *domain.CheckoutError
	if !errors.As(err, &ce) {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	var httpStatus int
	switch ce.Kind {
	case domain.ErrKindInvalidCheckout:
		httpStatus = http.StatusBadRequest
	case domain.ErrKindInsufficientStock:
		httpStatus = http.StatusConflict
	case domain.ErrKindPaymentDeclined:
		httpStatus = http.StatusPaymentRequired
	case domain.ErrKindPaymentGateway:
		httpStatus = http.StatusBadGateway
	default:
		httpStatus = http.StatusInternalServerError
	}

	respondJSON(w, httpStatus, ErrorResponse{
		Error:     ce.Message,
		Code:      string(ce.Kind),
		SKU:       ce.SKU,
		Retryable: ce.Retryable(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing left to do for the client.
		return
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
