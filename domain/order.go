package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
)

type Order struct {
	ID                uuid.UUID     `json:"id"`
	UserID            string        `json:"user_id"`
	ShippingAddressID string        `json:"shipping_address_id"`
	TotalAmount       int64         `json:"total_amount"` // cents
	Currency          string        `json:"currency"`
	Status            OrderStatus   `json:"status"`
	PaymentID         uuid.UUID     `json:"payment_id"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	IdempotencyKey    string        `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

type OrderItem struct {
	OrderID    uuid.UUID `json:"order_id"`
	ProductID  int64     `json:"product_id"`
	VariantSKU string    `json:"variant_sku"`
	Quantity   int32     `json:"quantity"`
	Price      int64     `json:"price"` // unit price in cents at checkout time
}

type Payment struct {
	ID            uuid.UUID     `json:"id"`
	OrderID       uuid.UUID     `json:"order_id"`
	Amount        int64         `json:"amount"` // cents
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewOrderFromSnapshot builds the order aggregate for a captured payment.
// PaymentStatus moves to COMPLETED in the same persistence step that sets
// PaymentID, so the aggregate is only ever persisted fully paid.
func NewOrderFromSnapshot(cart *CartSnapshot, shippingAddressID, transactionID, idempotencyKey string) (Order, []OrderItem, Payment) {
	now := time.Now().UTC()

	order := Order{
		ID:                uuid.New(),
		UserID:            cart.UserID,
		ShippingAddressID: shippingAddressID,
		TotalAmount:       cart.TotalAmount,
		Currency:          cart.Currency,
		Status:            OrderStatusPending,
		PaymentStatus:     PaymentStatusCompleted,
		IdempotencyKey:    idempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	items := make([]OrderItem, len(cart.Lines))
	for i, line := range cart.Lines {
		items[i] = OrderItem{
			OrderID:    order.ID,
			ProductID:  line.ProductID,
			VariantSKU: line.VariantSKU,
			Quantity:   line.Quantity,
			Price:      line.UnitPrice,
		}
	}

	payment := Payment{
		ID:            uuid.New(),
		OrderID:       order.ID,
		Amount:        cart.TotalAmount,
		Currency:      cart.Currency,
		Status:        PaymentStatusCompleted,
		TransactionID: transactionID,
		CreatedAt:     now,
	}
	order.PaymentID = payment.ID

	return order, items, payment
}
