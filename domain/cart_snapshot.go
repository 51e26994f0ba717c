package domain

import "time"

type CartLine struct {
	ProductID  int64  `json:"product_id"`
	VariantSKU string `json:"variant_sku"`
	UnitPrice  int64  `json:"unit_price"` // cents
	Quantity   int32  `json:"quantity"`
}

// CartSnapshot represents the full cart state at checkout time.
// It is owned by the cart collaborator and is read-only for the saga.
type CartSnapshot struct {
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	Lines       []CartLine `json:"lines"`
	TotalAmount int64      `json:"total_amount"` // cents
	Currency    string     `json:"currency"`
	CapturedAt  time.Time  `json:"captured_at"`
}

// Subtotal returns the line total in cents.
func (l CartLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// ComputeTotal sums all line subtotals; callers persist the result in
// TotalAmount so the charged amount matches what was snapshotted.
func (c *CartSnapshot) ComputeTotal() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.Subtotal()
	}
	return total
}
