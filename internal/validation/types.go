package validation

import (
	"encoding/json"
	"strings"
)

// Item is one line of a create-order payload.
type Item struct {
	SKU       string  `json:"sku" validate:"required_without=ProductID"`
	ProductID string  `json:"productId"`
	Name      string  `json:"name" validate:"max=200"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`
	Price     float64 `json:"price" validate:"gte=0"` // unit price
}

// UnmarshalJSON accepts "qty" as a short form of "quantity".
func (it *Item) UnmarshalJSON(b []byte) error {
	type plain Item
	aux := struct {
		*plain
		Qty *int `json:"qty"`
	}{plain: (*plain)(it)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if it.Quantity == 0 && aux.Qty != nil {
		it.Quantity = *aux.Qty
	}
	return nil
}

// CreateOrderRequest is the payload for POST /orders. Amounts are taken as
// priced by the caller; the total is not recomputed from the lines.
type CreateOrderRequest struct {
	UserID        string  `json:"userId" validate:"required"`
	Items         []Item  `json:"items" validate:"required,min=1,max=90,dive"`
	TotalAmount   float64 `json:"totalAmount" validate:"gt=0"`
	Currency      string  `json:"currency" validate:"omitempty,iso4217"`
	PaymentMethod string  `json:"paymentMethod" validate:"required,payment_method"`
}

// Normalize upper-cases the currency so "inr" validates as INR, the same
// rule the order service applies.
func (r *CreateOrderRequest) Normalize() {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

// UpdateStatusRequest is the payload for PATCH /orders/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}
