package orders

import "time"

// Order statuses
const (
	StatusCreated        = "created"
	StatusPaymentPending = "payment_pending"
	StatusShipped        = "shipped"
	StatusDelivered      = "delivered"
	StatusCancelled      = "cancelled"
	StatusRefunded       = "refunded"
)

// Payment methods accepted at checkout.
const (
	MethodCreditCard     = "credit_card"
	MethodBankTransfer   = "bank_transfer"
	MethodUPI            = "upi"
	MethodCashOnDelivery = "cash_on_delivery"
)

// DefaultCurrency applies when a request leaves currency unset.
const DefaultCurrency = "INR"

var knownStatuses = map[string]bool{
	StatusCreated:        true,
	StatusPaymentPending: true,
	StatusShipped:        true,
	StatusDelivered:      true,
	StatusCancelled:      true,
	StatusRefunded:       true,
}

// non-cancellable states; cancellation is only allowed before shipment
var terminalForCancel = []string{StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded}

var knownMethods = map[string]bool{
	MethodCreditCard:     true,
	MethodBankTransfer:   true,
	MethodUPI:            true,
	MethodCashOnDelivery: true,
}

// IsKnownStatus reports whether s is one of the lifecycle states.
func IsKnownStatus(s string) bool { return knownStatuses[s] }

// IsRecognizedMethod reports whether m is an accepted payment method.
func IsRecognizedMethod(m string) bool { return knownMethods[m] }

// Cancellable reports whether an order in status s may still be cancelled.
func Cancellable(s string) bool {
	for _, t := range terminalForCancel {
		if s == t {
			return false
		}
	}
	return true
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID        string      `json:"id" dynamodbav:"order_id"` // PK
	OrderNumber    string      `json:"orderNumber" dynamodbav:"order_number"`
	UserID         string      `json:"userId" dynamodbav:"user_id"`
	TotalAmount    float64     `json:"totalAmount" dynamodbav:"total_amount"`
	Currency       string      `json:"currency" dynamodbav:"currency"`
	PaymentMethod  string      `json:"paymentMethod" dynamodbav:"payment_method"`
	PaymentID      *string     `json:"paymentId" dynamodbav:"payment_id,omitempty"`
	Status         string      `json:"status" dynamodbav:"status"`
	ItemCount      int         `json:"itemCount" dynamodbav:"item_count"`
	IdempotencyKey string      `json:"-" dynamodbav:"idempotency_key,omitempty"`
	Items          []OrderItem `json:"items,omitempty" dynamodbav:"-"` // order_items table
	CreatedAt      time.Time   `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt      time.Time   `json:"updatedAt" dynamodbav:"updated_at"`
}

// OrderItem is one line of an order, stored in the order_items table under (order_id, line).
type OrderItem struct {
	OrderID   string    `json:"orderId" dynamodbav:"order_id"` // PK
	Line      int       `json:"line" dynamodbav:"line"`        // SK, 1-based
	ItemID    string    `json:"id" dynamodbav:"item_id"`
	SKU       string    `json:"sku,omitempty" dynamodbav:"sku,omitempty"`
	ProductID string    `json:"productId,omitempty" dynamodbav:"product_id,omitempty"`
	Name      string    `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Quantity  int       `json:"quantity" dynamodbav:"quantity"`
	UnitPrice float64   `json:"price" dynamodbav:"unit_price"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"created_at"`
}

// CreateInput is an already-priced order request.
type CreateInput struct {
	UserID         string
	Items          []ItemInput
	TotalAmount    float64
	Currency       string
	PaymentMethod  string
	IdempotencyKey string
}

// ItemInput is one requested line.
type ItemInput struct {
	SKU       string
	ProductID string
	Name      string
	Quantity  int
	UnitPrice float64
}

// Event is published to the order events queue after a committed change.
type Event struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Status      string    `json:"status"`
	PaymentID   *string   `json:"paymentId,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Event types
const (
	EventCreated       = "order.created"
	EventStatusChanged = "order.status_changed"
	EventCancelled     = "order.cancelled"
)
