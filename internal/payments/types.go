package payments

import (
	"errors"
	"time"
)

// Intent statuses. Only cancelled is driven by the order lifecycle; succeeded
// and failed are reported by the payment collaborator.
const (
	StatusCreated   = "created"
	StatusCancelled = "cancelled"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// voidable lists the statuses an order cancellation may move to cancelled.
// A declined (failed) intent holds no money, so it is voided like a fresh one.
var voidable = []string{StatusCreated, StatusFailed, StatusCancelled}

var (
	// ErrNotFound indicates the referenced intent does not exist.
	ErrNotFound = errors.New("payment intent: not found")
	// ErrStatusMismatch indicates the intent was not in a state that allows the transition.
	ErrStatusMismatch = errors.New("payment intent: status mismatch")
	// ErrInvalidOutcome indicates a settlement outcome other than succeeded or failed.
	ErrInvalidOutcome = errors.New("payment intent: invalid settlement outcome")
)

// intentMethods is the closed set of payment methods settled through an intent.
var intentMethods = map[string]bool{
	"credit_card":   true,
	"bank_transfer": true,
	"upi":           true,
}

// RequiresIntent reports whether orders paid with method need a payment intent.
func RequiresIntent(method string) bool { return intentMethods[method] }

// PaymentIntent is the item stored in the payment_intents table.
type PaymentIntent struct {
	PaymentID     string    `json:"id" dynamodbav:"payment_id"` // PK
	OrderID       string    `json:"orderId" dynamodbav:"order_id"`
	Amount        float64   `json:"amount" dynamodbav:"amount"`
	Currency      string    `json:"currency" dynamodbav:"currency"`
	Status        string    `json:"status" dynamodbav:"status"`
	FailureReason string    `json:"failureReason,omitempty" dynamodbav:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}
