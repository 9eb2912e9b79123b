package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Service creates, voids and settles payment intents. It holds no state of its own.
type Service struct {
	store   *Store
	logger  *slog.Logger
	nowFunc func() time.Time
	idFunc  func() string
}

// NewService returns a Service backed by store.
func NewService(store *Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		logger:  logger,
		nowFunc: func() time.Time { return time.Now().UTC() },
		idFunc:  uuid.NewString,
	}
}

// CreateIntent builds a new intent in status created for the order's amount.
// The caller persists it with PutTx in the same transaction as the order.
func (s *Service) CreateIntent(orderID string, amount float64, currency string) PaymentIntent {
	now := s.nowFunc()
	return PaymentIntent{
		PaymentID: s.idFunc(),
		OrderID:   orderID,
		Amount:    amount,
		Currency:  currency,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PutTx returns the write creating pi.
func (s *Service) PutTx(pi PaymentIntent) (types.TransactWriteItem, error) {
	return s.store.PutTx(pi)
}

// CancelTx returns the write voiding paymentID.
func (s *Service) CancelTx(paymentID string, now time.Time) (types.TransactWriteItem, error) {
	return s.store.CancelTx(paymentID, now)
}

// Get returns the intent or ErrNotFound.
func (s *Service) Get(ctx context.Context, paymentID string) (*PaymentIntent, error) {
	pi, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if pi == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, paymentID)
	}
	return pi, nil
}

// CancelIntent voids a created or declined intent. Cancelling an already
// cancelled intent is a no-op; a succeeded intent yields ErrStatusMismatch.
func (s *Service) CancelIntent(ctx context.Context, paymentID string) (*PaymentIntent, error) {
	pi, err := s.store.Transition(ctx, paymentID, []string{StatusCreated, StatusFailed}, StatusCancelled, "", s.nowFunc())
	if errors.Is(err, ErrStatusMismatch) && pi != nil && pi.Status == StatusCancelled {
		return pi, nil
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment intent cancelled", "payment_id", paymentID, "order_id", pi.OrderID)
	return pi, nil
}

// Settle records the collaborator's outcome (succeeded or failed) for a created intent.
// Repeating the same outcome is a no-op.
func (s *Service) Settle(ctx context.Context, paymentID, outcome, reason string) (*PaymentIntent, error) {
	if outcome != StatusSucceeded && outcome != StatusFailed {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if outcome == StatusSucceeded {
		reason = ""
	}
	pi, err := s.store.Transition(ctx, paymentID, []string{StatusCreated}, outcome, reason, s.nowFunc())
	if errors.Is(err, ErrStatusMismatch) && pi != nil && pi.Status == outcome {
		return pi, nil
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment intent settled", "payment_id", paymentID, "order_id", pi.OrderID, "outcome", outcome)
	return pi, nil
}
