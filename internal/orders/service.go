package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/payments"
)

// MaxItems bounds the lines of one order so the create transaction stays
// under DynamoDB's 100-write limit (guard, order, intent, idempotency + lines).
const MaxItems = 90

const defaultMaxCreateAttempts = 3

// EventPublisher delivers order events; *aws.Publisher satisfies it.
type EventPublisher interface {
	SendEvent(ctx context.Context, messageBody string, attributes map[string]string) error
}

// Counter records business metrics; *aws.Metrics satisfies it.
type Counter interface {
	Count(ctx context.Context, name string, value float64) error
}

// Metric names
const (
	MetricOrdersCreated        = "OrdersCreated"
	MetricOrdersCancelled      = "OrdersCancelled"
	MetricOrderNumberCollision = "OrderNumberCollisions"
	MetricEventPublishFailures = "EventPublishFailures"
)

// Deps bundles collaborators of the Service. Idempotency, Events and Metrics are optional.
type Deps struct {
	DynamoDB          aws.DynamoDBAPI
	Orders            *Store
	Items             *ItemStore
	Payments          *payments.Service
	Idempotency       *idempotency.Store
	Events            EventPublisher
	Metrics           Counter
	Logger            *slog.Logger
	Numbers           NumberGenerator
	MaxCreateAttempts int
}

// Service orchestrates order creation, status changes and cancellation.
type Service struct {
	dynamo      aws.DynamoDBAPI
	orders      *Store
	items       *ItemStore
	payments    *payments.Service
	idempotency *idempotency.Store
	events      EventPublisher
	metrics     Counter
	logger      *slog.Logger
	numbers     NumberGenerator
	maxAttempts int
	nowFunc     func() time.Time
	idFunc      func() string
}

// NewService wires a Service from d.
func NewService(d Deps) *Service {
	s := &Service{
		dynamo:      d.DynamoDB,
		orders:      d.Orders,
		items:       d.Items,
		payments:    d.Payments,
		idempotency: d.Idempotency,
		events:      d.Events,
		metrics:     d.Metrics,
		logger:      d.Logger,
		numbers:     d.Numbers,
		maxAttempts: d.MaxCreateAttempts,
		nowFunc:     func() time.Time { return time.Now().UTC() },
		idFunc:      uuid.NewString,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.numbers == nil {
		s.numbers = NewOrderNumber
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxCreateAttempts
	}
	return s
}

// Create validates in and atomically persists the order, its lines and, for
// intent-backed payment methods, a payment intent. A collision on the
// generated order number is retried with a fresh number.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	now := s.nowFunc()
	order := Order{
		OrderID:        s.idFunc(),
		UserID:         in.UserID,
		TotalAmount:    in.TotalAmount,
		Currency:       in.Currency,
		PaymentMethod:  in.PaymentMethod,
		Status:         StatusCreated,
		ItemCount:      len(in.Items),
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	items := make([]OrderItem, 0, len(in.Items))
	for i, it := range in.Items {
		items = append(items, OrderItem{
			OrderID:   order.OrderID,
			Line:      i + 1,
			ItemID:    s.idFunc(),
			SKU:       it.SKU,
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			CreatedAt: now,
		})
	}

	var intent *payments.PaymentIntent
	if payments.RequiresIntent(order.PaymentMethod) {
		pi := s.payments.CreateIntent(order.OrderID, order.TotalAmount, order.Currency)
		intent = &pi
		order.PaymentID = &pi.PaymentID
		order.Status = StatusPaymentPending
	}

	for attempt := 1; ; attempt++ {
		order.OrderNumber = s.numbers(now)
		uow, err := s.createWork(order, items, intent)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		err = commit(ctx, s.dynamo, uow)
		if err == nil {
			break
		}
		var cf *conditionFailure
		if errors.As(err, &cf) {
			if cf.has(opIdempotency) {
				return nil, fmt.Errorf("%w: idempotency key %q", ErrDuplicateRequest, in.IdempotencyKey)
			}
			if cf.has(opOrderNumber) && !cf.has(opOrder) && attempt < s.maxAttempts {
				s.logger.Warn("order number collision, retrying",
					"order_number", order.OrderNumber, "attempt", attempt)
				s.count(ctx, MetricOrderNumberCollision)
				continue
			}
		}
		return nil, fmt.Errorf("%w: create order %s: %v", ErrPersistence, order.OrderID, err)
	}

	order.Items = items
	s.logger.Info("order created",
		"order_id", order.OrderID,
		"order_number", order.OrderNumber,
		"status", order.Status,
		"payment_method", order.PaymentMethod,
		"items", len(items))
	s.count(ctx, MetricOrdersCreated)
	s.emit(ctx, EventCreated, &order)
	return &order, nil
}

func (s *Service) createWork(order Order, items []OrderItem, intent *payments.PaymentIntent) (*unitOfWork, error) {
	uow := &unitOfWork{}
	guard, put, err := s.orders.PutTx(order)
	if err != nil {
		return nil, err
	}
	uow.add(opOrderNumber, guard)
	uow.add(opOrder, put)

	lines, err := s.items.PutTx(items)
	if err != nil {
		return nil, err
	}
	uow.add(opItem, lines...)

	if intent != nil {
		op, err := s.payments.PutTx(*intent)
		if err != nil {
			return nil, err
		}
		uow.add(opPaymentIntent, op)
	}
	if order.IdempotencyKey != "" && s.idempotency != nil {
		op, err := s.idempotency.PutTx(order.IdempotencyKey, order.OrderID)
		if err != nil {
			return nil, err
		}
		uow.add(opIdempotency, op)
	}
	return uow, nil
}

// Get returns the order merged with its lines.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	if err := s.attachItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns every order, oldest first, without lines.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	out, err := s.orders.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return out, nil
}

// UpdateStatus sets the order status. Unknown values are rejected, and a
// request for cancelled goes through Cancel so the status guard and intent
// voiding apply. Other transitions are last-writer-wins.
func (s *Service) UpdateStatus(ctx context.Context, orderID, status string) (*Order, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, &ValidationError{Fields: map[string]string{"status": "is required"}}
	}
	if !IsKnownStatus(status) {
		return nil, &ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown status %q", status)}}
	}
	if status == StatusCancelled {
		return s.Cancel(ctx, orderID)
	}

	o, err := s.orders.SetStatus(ctx, orderID, status, s.nowFunc())
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.attachItems(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info("order status updated", "order_id", orderID, "status", status)
	s.emit(ctx, EventStatusChanged, o)
	return o, nil
}

// Cancel moves a pre-shipment order to cancelled and voids its payment
// intent in the same transaction.
func (s *Service) Cancel(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	if !Cancellable(o.Status) {
		return nil, cannotCancel(orderID, o.Status)
	}

	now := s.nowFunc()
	uow := &unitOfWork{}
	op, err := s.orders.CancelTx(orderID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	uow.add(opOrder, op)
	if o.PaymentID != nil {
		op, err := s.payments.CancelTx(*o.PaymentID, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		uow.add(opPaymentIntent, op)
	}

	if err := commit(ctx, s.dynamo, uow); err != nil {
		var cf *conditionFailure
		if !errors.As(err, &cf) {
			return nil, fmt.Errorf("%w: cancel order %s: %v", ErrPersistence, orderID, err)
		}
		if cf.has(opOrder) {
			// status changed between the read and the guarded write
			old := cf.failed[opOrder]
			if len(old) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
			}
			var cur Order
			if err := attributevalue.UnmarshalMap(old, &cur); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			return nil, cannotCancel(orderID, cur.Status)
		}
		return nil, &ConflictError{
			OrderID:       orderID,
			CurrentStatus: o.Status,
			Reason:        "cannot cancel: payment has already succeeded",
		}
	}

	o.Status = StatusCancelled
	o.UpdatedAt = now
	if err := s.attachItems(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info("order cancelled", "order_id", orderID, "order_number", o.OrderNumber)
	s.count(ctx, MetricOrdersCancelled)
	s.emit(ctx, EventCancelled, o)
	return o, nil
}

func (s *Service) attachItems(ctx context.Context, o *Order) error {
	items, err := s.items.List(ctx, o.OrderID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	o.Items = items
	return nil
}

// emit publishes an event for a committed change. The tables stay the
// source of truth, so a failed publish is logged and counted only.
func (s *Service) emit(ctx context.Context, eventType string, o *Order) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(Event{
		Type:        eventType,
		OrderID:     o.OrderID,
		OrderNumber: o.OrderNumber,
		Status:      o.Status,
		PaymentID:   o.PaymentID,
		OccurredAt:  o.UpdatedAt,
	})
	if err != nil {
		s.logger.Error("marshal order event", "order_id", o.OrderID, "error", err)
		return
	}
	attrs := map[string]string{
		"event_type": eventType,
		"order_id":   o.OrderID,
	}
	if err := s.events.SendEvent(ctx, string(body), attrs); err != nil {
		s.logger.Error("publish order event", "order_id", o.OrderID, "event_type", eventType, "error", err)
		s.count(ctx, MetricEventPublishFailures)
	}
}

func (s *Service) count(ctx context.Context, metric string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.Count(ctx, metric, 1); err != nil {
		s.logger.Warn("record metric", "metric", metric, "error", err)
	}
}

func validateCreate(in *CreateInput) error {
	fields := map[string]string{}

	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		fields["userId"] = "is required"
	}
	if len(in.Items) == 0 {
		fields["items"] = "at least one item is required"
	}
	if len(in.Items) > MaxItems {
		fields["items"] = fmt.Sprintf("at most %d items are allowed", MaxItems)
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.SKU) == "" && strings.TrimSpace(it.ProductID) == "" {
			fields[fmt.Sprintf("items[%d].sku", i)] = "sku or productId is required"
		}
		if it.Quantity < 1 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be at least 1"
		}
		if it.UnitPrice < 0 {
			fields[fmt.Sprintf("items[%d].price", i)] = "must not be negative"
		}
	}
	if in.TotalAmount <= 0 {
		fields["totalAmount"] = "must be greater than 0"
	}

	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}
	if !isCurrencyCode(in.Currency) {
		fields["currency"] = "must be a 3-letter ISO 4217 code"
	}

	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	switch {
	case in.PaymentMethod == "":
		fields["paymentMethod"] = "is required"
	case !IsRecognizedMethod(in.PaymentMethod):
		fields["paymentMethod"] = fmt.Sprintf("unrecognized payment method %q", in.PaymentMethod)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func isCurrencyCode(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
