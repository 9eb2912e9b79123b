package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/logging"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/payments"
)

// Settler applies a settlement outcome; *payments.Service satisfies it.
type Settler interface {
	Settle(ctx context.Context, paymentID, outcome, reason string) (*payments.PaymentIntent, error)
}

// Processor handles SQS settlement notices.
type Processor struct {
	settler Settler
	logger  *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(settler Settler, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.New("settlement-worker")
	}
	return &Processor{settler: settler, logger: logger}
}

// Handle processes each message of the batch. Messages that can never be
// applied are logged and dropped; any other error fails the whole batch so
// SQS redelivers it, and after too many attempts it goes to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	p.logger.Info("received settlement batch", "records", len(ev.Records))
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("settlement failed", "message_id", rec.MessageId, "throttled", aws.IsThrottle(err), "error", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg SettlementMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		p.logger.Error("dropping malformed settlement", "message_id", rec.MessageId, "error", err)
		return nil
	}
	if msg.PaymentID == "" {
		p.logger.Error("dropping malformed settlement", "message_id", rec.MessageId, "error", "paymentId is required")
		return nil
	}

	log := p.logger.With("message_id", rec.MessageId, "payment_id", msg.PaymentID, "outcome", msg.Outcome, "corr", msg.CorrelationID)

	pi, err := p.settler.Settle(ctx, msg.PaymentID, msg.Outcome, msg.Reason)
	if errors.Is(err, payments.ErrInvalidOutcome) {
		log.Error("dropping malformed settlement", "error", err)
		return nil
	}
	if errors.Is(err, payments.ErrStatusMismatch) {
		// already settled the other way or voided by a cancel; redelivery cannot help
		status := ""
		if pi != nil {
			status = pi.Status
		}
		log.Warn("settlement ignored", "current_status", status, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("settle %s: %w", msg.PaymentID, err)
	}

	log.Info("settlement applied", "order_id", pi.OrderID)
	return nil
}
