package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws/dynamotest"
)

func newTestService(t *testing.T) (*dynamotest.Fake, *Service) {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("payment_intents", "payment_id", "")
	svc := NewService(NewStore(fake, "payment_intents"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return fake, svc
}

// persist commits a freshly created intent the way an order creation would.
func persist(t *testing.T, fake *dynamotest.Fake, svc *Service, orderID string) PaymentIntent {
	t.Helper()
	pi := svc.CreateIntent(orderID, 1000, "INR")
	op, err := svc.PutTx(pi)
	if err != nil {
		t.Fatalf("PutTx: %v", err)
	}
	if _, err := fake.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{op},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return pi
}

func TestRequiresIntent(t *testing.T) {
	for method, want := range map[string]bool{
		"credit_card":      true,
		"bank_transfer":    true,
		"upi":              true,
		"cash_on_delivery": false,
		"":                 false,
	} {
		if got := RequiresIntent(method); got != want {
			t.Errorf("RequiresIntent(%q) = %v, want %v", method, got, want)
		}
	}
}

func TestCreateIntent_Persisted(t *testing.T) {
	fake, svc := newTestService(t)
	pi := persist(t, fake, svc, "order-1")

	got, err := svc.Get(context.Background(), pi.PaymentID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OrderID != "order-1" || got.Amount != 1000 || got.Currency != "INR" || got.Status != StatusCreated {
		t.Fatalf("unexpected intent: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	_, svc := newTestService(t)
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelIntent_Idempotent(t *testing.T) {
	fake, svc := newTestService(t)
	pi := persist(t, fake, svc, "order-1")

	got, err := svc.CancelIntent(context.Background(), pi.PaymentID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	before := fake.Item("payment_intents", pi.PaymentID)

	svc.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	again, err := svc.CancelIntent(context.Background(), pi.PaymentID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", again.Status)
	}
	after := fake.Item("payment_intents", pi.PaymentID)
	if before["updated_at"].(*types.AttributeValueMemberS).Value != after["updated_at"].(*types.AttributeValueMemberS).Value {
		t.Fatalf("idempotent cancel rewrote the intent")
	}
}

func TestCancelIntent_NotFound(t *testing.T) {
	fake, svc := newTestService(t)
	if _, err := svc.CancelIntent(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := len(fake.Items("payment_intents")); n != 0 {
		t.Fatalf("cancel created an intent")
	}
}

func TestCancelIntent_SettledIsMismatch(t *testing.T) {
	fake, svc := newTestService(t)
	pi := persist(t, fake, svc, "order-1")
	if _, err := svc.Settle(context.Background(), pi.PaymentID, StatusSucceeded, ""); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := svc.CancelIntent(context.Background(), pi.PaymentID); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
}

func TestCancelIntent_DeclinedIsVoided(t *testing.T) {
	fake, svc := newTestService(t)
	pi := persist(t, fake, svc, "order-1")
	ctx := context.Background()
	if _, err := svc.Settle(ctx, pi.PaymentID, StatusFailed, "card declined"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	got, err := svc.CancelIntent(ctx, pi.PaymentID)
	if err != nil {
		t.Fatalf("cancel declined intent: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestCancelTx_VoidsDeclinedButNotSucceeded(t *testing.T) {
	fake, svc := newTestService(t)
	ctx := context.Background()
	declined := persist(t, fake, svc, "order-1")
	captured := persist(t, fake, svc, "order-2")
	if _, err := svc.Settle(ctx, declined.PaymentID, StatusFailed, "card declined"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := svc.Settle(ctx, captured.PaymentID, StatusSucceeded, ""); err != nil {
		t.Fatalf("settle: %v", err)
	}

	apply := func(id string) error {
		op, err := svc.CancelTx(id, time.Now().UTC())
		if err != nil {
			t.Fatalf("CancelTx: %v", err)
		}
		_, err = fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{op}})
		return err
	}
	if err := apply(declined.PaymentID); err != nil {
		t.Fatalf("declined intent should be voidable: %v", err)
	}
	if got, _ := svc.Get(ctx, declined.PaymentID); got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	var tce *types.TransactionCanceledException
	if err := apply(captured.PaymentID); !errors.As(err, &tce) {
		t.Fatalf("succeeded intent must fail the condition, got %v", err)
	}
	if got, _ := svc.Get(ctx, captured.PaymentID); got.Status != StatusSucceeded {
		t.Fatalf("succeeded intent changed: %s", got.Status)
	}
}

func TestSettle(t *testing.T) {
	fake, svc := newTestService(t)
	ok := persist(t, fake, svc, "order-ok")
	bad := persist(t, fake, svc, "order-bad")
	ctx := context.Background()

	got, err := svc.Settle(ctx, ok.PaymentID, StatusSucceeded, "ignored")
	if err != nil || got.Status != StatusSucceeded || got.FailureReason != "" {
		t.Fatalf("settle succeeded: %+v %v", got, err)
	}
	got, err = svc.Settle(ctx, bad.PaymentID, StatusFailed, "insufficient funds")
	if err != nil || got.Status != StatusFailed || got.FailureReason != "insufficient funds" {
		t.Fatalf("settle failed: %+v %v", got, err)
	}

	// same outcome again is a no-op
	if _, err := svc.Settle(ctx, ok.PaymentID, StatusSucceeded, ""); err != nil {
		t.Fatalf("repeat settle: %v", err)
	}
	// a different outcome is rejected
	if _, err := svc.Settle(ctx, ok.PaymentID, StatusFailed, "late"); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	if _, err := svc.Settle(ctx, ok.PaymentID, "refunded", ""); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
	if _, err := svc.Settle(ctx, "missing", StatusSucceeded, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
