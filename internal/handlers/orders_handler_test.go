package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws/dynamotest"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/orders"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/payments"
)

type testAPI struct {
	fake   *dynamotest.Fake
	router *gin.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := dynamotest.New()
	fake.CreateTable("orders", "order_id", "")
	fake.CreateTable("order_items", "order_id", "line")
	fake.CreateTable("payment_intents", "payment_id", "")
	fake.CreateTable("order_numbers", "order_number", "")
	fake.CreateTable("idempotency", "idempotency_key", "")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	paySvc := payments.NewService(payments.NewStore(fake, "payment_intents"), logger)
	idem := idempotency.NewStore(fake, "idempotency", 48*time.Hour)
	orderSvc := orders.NewService(orders.Deps{
		DynamoDB:    fake,
		Orders:      orders.NewStore(fake, "orders", "order_numbers"),
		Items:       orders.NewItemStore(fake, "order_items"),
		Payments:    paySvc,
		Idempotency: idem,
		Logger:      logger,
	})

	r := gin.New()
	RegisterOrdersRoutes(r, HandlerConfig{
		Orders:      orderSvc,
		Payments:    paySvc,
		Idempotency: idem,
	})
	return &testAPI{fake: fake, router: r}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Error         string            `json:"error"`
	Message       string            `json:"message"`
	CurrentStatus string            `json:"currentStatus"`
	Fields        map[string]string `json:"fields"`
}

const upiOrder = `{"userId":"user-1","items":[{"sku":"X","qty":2,"price":500}],"totalAmount":1000,"currency":"INR","paymentMethod":"upi"}`
const codOrder = `{"userId":"user-1","items":[{"sku":"X","quantity":1,"price":250}],"totalAmount":250,"paymentMethod":"cash_on_delivery"}`

func TestCreateOrder_UPI(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/orders", upiOrder)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	o := decode[orders.Order](t, w)
	if o.Status != orders.StatusPaymentPending || o.PaymentID == nil {
		t.Fatalf("unexpected order: %+v", o)
	}
	if loc := w.Header().Get("Location"); loc != "/orders/"+o.OrderID {
		t.Fatalf("location = %q", loc)
	}
	if len(o.Items) != 1 || o.Items[0].Quantity != 2 || o.Items[0].UnitPrice != 500 {
		t.Fatalf("unexpected items: %+v", o.Items)
	}

	w = api.do(t, http.MethodGet, "/payments/"+*o.PaymentID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("payment status = %d", w.Code)
	}
	pi := decode[payments.PaymentIntent](t, w)
	if pi.Amount != 1000 || pi.Currency != "INR" || pi.Status != payments.StatusCreated || pi.OrderID != o.OrderID {
		t.Fatalf("unexpected intent: %+v", pi)
	}
}

func TestCreateOrder_CODHasNoIntent(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/orders", codOrder)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	o := decode[orders.Order](t, w)
	if o.Status != orders.StatusCreated || o.PaymentID != nil || o.Currency != "INR" {
		t.Fatalf("unexpected order: %+v", o)
	}
	if n := len(api.fake.Items("payment_intents")); n != 0 {
		t.Fatalf("expected no intents, got %d", n)
	}
}

func TestCreateOrder_LowerCaseCurrency(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/orders", `{"userId":"u1","items":[{"sku":"X","quantity":1,"price":10}],"totalAmount":10,"currency":"usd","paymentMethod":"upi"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if o := decode[orders.Order](t, w); o.Currency != "USD" {
		t.Fatalf("currency = %q, want USD", o.Currency)
	}
}

func TestCreateOrder_ValidationFailure(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/orders", `{"userId":"u","items":[],"totalAmount":10,"paymentMethod":"upi"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[errorBody](t, w)
	if body.Error != "validation_failed" || body.Fields["items"] == "" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if n := len(api.fake.Items("orders")); n != 0 {
		t.Fatalf("invalid request persisted %d orders", n)
	}
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	api := newTestAPI(t)

	first := api.do(t, http.MethodPost, "/orders", upiOrder, IdempotencyKeyHeader, "key-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	second := api.do(t, http.MethodPost, "/orders", upiOrder, IdempotencyKeyHeader, "key-1")
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d body=%s", second.Code, second.Body.String())
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if n := len(api.fake.Items("orders")); n != 1 {
		t.Fatalf("expected one order, got %d", n)
	}
}

func TestCreateOrder_IdempotentInProgress(t *testing.T) {
	api := newTestAPI(t)
	api.fake.FailNext("UpdateItem", errors.New("throttled"))

	first := api.do(t, http.MethodPost, "/orders", codOrder, IdempotencyKeyHeader, "key-2")
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}
	second := api.do(t, http.MethodPost, "/orders", codOrder, IdempotencyKeyHeader, "key-2")
	if second.Code != http.StatusAccepted {
		t.Fatalf("expected 202 while key is in progress, got %d", second.Code)
	}
}

func TestGetOrder(t *testing.T) {
	api := newTestAPI(t)
	created := decode[orders.Order](t, api.do(t, http.MethodPost, "/orders", upiOrder))

	w := api.do(t, http.MethodGet, "/orders/"+created.OrderID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[orders.Order](t, w)
	if got.OrderNumber != created.OrderNumber || len(got.Items) != 1 {
		t.Fatalf("unexpected order: %+v", got)
	}

	w = api.do(t, http.MethodGet, "/orders/missing", "")
	if w.Code != http.StatusNotFound || decode[errorBody](t, w).Error != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", w.Code, w.Body.String())
	}
}

func TestListOrders(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/orders", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"orders":[]}` {
		t.Fatalf("empty list: %d %s", w.Code, w.Body.String())
	}

	api.do(t, http.MethodPost, "/orders", upiOrder)
	api.do(t, http.MethodPost, "/orders", codOrder)
	list := decode[struct {
		Orders []orders.Order `json:"orders"`
	}](t, api.do(t, http.MethodGet, "/orders", ""))
	if len(list.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(list.Orders))
	}
}

func TestUpdateStatus(t *testing.T) {
	api := newTestAPI(t)
	o := decode[orders.Order](t, api.do(t, http.MethodPost, "/orders", codOrder))

	w := api.do(t, http.MethodPatch, "/orders/"+o.OrderID+"/status", `{"status":"shipped"}`)
	if w.Code != http.StatusOK || decode[orders.Order](t, w).Status != orders.StatusShipped {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodPatch, "/orders/"+o.OrderID+"/status", `{}`)
	if w.Code != http.StatusBadRequest || decode[errorBody](t, w).Fields["status"] == "" {
		t.Fatalf("missing status: %d %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodPatch, "/orders/"+o.OrderID+"/status", `{"status":"teleported"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: %d %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodPatch, "/orders/missing/status", `{"status":"shipped"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing order: %d", w.Code)
	}

	w = api.do(t, http.MethodPatch, "/orders/"+o.OrderID+"/status", `{"status":"cancelled"}`)
	if w.Code != http.StatusConflict || decode[errorBody](t, w).CurrentStatus != orders.StatusShipped {
		t.Fatalf("cancel via status on shipped: %d %s", w.Code, w.Body.String())
	}
}

func TestCancelOrder(t *testing.T) {
	api := newTestAPI(t)
	o := decode[orders.Order](t, api.do(t, http.MethodPost, "/orders", upiOrder))

	w := api.do(t, http.MethodPost, "/orders/"+o.OrderID+"/cancel", "")
	if w.Code != http.StatusOK || decode[orders.Order](t, w).Status != orders.StatusCancelled {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	pi := decode[payments.PaymentIntent](t, api.do(t, http.MethodGet, "/payments/"+*o.PaymentID, ""))
	if pi.Status != payments.StatusCancelled {
		t.Fatalf("intent not voided: %+v", pi)
	}

	w = api.do(t, http.MethodPost, "/orders/"+o.OrderID+"/cancel", "")
	body := decode[errorBody](t, w)
	if w.Code != http.StatusConflict || body.CurrentStatus != orders.StatusCancelled {
		t.Fatalf("second cancel: %d %s", w.Code, w.Body.String())
	}
}

func TestCancelOrder_Shipped(t *testing.T) {
	api := newTestAPI(t)
	o := decode[orders.Order](t, api.do(t, http.MethodPost, "/orders", upiOrder))
	api.do(t, http.MethodPatch, "/orders/"+o.OrderID+"/status", `{"status":"shipped"}`)

	w := api.do(t, http.MethodPost, "/orders/"+o.OrderID+"/cancel", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	body := decode[errorBody](t, w)
	if body.CurrentStatus != orders.StatusShipped || body.Message != "cannot cancel: order is already shipped" {
		t.Fatalf("unexpected body: %+v", body)
	}
	pi := decode[payments.PaymentIntent](t, api.do(t, http.MethodGet, "/payments/"+*o.PaymentID, ""))
	if pi.Status != payments.StatusCreated {
		t.Fatalf("intent changed on rejected cancel: %+v", pi)
	}
}

func TestCancelOrder_NotFound(t *testing.T) {
	api := newTestAPI(t)
	if w := api.do(t, http.MethodPost, "/orders/missing/cancel", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetPayment_NotFound(t *testing.T) {
	api := newTestAPI(t)
	if w := api.do(t, http.MethodGet, "/payments/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestInternalErrorIsOpaque(t *testing.T) {
	api := newTestAPI(t)
	api.fake.FailNext("TransactWriteItems", errors.New("dynamodb unavailable"))

	w := api.do(t, http.MethodPost, "/orders", codOrder)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if body := decode[errorBody](t, w); body.Error != "internal_error" || body.Message != "internal error" {
		t.Fatalf("unexpected body: %+v", body)
	}
}
