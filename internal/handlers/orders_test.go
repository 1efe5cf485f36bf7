package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/idempotency"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

const sampleOrderBody = `{
	"contact": {"email": "Ana@Example.com", "name": "Ana"},
	"shippingAddress": {"line1": "1 Main St", "city": "Lisbon", "postalCode": "1000-001", "country": "PT"},
	"items": [
		{"productId": "prod-a", "name": "A", "quantity": 2, "unitPrice": 50},
		{"productId": "prod-b", "name": "B", "quantity": 1, "unitPrice": "30.00"}
	],
	"paymentMethod": "card",
	"currency": "usd"
}`

func sampleOrder() domain.Order {
	at := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:              "01JPA8Z0000000000000000001",
		Number:          "ORD-20250314-000001",
		UserID:          "user-1",
		Contact:         domain.Contact{Email: "ana@example.com", Name: "Ana", Phone: "+351000"},
		ShippingAddress: domain.Address{Line1: "1 Main St", City: "Lisbon", Country: "PT"},
		Items:           []domain.OrderItem{domain.NewOrderItem("prod-a", "A", 2, 5000)},
		Currency:        "usd",
		PaymentMethod:   domain.PaymentMethodCard,
		Totals:          domain.Totals{Subtotal: 10000, Shipping: 10000, Tax: 3600, Total: 23600},
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		StatusHistory: []domain.StatusHistoryEntry{
			{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusPending, Note: "order placed", At: at},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func newOrderRouter(svc services.OrderService, idem func(http.Handler) http.Handler) http.Handler {
	h := NewOrderHandlers(svc, idem)
	r := chi.NewRouter()
	r.Route("/orders", h.Routes)
	return r
}

func TestOrderHandlersCreate(t *testing.T) {
	var got services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
			got = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(sampleOrderBody))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["orderNumber"] != "ORD-20250314-000001" || body["total"] != "236.00" {
		t.Fatalf("unexpected response %v", body)
	}
	if body["status"] != "pending" || body["paymentStatus"] != "pending" {
		t.Fatalf("unexpected state in response %v", body)
	}
	if len(got.Items) != 2 || got.Items[0].UnitPrice != "50" || got.Items[1].UnitPrice != "30.00" {
		t.Fatalf("expected literal unit prices passed through, got %+v", got.Items)
	}
	if got.PaymentMethod != domain.PaymentMethodCard || got.Contact.Email != "Ana@Example.com" {
		t.Fatalf("unexpected command %+v", got)
	}
}

func TestOrderHandlersCreateValidationFields(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
			return domain.Order{}, &services.ValidationError{
				Sentinel: services.ErrOrderInvalidInput,
				Fields:   map[string]string{"contact.email": "must be a valid email address"},
			}
		},
	}
	router := newOrderRouter(svc, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(sampleOrderBody)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "invalid_request" || body.Fields["contact.email"] == "" {
		t.Fatalf("expected field errors, got %+v", body)
	}
}

func TestOrderHandlersCreateRejectsMalformedBody(t *testing.T) {
	svc := &stubOrderService{}
	router := newOrderRouter(svc, nil)

	cases := map[string]string{
		"unknown field": `{"contact": {}, "coupon": "FREE"}`,
		"not json":      `contact=ana`,
		"empty":         ``,
		"bad amount":    `{"discount": true}`,
	}
	for name, payload := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(payload)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rr.Code)
		}
	}
	if svc.creates != 0 {
		t.Fatalf("expected service not called, got %d calls", svc.creates)
	}
}

func TestOrderHandlersCreateStoreFailureIsRetryable(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
			return domain.Order{}, repositories.NewError(repositories.CodeUnavailable, "orders.create", errors.New("database is locked"))
		},
	}
	router := newOrderRouter(svc, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(sampleOrderBody)))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "database is locked") {
		t.Fatalf("expected store details hidden, got %s", rr.Body.String())
	}
}

func TestOrderHandlersCreateReplaysIdempotentRequest(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc, idempotency.Middleware(idempotency.NewMemoryStore()))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(sampleOrderBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(idempotency.DefaultHeader, "checkout-123")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both 201, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected replayed response")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical bodies")
	}
	if svc.creates != 1 {
		t.Fatalf("expected a single order created, got %d", svc.creates)
	}

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(sampleOrderBody)))
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key, got %d", missing.Code)
	}
}

func TestOrderHandlersGet(t *testing.T) {
	var gotKey domain.OrderKey
	svc := &stubOrderService{
		getFn: func(ctx context.Context, key domain.OrderKey) (domain.Order, error) {
			gotKey = key
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord-20250314-000001", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if gotKey.Kind != domain.KeyKindNumber || gotKey.Value != "ORD-20250314-000001" {
		t.Fatalf("expected number key, got %+v", gotKey)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	totals, _ := body["totals"].(map[string]any)
	if totals["total"] != "236.00" || totals["tax"] != "36.00" {
		t.Fatalf("unexpected totals %v", totals)
	}
	for _, field := range []string{"contact", "shippingAddress", "userId"} {
		if _, ok := body[field]; ok {
			t.Fatalf("expected %s omitted from order lookup", field)
		}
	}
	if strings.Contains(rr.Body.String(), "ana@example.com") {
		t.Fatalf("expected email omitted, got %s", rr.Body.String())
	}
}

func TestOrderHandlersGetErrors(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil)

	bad := httptest.NewRecorder()
	router.ServeHTTP(bad, httptest.NewRequest(http.MethodGet, "/orders/ORD-1", nil))
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed key, got %d", bad.Code)
	}

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/orders/01JPA8Z0000000000000000009", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}
