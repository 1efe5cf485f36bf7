package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/payments"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories/sqlite"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

func newWebhookRouter(processor services.WebhookProcessor) http.Handler {
	h := NewWebhookHandlers(processor)
	r := chi.NewRouter()
	r.Route("/webhooks", h.Routes)
	return r
}

func TestWebhookHandlersAcknowledgesProcessedEvents(t *testing.T) {
	var gotPayload []byte
	var gotSignature string
	processor := &stubWebhookProcessor{
		processFn: func(ctx context.Context, payload []byte, signature string) (services.WebhookResult, error) {
			gotPayload = payload
			gotSignature = signature
			return services.WebhookResult{Outcome: services.OutcomeDuplicate, EventID: "evt_1"}, nil
		},
	}
	router := newWebhookRouter(processor)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if string(gotPayload) != `{"id":"evt_1"}` || gotSignature != "t=1,v1=abc" {
		t.Fatalf("expected raw payload and signature forwarded, got %q %q", gotPayload, gotSignature)
	}
	var body webhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Received || body.Outcome != string(services.OutcomeDuplicate) {
		t.Fatalf("unexpected response %+v", body)
	}
}

func TestWebhookHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"bad signature", fmt.Errorf("%w: no valid signature", payments.ErrInvalidSignature), http.StatusBadRequest},
		{"malformed", fmt.Errorf("%w: event id missing", payments.ErrMalformedEvent), http.StatusBadRequest},
		{"transient", retry.Transient(errors.New("database is locked")), http.StatusServiceUnavailable},
		{"exhausted", &retry.RetryExhaustedError{Attempts: 3, Err: errors.New("down")}, http.StatusServiceUnavailable},
		{"permanent", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		processor := &stubWebhookProcessor{
			processFn: func(context.Context, []byte, string) (services.WebhookResult, error) {
				return services.WebhookResult{}, tc.err
			},
		}
		router := newWebhookRouter(processor)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rr.Code)
		}
	}
}

func TestWebhookHandlersRejectsOversizedBody(t *testing.T) {
	called := false
	processor := &stubWebhookProcessor{
		processFn: func(context.Context, []byte, string) (services.WebhookResult, error) {
			called = true
			return services.WebhookResult{}, nil
		},
	}
	router := newWebhookRouter(processor)

	payload := bytes.Repeat([]byte("a"), maxWebhookBodySize+1)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload)))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if called {
		t.Fatalf("expected processor not called")
	}
}

func TestWebhookHandlersForgedSignatureLeavesOrderUntouched(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "webhooks.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:              "01JPA8Z0000000000000000001",
		Number:          "ORD-20250314-000001",
		UserID:          "user-1",
		Contact:         domain.Contact{Email: "ada@example.com", Name: "Ada"},
		ShippingAddress: domain.Address{Line1: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN"},
		Items:           []domain.OrderItem{domain.NewOrderItem("prod-a", "Ring", 1, 5000)},
		Currency:        "usd",
		PaymentMethod:   domain.PaymentMethodCard,
		Totals:          domain.Totals{Subtotal: 5000, Total: 5000},
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		StatusHistory: []domain.StatusHistoryEntry{{
			Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusPending, Note: "order placed", At: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Orders().Create(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	before, err := store.Orders().FindByKey(ctx, domain.OrderIDKey(order.ID))
	if err != nil {
		t.Fatalf("reload seeded order: %v", err)
	}

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{APIKey: "sk_test_123", WebhookSecret: "whsec_real"})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}
	processor, err := services.NewWebhookProcessor(services.WebhookProcessorDeps{Orders: store.Orders(), Gateway: gateway})
	if err != nil {
		t.Fatalf("NewWebhookProcessor: %v", err)
	}
	router := newWebhookRouter(processor)

	body := `{"id":"evt_forged","object":"event","type":"payment_intent.succeeded",
		"data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{"order_id":"` + order.ID + `"}}}}`
	deliver := func(secret string) int {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(body), Secret: secret, Timestamp: time.Now()})
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
		req.Header.Set("Stripe-Signature", signed.Header)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := deliver("whsec_attacker"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for forged signature, got %d", code)
	}
	processor.Wait()
	after, err := store.Orders().FindByKey(ctx, domain.OrderIDKey(order.ID))
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if after.State() != before.State() || after.Version != before.Version || len(after.StatusHistory) != len(before.StatusHistory) {
		t.Fatalf("forged delivery changed the order: before=%+v after=%+v", before.State(), after.State())
	}

	// The same body with a genuine signature settles the order.
	if code := deliver("whsec_real"); code != http.StatusOK {
		t.Fatalf("expected 200 for genuine signature, got %d", code)
	}
	paid, err := store.Orders().FindByKey(ctx, domain.OrderIDKey(order.ID))
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if paid.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid after genuine delivery, got %s", paid.PaymentStatus)
	}
}
