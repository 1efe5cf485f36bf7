package payments

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
)

const testWebhookSecret = "whsec_test"

type stubIntentAPI struct {
	newFn func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFn func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (s stubIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.newFn(params)
}

func (s stubIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return s.getFn(id, params)
}

type stubCustomers struct {
	findFn   func(context.Context, string) (string, error)
	createFn func(context.Context, string, string) (string, error)
}

func (s stubCustomers) FindByEmail(ctx context.Context, email string) (string, error) {
	if s.findFn == nil {
		return "", nil
	}
	return s.findFn(ctx, email)
}

func (s stubCustomers) Create(ctx context.Context, email, name string) (string, error) {
	if s.createFn == nil {
		return "cus_new", nil
	}
	return s.createFn(ctx, email, name)
}

func newTestGateway(t *testing.T, intents stripeIntentAPI, customers customerDirectory) *StripeGateway {
	t.Helper()
	if intents == nil {
		intents = stubIntentAPI{}
	}
	if customers == nil {
		customers = stubCustomers{}
	}
	gw, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: testWebhookSecret,
		intents:       intents,
		customers:     customers,
	})
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}
	return gw
}

func TestCreateIntentSetsMetadataAndDeterministicKey(t *testing.T) {
	var captured *stripe.PaymentIntentParams
	gw := newTestGateway(t, stubIntentAPI{
		newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			captured = params
			return &stripe.PaymentIntent{
				ID:           "pi_123",
				ClientSecret: "pi_123_secret",
				Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
				Amount:       25340,
				Currency:     "usd",
				Metadata:     params.Metadata,
			}, nil
		},
	}, stubCustomers{findFn: func(context.Context, string) (string, error) { return "cus_existing", nil }})

	intent, err := gw.CreateIntent(context.Background(), IntentRequest{
		OrderID:     "01J0000000000000000000000A",
		OrderNumber: "ORD-20250101-000001",
		Amount:      25340,
		Currency:    "USD",
		Email:       "Buyer@Example.com",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret" || intent.Status != IntentStatusPending {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if captured.Metadata[MetadataOrderID] != "01J0000000000000000000000A" || captured.Metadata[MetadataOrderNumber] != "ORD-20250101-000001" {
		t.Fatalf("unexpected metadata %#v", captured.Metadata)
	}
	if got := stripe.StringValue(captured.Currency); got != "usd" {
		t.Fatalf("expected lower-case currency, got %q", got)
	}
	if got := stripe.StringValue(captured.Customer); got != "cus_existing" {
		t.Fatalf("expected existing customer reuse, got %q", got)
	}
	if got := stripe.StringValue(captured.IdempotencyKey); got != IntentIdempotencyKey("01J0000000000000000000000A") {
		t.Fatalf("expected deterministic idempotency key, got %q", got)
	}
}

func TestIntentIdempotencyKeyIsStablePerOrder(t *testing.T) {
	a := IntentIdempotencyKey("order-1")
	if a != IntentIdempotencyKey(" order-1 ") {
		t.Fatalf("expected trimmed ids to share a key")
	}
	if a == IntentIdempotencyKey("order-2") {
		t.Fatalf("expected distinct orders to get distinct keys")
	}
}

func TestCreateIntentClassifiesProviderErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		sentinel  error
	}{
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, true, nil},
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, true, nil},
		{"network", errors.New("dial tcp: connection refused"), true, nil},
		{"bad request", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest}, false, ErrInvalidRequest},
		{"missing", &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}, false, ErrIntentNotFound},
	}
	for _, tc := range tests {
		gw := newTestGateway(t, stubIntentAPI{
			newFn: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) { return nil, tc.err },
		}, nil)
		_, err := gw.CreateIntent(context.Background(), IntentRequest{OrderID: "o1", Amount: 100, Currency: "usd"})
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if got := retry.IsTransient(err); got != tc.transient {
			t.Fatalf("%s: expected transient=%v, got %v (%v)", tc.name, tc.transient, got, err)
		}
		if tc.sentinel != nil && !errors.Is(err, tc.sentinel) {
			t.Fatalf("%s: expected %v in chain, got %v", tc.name, tc.sentinel, err)
		}
	}
}

func TestCreateIntentRejectsInvalidRequest(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	if _, err := gw.CreateIntent(context.Background(), IntentRequest{OrderID: "o1", Amount: 0, Currency: "usd"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for zero amount, got %v", err)
	}
}

func TestLookupIntentMapsFailedStatus(t *testing.T) {
	gw := newTestGateway(t, stubIntentAPI{
		getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{
				ID:               id,
				Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
				LastPaymentError: &stripe.Error{Code: "card_declined", Msg: "Your card was declined."},
			}, nil
		},
	}, nil)
	intent, err := gw.LookupIntent(context.Background(), "pi_9")
	if err != nil {
		t.Fatalf("LookupIntent: %v", err)
	}
	if intent.Status != IntentStatusFailed || !strings.Contains(intent.FailureReason, "card_declined") {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func signedPayload(t *testing.T, body string, secret string, at time.Time) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header, signed.Payload
}

func TestVerifyEventParsesPaymentIntentSucceeded(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	body := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","created":1735689600,
		"data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{"order_id":"01J0000000000000000000000A"}}}}`
	header, payload := signedPayload(t, body, testWebhookSecret, time.Now())

	event, err := gw.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if event.ID != "evt_1" || event.Type != domain.PaymentEventIntentSucceeded {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.IntentID != "pi_1" || event.OrderRef != "01J0000000000000000000000A" {
		t.Fatalf("unexpected references %+v", event)
	}
	if !event.Created.Equal(time.Unix(1735689600, 0)) {
		t.Fatalf("unexpected created %v", event.Created)
	}
}

func TestVerifyEventParsesCheckoutAndFailure(t *testing.T) {
	gw := newTestGateway(t, nil, nil)

	checkout := `{"id":"evt_2","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_1","object":"checkout.session","payment_intent":"pi_2","client_reference_id":"ORD-20250101-000002"}}}`
	header, payload := signedPayload(t, checkout, testWebhookSecret, time.Now())
	event, err := gw.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent checkout: %v", err)
	}
	if event.IntentID != "pi_2" || event.OrderRef != "ORD-20250101-000002" {
		t.Fatalf("unexpected checkout event %+v", event)
	}

	failed := `{"id":"evt_3","object":"event","type":"payment_intent.payment_failed",
		"data":{"object":{"id":"pi_3","object":"payment_intent","last_payment_error":{"code":"card_declined","message":"declined"}}}}`
	header, payload = signedPayload(t, failed, testWebhookSecret, time.Now())
	event, err = gw.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent failed: %v", err)
	}
	if event.FailureReason != "card_declined: declined" || event.OrderRef != "" {
		t.Fatalf("unexpected failed event %+v", event)
	}
}

func TestVerifyEventRejectsBadInput(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	body := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`

	header, payload := signedPayload(t, body, "whsec_other", time.Now())
	if _, err := gw.VerifyEvent(payload, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for wrong secret, got %v", err)
	}

	header, payload = signedPayload(t, body, testWebhookSecret, time.Now().Add(-time.Hour))
	if _, err := gw.VerifyEvent(payload, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for stale timestamp, got %v", err)
	}

	if _, err := gw.VerifyEvent(payload, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing header, got %v", err)
	}

	header, payload = signedPayload(t, `{"id":`, testWebhookSecret, time.Now())
	if _, err := gw.VerifyEvent(payload, header); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent for truncated body, got %v", err)
	}
}

func TestVerifyEventPassesThroughUnsupportedTypes(t *testing.T) {
	gw := newTestGateway(t, nil, nil)
	header, payload := signedPayload(t, `{"id":"evt_9","object":"event","type":"customer.created","data":{"object":{}}}`, testWebhookSecret, time.Now())
	event, err := gw.VerifyEvent(payload, header)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if event.Type.Supported() || event.IntentID != "" {
		t.Fatalf("expected unsupported event without references, got %+v", event)
	}
}
