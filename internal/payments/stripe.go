package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/customer"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// customerDirectory finds or creates the provider customer for an email.
type customerDirectory interface {
	FindByEmail(ctx context.Context, email string) (string, error)
	Create(ctx context.Context, email, name string) (string, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	// Tolerance bounds the accepted age of a webhook signature timestamp.
	Tolerance time.Duration
	Backends  *stripe.Backends
	Logger    StripeLogger

	intents   stripeIntentAPI
	customers customerDirectory
}

// StripeGateway implements Gateway on the Stripe API.
type StripeGateway struct {
	intents       stripeIntentAPI
	customers     customerDirectory
	webhookSecret string
	tolerance     time.Duration
	logger        StripeLogger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe backed Gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents, customers := cfg.intents, cfg.customers
	if intents == nil || customers == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		if intents == nil {
			intents = sc.PaymentIntents
		}
		if customers == nil {
			customers = stripeCustomers{api: sc.Customers}
		}
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{
		intents:       intents,
		customers:     customers,
		webhookSecret: secret,
		tolerance:     tolerance,
		logger:        logger,
	}, nil
}

// CreateIntent creates a PaymentIntent tagged with the order id and number. The customer is
// reused by email when one exists.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return Intent{}, retry.Permanent(fmt.Errorf("%w: order id is required", ErrInvalidRequest))
	}
	if req.Amount <= 0 {
		return Intent{}, retry.Permanent(fmt.Errorf("%w: amount must be positive", ErrInvalidRequest))
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Intent{}, retry.Permanent(fmt.Errorf("%w: currency is required", ErrInvalidRequest))
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount.Int64()),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, orderID)
	if number := strings.TrimSpace(req.OrderNumber); number != "" {
		params.AddMetadata(MetadataOrderNumber, number)
		params.Description = stripe.String("Order " + number)
	}

	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		params.ReceiptEmail = stripe.String(email)
		customerID, err := g.ensureCustomer(ctx, email, req.Name)
		if err != nil {
			return Intent{}, err
		}
		if customerID != "" {
			params.Customer = stripe.String(customerID)
		}
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = IntentIdempotencyKey(orderID)
	}
	params.SetIdempotencyKey(key)

	pi, err := g.intents.New(params)
	if err != nil {
		return Intent{}, classifyStripeError("create payment intent", err)
	}
	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": pi.ID,
		"orderId":       orderID,
		"status":        string(pi.Status),
	})
	return toIntent(pi), nil
}

// LookupIntent fetches the current provider state of an intent.
func (g *StripeGateway) LookupIntent(ctx context.Context, id string) (Intent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Intent{}, retry.Permanent(fmt.Errorf("%w: intent id is required", ErrInvalidRequest))
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.intents.Get(id, params)
	if err != nil {
		return Intent{}, classifyStripeError("get payment intent", err)
	}
	return toIntent(pi), nil
}

// VerifyEvent checks the Stripe-Signature header and reduces the event to a PaymentEvent.
// Event types the core does not handle are returned with their raw type and no references.
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return domain.PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return parseEvent(event)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrTooOld)
}

func parseEvent(event stripe.Event) (domain.PaymentEvent, error) {
	if strings.TrimSpace(event.ID) == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: event id missing", ErrMalformedEvent)
	}
	out := domain.PaymentEvent{
		ID:   event.ID,
		Type: domain.PaymentEventType(event.Type),
	}
	if event.Created > 0 {
		out.Created = time.Unix(event.Created, 0).UTC()
	}
	if !out.Type.Supported() {
		return out, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.PaymentEvent{}, fmt.Errorf("%w: event data missing", ErrMalformedEvent)
	}

	switch out.Type {
	case domain.PaymentEventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return domain.PaymentEvent{}, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
		}
		if session.PaymentIntent != nil {
			out.IntentID = session.PaymentIntent.ID
		}
		out.OrderRef = strings.TrimSpace(session.Metadata[MetadataOrderID])
		if out.OrderRef == "" {
			out.OrderRef = strings.TrimSpace(session.ClientReferenceID)
		}
	default:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return domain.PaymentEvent{}, fmt.Errorf("%w: payment intent: %v", ErrMalformedEvent, err)
		}
		out.IntentID = pi.ID
		out.OrderRef = strings.TrimSpace(pi.Metadata[MetadataOrderID])
		if pi.LastPaymentError != nil {
			out.FailureReason = failureReason(pi.LastPaymentError)
		}
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) Intent {
	if pi == nil {
		return Intent{}
	}
	intent := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       domain.Money(pi.Amount),
		Currency:     string(pi.Currency),
		OrderID:      pi.Metadata[MetadataOrderID],
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		intent.Status = IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		intent.Status = IntentStatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		intent.Status = IntentStatusPending
		if pi.LastPaymentError != nil {
			intent.Status = IntentStatusFailed
		}
	default:
		intent.Status = IntentStatusPending
	}
	if pi.LastPaymentError != nil {
		intent.FailureReason = failureReason(pi.LastPaymentError)
	}
	return intent
}

func failureReason(se *stripe.Error) string {
	parts := make([]string, 0, 2)
	if code := strings.TrimSpace(string(se.Code)); code != "" {
		parts = append(parts, code)
	}
	if msg := strings.TrimSpace(se.Msg); msg != "" {
		parts = append(parts, msg)
	}
	return strings.Join(parts, ": ")
}

// classifyStripeError marks provider outages and rate limits transient and everything else
// permanent.
func classifyStripeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return retry.Transient(fmt.Errorf("stripe: %s: %w", op, err))
	}
	switch {
	case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
		return retry.Permanent(fmt.Errorf("stripe: %s: %w: %w", op, ErrIntentNotFound, err))
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.Type == stripe.ErrorTypeAPI:
		return retry.Transient(fmt.Errorf("stripe: %s: %w", op, err))
	default:
		return retry.Permanent(fmt.Errorf("stripe: %s: %w: %w", op, ErrInvalidRequest, err))
	}
}

func (g *StripeGateway) ensureCustomer(ctx context.Context, email, name string) (string, error) {
	id, err := g.customers.FindByEmail(ctx, email)
	if err != nil {
		return "", classifyStripeError("find customer", err)
	}
	if id != "" {
		return id, nil
	}
	id, err = g.customers.Create(ctx, email, strings.TrimSpace(name))
	if err != nil {
		return "", classifyStripeError("create customer", err)
	}
	g.logger(ctx, "payments.stripe.customer.created", map[string]any{"customerId": id})
	return id, nil
}

type stripeCustomers struct {
	api *customer.Client
}

func (c stripeCustomers) FindByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	iter := c.api.List(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	return "", iter.Err()
}

func (c stripeCustomers) Create(ctx context.Context, email, name string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.Context = ctx
	params.SetIdempotencyKey(uuid.NewSHA1(intentKeyNamespace, []byte("customer:"+email)).String())
	cust, err := c.api.New(params)
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}
