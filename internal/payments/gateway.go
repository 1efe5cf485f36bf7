// Package payments adapts the payment provider: intent creation, intent lookup and webhook
// signature verification.
package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
)

var (
	// ErrInvalidSignature indicates the webhook signature did not verify against the shared secret.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedEvent indicates the webhook body verified but could not be parsed.
	ErrMalformedEvent = errors.New("payments: malformed webhook event")
	// ErrIntentNotFound indicates the provider does not know the intent.
	ErrIntentNotFound = errors.New("payments: intent not found")
	// ErrInvalidRequest indicates the provider rejected the request parameters.
	ErrInvalidRequest = errors.New("payments: invalid request")
)

// Metadata keys written on every intent.
const (
	MetadataOrderID     = "order_id"
	MetadataOrderNumber = "order_number"
)

// IntentStatus is the coarse provider-side status of an intent.
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusFailed    IntentStatus = "payment_failed"
	IntentStatusCanceled  IntentStatus = "canceled"
)

// IntentRequest carries the parameters for a new intent.
type IntentRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         domain.Money
	Currency       string
	Email          string
	Name           string
	IdempotencyKey string
}

// Intent is the provider intent reduced to the fields the core uses.
type Intent struct {
	ID            string
	ClientSecret  string
	Status        IntentStatus
	Amount        domain.Money
	Currency      string
	OrderID       string
	FailureReason string
}

// Gateway is the provider boundary used by services.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	LookupIntent(ctx context.Context, id string) (Intent, error)
	VerifyEvent(payload []byte, signature string) (domain.PaymentEvent, error)
}

var intentKeyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("payments/intents"))

// IntentIdempotencyKey derives a stable provider idempotency key for an order, so retried
// creations return the same intent.
func IntentIdempotencyKey(orderID string) string {
	return uuid.NewSHA1(intentKeyNamespace, []byte(strings.TrimSpace(orderID))).String()
}
