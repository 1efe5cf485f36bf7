package services

import (
	"context"
	"time"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
)

// OrderService builds orders from checkout input and serves order lookups.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, key domain.OrderKey) (domain.Order, error)
}

// PaymentService creates provider payment intents for stored orders.
type PaymentService interface {
	CreateIntent(ctx context.Context, cmd PaymentIntentCommand) (PaymentIntentResult, error)
}

// WebhookProcessor applies verified provider events to orders exactly once.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
	Apply(ctx context.Context, event domain.PaymentEvent) (WebhookResult, error)
	// Wait blocks until background payload archiving has finished.
	Wait()
}

// AppliedEventCache is the fast-path dedupe in front of the durable ledger.
type AppliedEventCache interface {
	Seen(ctx context.Context, orderID, eventType, eventID string) (bool, error)
	Remember(ctx context.Context, orderID, eventType, eventID string) (bool, error)
}

// PayloadArchive keeps raw provider payloads.
type PayloadArchive interface {
	Store(ctx context.Context, provider, eventID string, at time.Time, payload []byte) (string, error)
}

// NotificationDispatcher sends the confirmation notifications of an order.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, order domain.Order)
	DispatchAsync(ctx context.Context, order domain.Order)
	Wait()
}

// ReconcileService settles orders whose provider webhook never arrived.
type ReconcileService interface {
	Sweep(ctx context.Context, opts SweepOptions) (SweepReport, error)
}

// SystemService exposes health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// NotificationSender delivers one notification to one recipient.
type NotificationSender interface {
	Send(ctx context.Context, kind domain.NotificationKind, recipient string, order OrderSnapshot) (SendResult, error)
}

// SendResult is the delivery receipt of a sender.
type SendResult struct {
	MessageID string
}

// CreateOrderCommand is the checkout input for a new order. Amounts are major-unit decimal strings.
type CreateOrderCommand struct {
	UserID          string
	Contact         domain.Contact
	ShippingAddress domain.Address
	Items           []CartLine
	PaymentMethod   domain.PaymentMethod
	Currency        string
	Discount        string
	Locale          string
}

// CartLine is one requested line item.
type CartLine struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice string
}

// PaymentIntentCommand requests an intent for an existing order.
type PaymentIntentCommand struct {
	OrderKey domain.OrderKey
	Amount   domain.Money
	Currency string
	Email    string
	Name     string
}

// PaymentIntentResult is returned to the client to complete payment.
type PaymentIntentResult struct {
	IntentID     string
	ClientSecret string
	OrderID      string
	Reused       bool
}

// WebhookOutcome classifies what processing an event did.
type WebhookOutcome string

const (
	OutcomeApplied        WebhookOutcome = "applied"
	OutcomeDuplicate      WebhookOutcome = "duplicate"
	OutcomeAlreadyApplied WebhookOutcome = "already_applied"
	OutcomeIgnored        WebhookOutcome = "ignored"
	OutcomeOrderNotFound  WebhookOutcome = "order_not_found"
	OutcomeStale          WebhookOutcome = "stale"
)

// WebhookResult summarises one processed event.
type WebhookResult struct {
	Outcome   WebhookOutcome
	EventID   string
	EventType domain.PaymentEventType
	OrderID   string
}

// SweepOptions bounds one reconciliation pass.
type SweepOptions struct {
	OlderThan time.Duration
	Limit     int
	DryRun    bool
}

// SweepReport lists what a reconciliation pass observed and did.
type SweepReport struct {
	Scanned int
	Applied int
	Pending int
	Errors  int
	Items   []SweepItem
}

// SweepItem is the per-order line of a SweepReport.
type SweepItem struct {
	OrderID      string `json:"orderId"`
	OrderNumber  string `json:"orderNumber"`
	IntentID     string `json:"intentId,omitempty"`
	IntentStatus string `json:"intentStatus,omitempty"`
	Outcome      string `json:"outcome"`
	Error        string `json:"error,omitempty"`
}

// OrderSnapshot is the notification payload: an immutable view of a confirmed order.
type OrderSnapshot struct {
	OrderID       string         `json:"orderId"`
	OrderNumber   string         `json:"orderNumber"`
	CustomerName  string         `json:"customerName,omitempty"`
	CustomerEmail string         `json:"customerEmail,omitempty"`
	Currency      string         `json:"currency"`
	Total         string         `json:"total"`
	PaymentMethod string         `json:"paymentMethod"`
	Status        string         `json:"status"`
	PaymentStatus string         `json:"paymentStatus"`
	Locale        string         `json:"locale,omitempty"`
	Items         []SnapshotItem `json:"items"`
	Shipping      domain.Address `json:"shippingAddress"`
	PlacedAt      time.Time      `json:"placedAt"`
}

// SnapshotItem is a line of an OrderSnapshot.
type SnapshotItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Total     string `json:"total"`
}

// NewOrderSnapshot freezes the notification view of an order.
func NewOrderSnapshot(order domain.Order) OrderSnapshot {
	items := make([]SnapshotItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, SnapshotItem{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
			Total:     item.Total.String(),
		})
	}
	return OrderSnapshot{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CustomerName:  order.Contact.Name,
		CustomerEmail: order.Contact.Email,
		Currency:      order.Currency,
		Total:         order.Totals.Total.String(),
		PaymentMethod: string(order.PaymentMethod),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Locale:        order.Locale,
		Items:         items,
		Shipping:      order.ShippingAddress,
		PlacedAt:      order.CreatedAt,
	}
}
