package domain

import (
	"time"
)

// OrderStatus enumerates the fulfilment lifecycle of an order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment (or a non-billed method) confirmed the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus tracks the payment axis of an order independently from fulfilment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no final payment outcome has been observed.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates the provider confirmed the charge.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the provider reported a failed charge.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates a paid order was refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod selects how the customer pays.
type PaymentMethod string

const (
	// PaymentMethodCard is billed through the payment provider.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodCOD is collected on delivery; the provider never calls back.
	PaymentMethodCOD PaymentMethod = "cod"
)

// ProviderBilled reports whether the payment provider settles the order via webhooks.
func (m PaymentMethod) ProviderBilled() bool {
	return m == PaymentMethodCard
}

// Valid reports whether the method is known.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodCOD:
		return true
	default:
		return false
	}
}

// OrderState is the pair of axes guarded by conditional writes.
type OrderState struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

// Order captures an order aggregate owned by the order store.
type Order struct {
	ID              string
	Number          string
	UserID          string
	Contact         Contact
	ShippingAddress Address
	Items           []OrderItem
	Currency        string
	Locale          string
	PaymentMethod   PaymentMethod
	Totals          Totals
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentIntentID string
	StatusHistory   []StatusHistoryEntry
	// Version increments on every committed write.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State returns the order's current state pair.
func (o Order) State() OrderState {
	return OrderState{Status: o.Status, PaymentStatus: o.PaymentStatus}
}

// OrderItem is a line item frozen at order time.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice Money
	Total     Money
}

// Totals holds rolled-up monetary fields in minor units.
type Totals struct {
	Subtotal Money
	Shipping Money
	Tax      Money
	Discount Money
	Total    Money
}

// Balanced reports whether Total equals Subtotal + Shipping + Tax - Discount.
func (t Totals) Balanced() bool {
	if t.Subtotal < 0 || t.Shipping < 0 || t.Tax < 0 || t.Discount < 0 || t.Total < 0 {
		return false
	}
	return t.Total == t.Subtotal+t.Shipping+t.Tax-t.Discount
}

// Contact stores the customer contact snapshot used for notifications.
type Contact struct {
	Email string
	Name  string
	Phone string
}

// Address is a postal shipping address.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// StatusHistoryEntry is one append-only record of an order transition.
type StatusHistoryEntry struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Note          string
	EventID       string
	At            time.Time
}

// User is the minimal identity slice needed for checkout.
type User struct {
	ID             string
	Email          string
	DisplayName    string
	Guest          bool
	CredentialHash []byte
	CreatedAt      time.Time
}

// AppliedEvent is the durable idempotency record for a provider event applied to an order.
type AppliedEvent struct {
	OrderID   string
	EventType PaymentEventType
	EventID   string
	AppliedAt time.Time
}

// LedgerID returns the stable document identifier for the record within its order.
func (e AppliedEvent) LedgerID() string {
	return string(e.EventType) + ":" + e.EventID
}

// NotificationKind distinguishes the notifications sent on confirmation.
type NotificationKind string

const (
	// NotificationCustomerConfirmation is the confirmation sent to the customer.
	NotificationCustomerConfirmation NotificationKind = "customer_confirmation"
	// NotificationInternalNewOrder alerts the operations inbox.
	NotificationInternalNewOrder NotificationKind = "internal_new_order"
)

// ConfirmationNotifications lists the notifications triggered once per confirmed order.
var ConfirmationNotifications = []NotificationKind{
	NotificationCustomerConfirmation,
	NotificationInternalNewOrder,
}

// NotificationState tracks an outbox marker.
type NotificationState string

const (
	NotificationPending NotificationState = "pending"
	NotificationSent    NotificationState = "sent"
	NotificationFailed  NotificationState = "failed"
)

// NotificationRecord is the outbox marker for one notification of one order.
type NotificationRecord struct {
	OrderID   string
	Kind      NotificationKind
	State     NotificationState
	MessageID string
	Error     string
	UpdatedAt time.Time
}

// PaymentEventType enumerates the provider events the core reacts to.
type PaymentEventType string

const (
	PaymentEventIntentSucceeded   PaymentEventType = "payment_intent.succeeded"
	PaymentEventIntentFailed      PaymentEventType = "payment_intent.payment_failed"
	PaymentEventCheckoutCompleted PaymentEventType = "checkout.session.completed"
)

// Settles reports whether the event confirms payment.
func (t PaymentEventType) Settles() bool {
	return t == PaymentEventIntentSucceeded || t == PaymentEventCheckoutCompleted
}

// Supported reports whether the processor handles the event type.
func (t PaymentEventType) Supported() bool {
	return t.Settles() || t == PaymentEventIntentFailed
}

// NoOrderReference is the sentinel metadata value for intents not tied to an order.
const NoOrderReference = "none"

// PaymentEvent is a verified provider event reduced to the fields the core trusts.
type PaymentEvent struct {
	ID            string
	Type          PaymentEventType
	IntentID      string
	OrderRef      string
	FailureReason string
	Created       time.Time
}

// Health statuses reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck describes the outcome of one dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
