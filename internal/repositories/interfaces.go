package repositories

import (
	"context"
	"time"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
)

// Store exposes the repositories of one persistence backend and its lifecycle hooks.
type Store interface {
	Orders() OrderRepository
	Users() UserRepository
	Counters() CounterRepository
	Notifications() NotificationOutbox
	Ping(ctx context.Context) error
	Close() error
}

// OrderRepository persists orders and guards every state change with a compare-and-swap.
type OrderRepository interface {
	// Create inserts a new order. A taken order number or id yields ErrDuplicateOrderNumber.
	Create(ctx context.Context, order domain.Order) error
	FindByKey(ctx context.Context, key domain.OrderKey) (domain.Order, error)
	FindByPaymentIntent(ctx context.Context, intentID string) (domain.Order, error)
	// AttachPaymentIntent records the provider intent on the order once.
	AttachPaymentIntent(ctx context.Context, orderID, intentID string) (domain.Order, error)
	TransitionStatus(ctx context.Context, req TransitionRequest) (TransitionResult, error)
	// ListAwaitingPayment returns provider-billed orders with an intent still pending payment,
	// created before olderThan, oldest first.
	ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]domain.Order, error)
}

// TransitionRequest describes one conditional state change. The state write, its history entry,
// the applied-event record and the outbox markers commit together or not at all.
type TransitionRequest struct {
	Key domain.OrderKey
	// Expected, when set, must equal the stored state or the write fails with ErrStaleState.
	Expected      *domain.OrderState
	Next          domain.OrderState
	Note          string
	Event         *domain.AppliedEvent
	Notifications []domain.NotificationKind
	At            time.Time
}

// TransitionResult carries the order as committed and the state it replaced.
type TransitionResult struct {
	Order    domain.Order
	Previous domain.OrderState
}

// UserRepository persists the minimal user records checkout needs.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	// Create inserts a user; a taken email yields ErrUserExists.
	Create(ctx context.Context, user domain.User) error
}

// CounterRepository provides monotonically increasing sequences per scope and name.
type CounterRepository interface {
	Next(ctx context.Context, scope, name string, step int64) (int64, error)
}

// NotificationOutbox records the delivery outcome of order notifications.
type NotificationOutbox interface {
	MarkNotification(ctx context.Context, record domain.NotificationRecord) error
	ListNotifications(ctx context.Context, orderID string) ([]domain.NotificationRecord, error)
}

// HealthRepository reports the health of backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
