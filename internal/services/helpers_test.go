package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories/sqlite"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testExecutor() *retry.Executor {
	return retry.New(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
}

func testPricing() domain.PricingRules {
	return domain.PricingRules{
		FreeShippingThreshold: 100000,
		FlatShipping:          10000,
		TaxRate:               decimal.RequireFromString("0.18"),
	}
}

// stubOrderRepo delegates to an embedded repository unless a hook overrides the call.
type stubOrderRepo struct {
	repositories.OrderRepository
	createFn     func(context.Context, domain.Order) error
	findFn       func(context.Context, domain.OrderKey) (domain.Order, error)
	findIntentFn func(context.Context, string) (domain.Order, error)
	attachFn     func(context.Context, string, string) (domain.Order, error)
	transitionFn func(context.Context, repositories.TransitionRequest) (repositories.TransitionResult, error)
}

func (s *stubOrderRepo) Create(ctx context.Context, order domain.Order) error {
	if s.createFn != nil {
		return s.createFn(ctx, order)
	}
	return s.OrderRepository.Create(ctx, order)
}

func (s *stubOrderRepo) FindByKey(ctx context.Context, key domain.OrderKey) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, key)
	}
	return s.OrderRepository.FindByKey(ctx, key)
}

func (s *stubOrderRepo) FindByPaymentIntent(ctx context.Context, intentID string) (domain.Order, error) {
	if s.findIntentFn != nil {
		return s.findIntentFn(ctx, intentID)
	}
	return s.OrderRepository.FindByPaymentIntent(ctx, intentID)
}

func (s *stubOrderRepo) AttachPaymentIntent(ctx context.Context, orderID, intentID string) (domain.Order, error) {
	if s.attachFn != nil {
		return s.attachFn(ctx, orderID, intentID)
	}
	return s.OrderRepository.AttachPaymentIntent(ctx, orderID, intentID)
}

func (s *stubOrderRepo) TransitionStatus(ctx context.Context, req repositories.TransitionRequest) (repositories.TransitionResult, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, req)
	}
	return s.OrderRepository.TransitionStatus(ctx, req)
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, scope, name string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, scope, name, step)
	}
	return 1, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (d *recordingDispatcher) Dispatch(_ context.Context, order domain.Order) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders = append(d.orders, order)
}

func (d *recordingDispatcher) DispatchAsync(ctx context.Context, order domain.Order) {
	d.Dispatch(ctx, order)
}

func (d *recordingDispatcher) Wait() {}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.orders)
}

func seedOrder(t *testing.T, repo repositories.OrderRepository, id, number string, method domain.PaymentMethod, total domain.Money) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:              id,
		Number:          number,
		UserID:          "user-1",
		Contact:         domain.Contact{Email: "ada@example.com", Name: "Ada"},
		ShippingAddress: domain.Address{Line1: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN"},
		Items:           []domain.OrderItem{domain.NewOrderItem("prod-a", "A", 1, total)},
		Currency:        "usd",
		PaymentMethod:   method,
		Totals:          domain.Totals{Subtotal: total, Total: total},
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		StatusHistory: []domain.StatusHistoryEntry{{
			Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusPending, Note: orderPlacedNote, At: testNow,
		}},
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	if err := repo.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	stored, err := repo.FindByKey(context.Background(), domain.OrderIDKey(id))
	if err != nil {
		t.Fatalf("reload seeded order: %v", err)
	}
	return stored
}
