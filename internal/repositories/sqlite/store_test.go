package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleOrder(number string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:              ulid.Make().String(),
		Number:          number,
		UserID:          "user-1",
		Contact:         domain.Contact{Email: "a@example.com", Name: "Ada"},
		ShippingAddress: domain.Address{Line1: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN"},
		Items:           []domain.OrderItem{domain.NewOrderItem("prod-a", "A", 2, 5000)},
		Currency:        "INR",
		PaymentMethod:   domain.PaymentMethodCard,
		Totals:          domain.Totals{Subtotal: 10000, Shipping: 500, Tax: 1800, Total: 12300},
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		StatusHistory: []domain.StatusHistoryEntry{{
			Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusPending, Note: "order placed", At: createdAt,
		}},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderCreateAndFindByKey(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	order := sampleOrder("ORD-20250102-000001", now)

	if err := store.Orders().Create(ctx, order); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byID, err := store.Orders().FindByKey(ctx, domain.OrderIDKey(order.ID))
	if err != nil {
		t.Fatalf("FindByKey id: %v", err)
	}
	if byID.Number != order.Number || byID.Totals != order.Totals || len(byID.Items) != 1 || len(byID.StatusHistory) != 1 {
		t.Fatalf("unexpected order %+v", byID)
	}
	if !byID.CreatedAt.Equal(now) || byID.Version != 1 {
		t.Fatalf("unexpected metadata %+v", byID)
	}

	if _, err := store.Orders().FindByKey(ctx, domain.OrderNumberKey(order.Number)); err != nil {
		t.Fatalf("FindByKey number: %v", err)
	}
	_, err = store.Orders().FindByKey(ctx, domain.OrderKey{Kind: domain.KeyKindNumber, Value: order.ID})
	if !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected not found across key kinds, got %v", err)
	}
}

func TestOrderCreateDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now().UTC()

	if err := store.Orders().Create(ctx, sampleOrder("ORD-20250102-000001", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := store.Orders().Create(ctx, sampleOrder("ORD-20250102-000001", now))
	if !errors.Is(err, repositories.ErrDuplicateOrderNumber) {
		t.Fatalf("expected duplicate order number, got %v", err)
	}
}

func TestAttachPaymentIntentIsSetOnce(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now().UTC()
	first := sampleOrder("ORD-20250102-000001", now)
	second := sampleOrder("ORD-20250102-000002", now)
	for _, o := range []domain.Order{first, second} {
		if err := store.Orders().Create(ctx, o); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	updated, err := store.Orders().AttachPaymentIntent(ctx, first.ID, "pi_1")
	if err != nil || updated.PaymentIntentID != "pi_1" {
		t.Fatalf("AttachPaymentIntent: %+v %v", updated, err)
	}
	if _, err := store.Orders().AttachPaymentIntent(ctx, first.ID, "pi_1"); err != nil {
		t.Fatalf("re-attach same intent: %v", err)
	}
	if _, err := store.Orders().AttachPaymentIntent(ctx, first.ID, "pi_2"); !errors.Is(err, repositories.ErrPaymentIntentConflict) {
		t.Fatalf("expected conflict for second intent, got %v", err)
	}
	if _, err := store.Orders().AttachPaymentIntent(ctx, second.ID, "pi_1"); !errors.Is(err, repositories.ErrPaymentIntentConflict) {
		t.Fatalf("expected conflict for shared intent, got %v", err)
	}

	found, err := store.Orders().FindByPaymentIntent(ctx, "pi_1")
	if err != nil || found.ID != first.ID {
		t.Fatalf("FindByPaymentIntent: %+v %v", found, err)
	}
}

func TestTransitionStatusAppliesAtomically(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	order := sampleOrder("ORD-20250102-000001", time.Now().UTC())
	if err := store.Orders().Create(ctx, order); err != nil {
		t.Fatalf("Create: %v", err)
	}

	expected := order.State()
	req := repositories.TransitionRequest{
		Key:           domain.OrderIDKey(order.ID),
		Expected:      &expected,
		Next:          domain.OrderState{Status: domain.OrderStatusConfirmed, PaymentStatus: domain.PaymentStatusPaid},
		Note:          "payment succeeded",
		Event:         &domain.AppliedEvent{OrderID: order.ID, EventType: domain.PaymentEventIntentSucceeded, EventID: "evt_1"},
		Notifications: domain.ConfirmationNotifications,
	}
	result, err := store.Orders().TransitionStatus(ctx, req)
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if result.Previous != expected || result.Order.Status != domain.OrderStatusConfirmed || len(result.Order.StatusHistory) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	stored, _ := store.Orders().FindByKey(ctx, domain.OrderIDKey(order.ID))
	if stored.PaymentStatus != domain.PaymentStatusPaid || stored.Version != 2 || stored.StatusHistory[1].EventID != "evt_1" {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	markers, err := store.Notifications().ListNotifications(ctx, order.ID)
	if err != nil || len(markers) != 2 {
		t.Fatalf("expected two pending markers, got %+v %v", markers, err)
	}
	for _, m := range markers {
		if m.State != domain.NotificationPending {
			t.Fatalf("expected pending marker, got %+v", m)
		}
	}

	// Same event again: the ledger wins over the stale state.
	if _, err := store.Orders().TransitionStatus(ctx, req); !errors.Is(err, repositories.ErrEventAlreadyApplied) {
		t.Fatalf("expected already applied, got %v", err)
	}

	req.Event = &domain.AppliedEvent{OrderID: order.ID, EventType: domain.PaymentEventIntentSucceeded, EventID: "evt_2"}
	if _, err := store.Orders().TransitionStatus(ctx, req); !errors.Is(err, repositories.ErrStaleState) {
		t.Fatalf("expected stale state, got %v", err)
	}

	// The rejected transition must not leave its ledger row behind.
	req.Expected = &domain.OrderState{Status: domain.OrderStatusConfirmed, PaymentStatus: domain.PaymentStatusPaid}
	req.Next = domain.OrderState{Status: domain.OrderStatusProcessing, PaymentStatus: domain.PaymentStatusPaid}
	req.Notifications = nil
	if _, err := store.Orders().TransitionStatus(ctx, req); err != nil {
		t.Fatalf("expected evt_2 to apply after rollback, got %v", err)
	}
}

func TestTransitionStatusConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	order := sampleOrder("ORD-20250102-000001", time.Now().UTC())
	if err := store.Orders().Create(ctx, order); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			expected := order.State()
			_, err := store.Orders().TransitionStatus(ctx, repositories.TransitionRequest{
				Key:      domain.OrderIDKey(order.ID),
				Expected: &expected,
				Next:     domain.OrderState{Status: domain.OrderStatusConfirmed, PaymentStatus: domain.PaymentStatusPaid},
				Event: &domain.AppliedEvent{
					OrderID: order.ID, EventType: domain.PaymentEventIntentSucceeded, EventID: ulid.Make().String(),
				},
			})
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
				return
			}
			if !errors.Is(err, repositories.ErrStaleState) {
				t.Errorf("worker %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one winner, got %d", applied)
	}
	stored, _ := store.Orders().FindByKey(ctx, domain.OrderIDKey(order.ID))
	if len(stored.StatusHistory) != 2 {
		t.Fatalf("expected one history append, got %d", len(stored.StatusHistory))
	}
}

func TestListAwaitingPayment(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	old := time.Now().Add(-time.Hour).UTC()

	withIntent := sampleOrder("ORD-20250102-000001", old)
	withIntent.PaymentIntentID = "pi_1"
	noIntent := sampleOrder("ORD-20250102-000002", old)
	cod := sampleOrder("ORD-20250102-000003", old)
	cod.PaymentMethod = domain.PaymentMethodCOD
	cod.PaymentIntentID = "pi_3"
	fresh := sampleOrder("ORD-20250102-000004", time.Now().UTC())
	fresh.PaymentIntentID = "pi_4"
	for _, o := range []domain.Order{withIntent, noIntent, cod, fresh} {
		if err := store.Orders().Create(ctx, o); err != nil {
			t.Fatalf("Create %s: %v", o.Number, err)
		}
	}

	orders, err := store.Orders().ListAwaitingPayment(ctx, time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListAwaitingPayment: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != withIntent.ID {
		t.Fatalf("unexpected orders %+v", orders)
	}
}

func TestNotificationMarkUpserts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	order := sampleOrder("ORD-20250102-000001", time.Now().UTC())
	if err := store.Orders().Create(ctx, order); err != nil {
		t.Fatalf("Create: %v", err)
	}

	outbox := store.Notifications()
	rec := domain.NotificationRecord{OrderID: order.ID, Kind: domain.NotificationCustomerConfirmation, State: domain.NotificationFailed, Error: "smtp down"}
	if err := outbox.MarkNotification(ctx, rec); err != nil {
		t.Fatalf("MarkNotification: %v", err)
	}
	rec.State, rec.Error, rec.MessageID = domain.NotificationSent, "", "msg-1"
	if err := outbox.MarkNotification(ctx, rec); err != nil {
		t.Fatalf("MarkNotification: %v", err)
	}

	records, err := outbox.ListNotifications(ctx, order.ID)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one record, got %+v %v", records, err)
	}
	if records[0].State != domain.NotificationSent || records[0].MessageID != "msg-1" {
		t.Fatalf("unexpected record %+v", records[0])
	}
}

func TestUsersAndCounters(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	user := domain.User{ID: "u1", Email: "Ada@Example.com ", Guest: true, CreatedAt: time.Now().UTC()}
	if err := store.Users().Create(ctx, user); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	if err := store.Users().Create(ctx, domain.User{ID: "u2", Email: "ada@example.com", CreatedAt: time.Now()}); !errors.Is(err, repositories.ErrUserExists) {
		t.Fatalf("expected user exists, got %v", err)
	}
	found, err := store.Users().FindByEmail(ctx, "ADA@example.com")
	if err != nil || found.ID != "u1" || !found.Guest {
		t.Fatalf("FindByEmail: %+v %v", found, err)
	}
	if _, err := store.Users().FindByEmail(ctx, "nobody@example.com"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := store.Counters().Next(ctx, "orders", "20250102", 1)
		if err != nil || got != want {
			t.Fatalf("Next: expected %d, got %d (%v)", want, got, err)
		}
	}
	other, _ := store.Counters().Next(ctx, "orders", "20250103", 1)
	if other != 1 {
		t.Fatalf("expected independent counter, got %d", other)
	}
}
