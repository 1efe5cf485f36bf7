package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

func validOrderCommand() CreateOrderCommand {
	return CreateOrderCommand{
		Contact: domain.Contact{Email: " Ada@Example.com ", Name: "Ada <b>Lovelace</b>"},
		ShippingAddress: domain.Address{
			Line1:      "1 Main St",
			City:       "Pune",
			PostalCode: "411001",
			Country:    "in",
		},
		Items: []CartLine{
			{ProductID: "prod-a", Name: "Ring", Quantity: 2, UnitPrice: "50"},
			{ProductID: "prod-b", Name: "Chain", Quantity: 1, UnitPrice: "30"},
		},
		PaymentMethod: domain.PaymentMethodCard,
		Locale:        "en_us",
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Executor == nil {
		deps.Executor = testExecutor()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return testNow }
	}
	if deps.Pricing.TaxRate.IsZero() {
		deps.Pricing = testPricing()
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func TestNewOrderServiceRequiresRepositories(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error without repositories")
	}
}

func TestOrderServiceCreateOrderPricesAndPersists(t *testing.T) {
	store := openTestStore(t)
	dispatcher := &recordingDispatcher{}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:     store.Orders(),
		Users:      store.Users(),
		Counters:   store.Counters(),
		Dispatcher: dispatcher,
		Currency:   "USD",
	})

	order, err := svc.CreateOrder(context.Background(), validOrderCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if _, err := ulid.ParseStrict(order.ID); err != nil {
		t.Fatalf("expected ulid order id, got %q", order.ID)
	}
	if order.Number != "ORD-20250314-000001" {
		t.Fatalf("unexpected order number %q", order.Number)
	}
	if order.Totals.Subtotal != 13000 || order.Totals.Shipping != 10000 || order.Totals.Tax != 2340 || order.Totals.Total != 25340 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending/pending, got %s/%s", order.Status, order.PaymentStatus)
	}
	if order.Contact.Email != "ada@example.com" || order.Contact.Name != "Ada Lovelace" {
		t.Fatalf("expected cleaned contact, got %+v", order.Contact)
	}
	if order.ShippingAddress.Country != "IN" || order.Locale != "en-US" || order.Currency != "usd" {
		t.Fatalf("unexpected normalisation: country=%q locale=%q currency=%q", order.ShippingAddress.Country, order.Locale, order.Currency)
	}
	if order.UserID == "" {
		t.Fatalf("expected guest user to be assigned")
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].Note != orderPlacedNote {
		t.Fatalf("expected single placement history entry, got %+v", order.StatusHistory)
	}
	if dispatcher.count() != 0 {
		t.Fatalf("card orders must not notify before payment")
	}

	stored, err := svc.GetOrder(context.Background(), domain.OrderNumberKey(order.Number))
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if stored.ID != order.ID || stored.Totals != order.Totals {
		t.Fatalf("stored order differs: %+v", stored)
	}

	user, err := store.Users().FindByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if !user.Guest || len(user.CredentialHash) == 0 || user.ID != order.UserID {
		t.Fatalf("unexpected guest user %+v", user)
	}
}

func TestOrderServiceCreateOrderReusesExistingUser(t *testing.T) {
	store := openTestStore(t)
	existing := domain.User{ID: "user-existing", Email: "ada@example.com", DisplayName: "Ada", CreatedAt: testNow}
	if err := store.Users().Create(context.Background(), existing); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: store.Orders(), Users: store.Users(), Counters: store.Counters()})

	order, err := svc.CreateOrder(context.Background(), validOrderCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.UserID != existing.ID {
		t.Fatalf("expected existing user id, got %q", order.UserID)
	}
}

func TestOrderServiceCreateOrderCODDispatchesImmediately(t *testing.T) {
	store := openTestStore(t)
	dispatcher := &recordingDispatcher{}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: store.Orders(), Users: store.Users(), Dispatcher: dispatcher})

	cmd := validOrderCommand()
	cmd.PaymentMethod = domain.PaymentMethodCOD
	order, err := svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if dispatcher.count() != 1 || dispatcher.orders[0].ID != order.ID {
		t.Fatalf("expected one dispatch for cod order, got %d", dispatcher.count())
	}
}

func TestOrderServiceCreateOrderValidation(t *testing.T) {
	store := openTestStore(t)
	svc := newTestOrderService(t, OrderServiceDeps{Orders: store.Orders(), Users: store.Users()})

	cmd := validOrderCommand()
	cmd.Contact.Email = "not-an-email"
	cmd.Items[0].ProductID = "../etc/passwd"
	cmd.Items[1].Quantity = 0
	cmd.PaymentMethod = "wire"
	cmd.Locale = "!!"

	_, err := svc.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	for _, field := range []string{"contact.email", "items[0].productId", "items[1].quantity", "paymentMethod", "locale"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Fatalf("expected field %s in %v", field, verr.Fields)
		}
	}
}

func TestOrderServiceCreateOrderRejectsRatherThanRewrites(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateOrderCommand)
		field  string
	}{
		{"country name", func(c *CreateOrderCommand) { c.ShippingAddress.Country = "Germany" }, "shippingAddress.country"},
		{"alpha-3 country", func(c *CreateOrderCommand) { c.ShippingAddress.Country = "DEU" }, "shippingAddress.country"},
		{"missing country", func(c *CreateOrderCommand) { c.ShippingAddress.Country = " " }, "shippingAddress.country"},
		{"long postal code", func(c *CreateOrderCommand) { c.ShippingAddress.PostalCode = strings.Repeat("4", 21) }, "shippingAddress.postalCode"},
		{"long name", func(c *CreateOrderCommand) { c.Contact.Name = strings.Repeat("a", 201) }, "contact.name"},
		{
			"line total overflow",
			func(c *CreateOrderCommand) { c.Items[0] = CartLine{ProductID: "prod-a", Quantity: 999, UnitPrice: "90000000000000"} },
			"items[0].unitPrice",
		},
		{
			"subtotal above maximum",
			func(c *CreateOrderCommand) {
				c.Items = nil
				for i := 0; i < 2; i++ {
					c.Items = append(c.Items, CartLine{ProductID: "prod-a", Quantity: 1, UnitPrice: "60000000000"})
				}
			},
			"items",
		},
	}

	for _, tc := range tests {
		store := openTestStore(t)
		svc := newTestOrderService(t, OrderServiceDeps{Orders: store.Orders(), Users: store.Users()})
		cmd := validOrderCommand()
		tc.mutate(&cmd)

		order, err := svc.CreateOrder(context.Background(), cmd)
		var verr *ValidationError
		if !errors.As(err, &verr) || !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%s: expected validation error, got order=%+v err=%v", tc.name, order.Totals, err)
		}
		if _, ok := verr.Fields[tc.field]; !ok {
			t.Fatalf("%s: expected field %s in %v", tc.name, tc.field, verr.Fields)
		}
		if _, err := store.Users().FindByEmail(context.Background(), "ada@example.com"); !errors.Is(err, repositories.ErrNotFound) {
			t.Fatalf("%s: expected no guest user written, got %v", tc.name, err)
		}
	}
}

func TestOrderServiceCreateOrderAcceptsLowerCaseCountry(t *testing.T) {
	store := openTestStore(t)
	svc := newTestOrderService(t, OrderServiceDeps{Orders: store.Orders(), Users: store.Users()})

	order, err := svc.CreateOrder(context.Background(), validOrderCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ShippingAddress.Country != "IN" {
		t.Fatalf("expected country IN, got %q", order.ShippingAddress.Country)
	}
}

func TestOrderServiceCreateOrderRejectsEmptyCart(t *testing.T) {
	store := openTestStore(t)
	svc := newTestOrderService(t, OrderServiceDeps{Orders: store.Orders(), Users: store.Users()})

	cmd := validOrderCommand()
	cmd.Items = nil
	if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceRegeneratesNumberOnCollision(t *testing.T) {
	store := openTestStore(t)
	seedOrder(t, store.Orders(), ulid.Make().String(), "ORD-20250314-000001", domain.PaymentMethodCard, 1000)

	seq := int64(0)
	counters := &stubCounterRepo{nextFn: func(context.Context, string, string, int64) (int64, error) {
		seq++
		return seq, nil
	}}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: store.Orders(), Users: store.Users(), Counters: counters})

	order, err := svc.CreateOrder(context.Background(), validOrderCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Number != "ORD-20250314-000002" {
		t.Fatalf("expected regenerated number, got %q", order.Number)
	}
}

func TestOrderServiceGivesUpAfterRepeatedCollisions(t *testing.T) {
	store := openTestStore(t)
	attempts := 0
	orders := &stubOrderRepo{
		OrderRepository: store.Orders(),
		createFn: func(context.Context, domain.Order) error {
			attempts++
			return repositories.ErrDuplicateOrderNumber
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Users: store.Users()})

	_, err := svc.CreateOrder(context.Background(), validOrderCommand())
	if !errors.Is(err, repositories.ErrDuplicateOrderNumber) {
		t.Fatalf("expected duplicate order number error, got %v", err)
	}
	if attempts != maxOrderNumberAttempts {
		t.Fatalf("expected %d attempts, got %d", maxOrderNumberAttempts, attempts)
	}
}

func TestOrderServiceRecoversCommittedRetry(t *testing.T) {
	store := openTestStore(t)
	calls := 0
	orders := &stubOrderRepo{OrderRepository: store.Orders()}
	orders.createFn = func(ctx context.Context, order domain.Order) error {
		calls++
		if err := store.Orders().Create(ctx, order); err != nil {
			return err
		}
		// The write landed but the caller saw a dropped connection.
		if calls == 1 {
			return repositories.NewError(repositories.CodeUnavailable, "orders.create", errors.New("connection reset"))
		}
		return nil
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Users: store.Users(), Counters: store.Counters()})

	order, err := svc.CreateOrder(context.Background(), validOrderCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry after unavailable, got %d calls", calls)
	}
	if !strings.HasPrefix(order.Number, "ORD-20250314-") {
		t.Fatalf("unexpected number %q", order.Number)
	}
}

func TestOrderServiceCounterFallback(t *testing.T) {
	store := openTestStore(t)
	counters := &stubCounterRepo{nextFn: func(context.Context, string, string, int64) (int64, error) {
		return 0, errors.New("counter offline")
	}}
	var events []string
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   store.Orders(),
		Users:    store.Users(),
		Counters: counters,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})

	order, err := svc.CreateOrder(context.Background(), validOrderCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := domain.ParseOrderKey(order.Number); err != nil {
		t.Fatalf("fallback number must be well formed, got %q", order.Number)
	}
	if !strings.Contains(strings.Join(events, ","), "orders.counter_fallback") {
		t.Fatalf("expected fallback log event, got %v", events)
	}
}

func TestOrderServiceGetOrderNotFound(t *testing.T) {
	store := openTestStore(t)
	svc := newTestOrderService(t, OrderServiceDeps{Orders: store.Orders(), Users: store.Users()})

	_, err := svc.GetOrder(context.Background(), domain.OrderNumberKey("ORD-20250101-000009"))
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), domain.OrderKey{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for empty key, got %v", err)
	}
}
