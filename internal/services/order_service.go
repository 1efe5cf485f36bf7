package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/textutil"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

const (
	maxOrderNumberAttempts = 5
	maxOrderItems          = 100
	maxItemQuantity        = 999
	guestCredentialBytes   = 32
	orderPlacedNote        = "order placed"
)

var (
	productIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	currencyPattern  = regexp.MustCompile(`^[a-z]{3}$`)
)

// OrderServiceDeps wires the collaborators of the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Users      repositories.UserRepository
	Counters   repositories.CounterRepository
	Executor   *retry.Executor
	Pricing    domain.PricingRules
	Dispatcher NotificationDispatcher
	Currency   string
	Clock      func() time.Time
	IDGen      func() string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	users      repositories.UserRepository
	executor   *retry.Executor
	pricing    domain.PricingRules
	dispatcher NotificationDispatcher
	currency   string
	numbers    *orderNumberGenerator
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs the order builder.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("order service: user repository is required")
	}
	executor := deps.Executor
	if executor == nil {
		executor = retry.New(retry.Config{})
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}

	return &orderService{
		orders:     deps.Orders,
		users:      deps.Users,
		executor:   executor,
		pricing:    deps.Pricing,
		dispatcher: deps.Dispatcher,
		currency:   currency,
		numbers:    newOrderNumberGenerator(deps.Counters, executor, now, logger),
		now:        now,
		newID:      idGen,
		logger:     logger,
	}, nil
}

// CreateOrder validates the request, prices it, resolves the buyer and persists the order as
// pending/pending. Order number collisions regenerate the number and retry the insert only.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	draft, err := s.normalise(cmd)
	if err != nil {
		return domain.Order{}, err
	}

	if draft.UserID == "" {
		userID, err := s.ensureGuestUser(ctx, draft.Contact)
		if err != nil {
			return domain.Order{}, fmt.Errorf("orders: resolve user: %w", err)
		}
		draft.UserID = userID
	}

	now := s.now()
	draft.ID = s.newID()
	draft.Status = domain.OrderStatusPending
	draft.PaymentStatus = domain.PaymentStatusPending
	draft.StatusHistory = []domain.StatusHistoryEntry{{
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Note:          orderPlacedNote,
		At:            now,
	}}
	draft.CreatedAt = now
	draft.UpdatedAt = now

	order, err := s.insert(ctx, draft)
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "orders.created", map[string]any{
		"orderId":       order.ID,
		"orderNumber":   order.Number,
		"total":         order.Totals.Total.Int64(),
		"paymentMethod": string(order.PaymentMethod),
	})

	if !order.PaymentMethod.ProviderBilled() && s.dispatcher != nil {
		s.dispatcher.DispatchAsync(ctx, order)
	}
	return order, nil
}

func (s *orderService) insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order.Number = s.numbers.Next(ctx)
		err := s.executor.Do(ctx, "orders.create", func(ctx context.Context) error {
			return s.orders.Create(ctx, order)
		})
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repositories.ErrDuplicateOrderNumber) {
			return domain.Order{}, fmt.Errorf("orders: create: %w", err)
		}
		// A retried insert whose first attempt committed reports its own number as taken.
		if existing, findErr := s.orders.FindByKey(ctx, domain.OrderIDKey(order.ID)); findErr == nil {
			return existing, nil
		}
		lastErr = err
		s.logger(ctx, "orders.number_collision", map[string]any{
			"orderNumber": order.Number,
			"attempt":     attempt,
		})
	}
	return domain.Order{}, fmt.Errorf("orders: create: no free order number after %d attempts: %w", maxOrderNumberAttempts, lastErr)
}

// GetOrder loads an order by id or number.
func (s *orderService) GetOrder(ctx context.Context, key domain.OrderKey) (domain.Order, error) {
	if !key.Valid() {
		return domain.Order{}, ErrOrderInvalidInput
	}
	order, err := retry.Run(ctx, s.executor, "orders.get", func(ctx context.Context) (domain.Order, error) {
		return s.orders.FindByKey(ctx, key)
	})
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("orders: get %s: %w", key, err)
	}
	return order, nil
}

func (s *orderService) ensureGuestUser(ctx context.Context, contact domain.Contact) (string, error) {
	find := func(ctx context.Context) (domain.User, error) {
		return s.users.FindByEmail(ctx, contact.Email)
	}
	user, err := retry.Run(ctx, s.executor, "users.find", find)
	if err == nil {
		return user.ID, nil
	}
	if !repositories.IsNotFound(err) {
		return "", err
	}

	credential := make([]byte, guestCredentialBytes)
	if _, err := rand.Read(credential); err != nil {
		return "", fmt.Errorf("generate guest credential: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword(credential, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash guest credential: %w", err)
	}
	guest := domain.User{
		ID:             s.newID(),
		Email:          contact.Email,
		DisplayName:    contact.Name,
		Guest:          true,
		CredentialHash: hash,
		CreatedAt:      s.now(),
	}
	err = s.executor.Do(ctx, "users.create", func(ctx context.Context) error {
		return s.users.Create(ctx, guest)
	})
	switch {
	case err == nil:
		s.logger(ctx, "orders.guest_created", map[string]any{"userId": guest.ID})
		return guest.ID, nil
	case errors.Is(err, repositories.ErrUserExists):
		user, err := retry.Run(ctx, s.executor, "users.find", find)
		if err != nil {
			return "", err
		}
		return user.ID, nil
	default:
		return "", err
	}
}

func (s *orderService) normalise(cmd CreateOrderCommand) (domain.Order, error) {
	fields := fieldErrors{}
	bounded := func(field, value string, limit int) string {
		cleaned := textutil.CleanText(value, 0)
		if utf8.RuneCountInString(cleaned) > limit {
			fields.add(field, fmt.Sprintf("must be at most %d characters", limit))
		}
		return cleaned
	}
	required := func(field, value string, limit int) string {
		cleaned := bounded(field, value, limit)
		if cleaned == "" {
			fields.add(field, "is required")
		}
		return cleaned
	}

	contact := domain.Contact{
		Email: textutil.NormalizeEmail(cmd.Contact.Email),
		Name:  required("contact.name", cmd.Contact.Name, 200),
		Phone: bounded("contact.phone", cmd.Contact.Phone, 32),
	}
	switch {
	case contact.Email == "":
		fields.add("contact.email", "is required")
	case !validEmail(contact.Email):
		fields.add("contact.email", "is not a valid email address")
	}

	address := domain.Address{
		Line1:      required("shippingAddress.line1", cmd.ShippingAddress.Line1, 200),
		Line2:      bounded("shippingAddress.line2", cmd.ShippingAddress.Line2, 200),
		City:       required("shippingAddress.city", cmd.ShippingAddress.City, 100),
		State:      bounded("shippingAddress.state", cmd.ShippingAddress.State, 100),
		PostalCode: required("shippingAddress.postalCode", cmd.ShippingAddress.PostalCode, 20),
	}
	if raw := strings.TrimSpace(cmd.ShippingAddress.Country); raw == "" {
		fields.add("shippingAddress.country", "is required")
	} else if country, err := textutil.CountryCode(raw); err != nil {
		fields.add("shippingAddress.country", "must be an ISO 3166-1 alpha-2 country code")
	} else {
		address.Country = country
	}

	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(cmd.PaymentMethod))))
	if !method.Valid() {
		fields.add("paymentMethod", "must be one of card, cod")
	}

	currency := strings.ToLower(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	if !currencyPattern.MatchString(currency) {
		fields.add("currency", "must be a three-letter ISO code")
	}

	locale, err := textutil.CanonicalLanguageTag(cmd.Locale)
	if err != nil {
		fields.add("locale", "is not a valid language tag")
	}

	var discount domain.Money
	if raw := strings.TrimSpace(cmd.Discount); raw != "" {
		discount, err = domain.ParseMoney(raw)
		if err != nil {
			fields.add("discount", "must be a non-negative amount")
		}
	}

	items := make([]domain.OrderItem, 0, len(cmd.Items))
	switch {
	case len(cmd.Items) == 0:
		fields.add("items", "must contain at least one item")
	case len(cmd.Items) > maxOrderItems:
		fields.add("items", fmt.Sprintf("must contain at most %d items", maxOrderItems))
	}
	for i, line := range cmd.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		productID := strings.TrimSpace(line.ProductID)
		if !productIDPattern.MatchString(productID) {
			fields.add(prefix+"productId", "is invalid")
		}
		name := textutil.CleanText(line.Name, 200)
		if name == "" {
			name = productID
		}
		if line.Quantity <= 0 || line.Quantity > maxItemQuantity {
			fields.add(prefix+"quantity", fmt.Sprintf("must be between 1 and %d", maxItemQuantity))
		}
		price, err := domain.ParseMoney(line.UnitPrice)
		switch {
		case err != nil || price <= 0:
			fields.add(prefix+"unitPrice", "must be a positive amount")
		case line.Quantity > 0 && line.Quantity <= maxItemQuantity:
			if _, err := price.TimesChecked(line.Quantity); err != nil {
				fields.add(prefix+"unitPrice", fmt.Sprintf("line total must not exceed %s", domain.MaxOrderAmount))
			}
		}
		items = append(items, domain.NewOrderItem(productID, name, line.Quantity, price))
	}
	if len(fields) == 0 {
		if _, err := domain.Subtotal(items); err != nil {
			fields.add("items", fmt.Sprintf("order subtotal must not exceed %s", domain.MaxOrderAmount))
		}
	}

	if err := fields.err(ErrOrderInvalidInput); err != nil {
		return domain.Order{}, err
	}

	return domain.Order{
		UserID:          strings.TrimSpace(cmd.UserID),
		Contact:         contact,
		ShippingAddress: address,
		Items:           items,
		Currency:        currency,
		Locale:          locale,
		PaymentMethod:   method,
		Totals:          s.pricing.Price(items, discount),
	}, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}
