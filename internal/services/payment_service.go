package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/payments"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/textutil"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

// PaymentServiceDeps wires the payment service.
type PaymentServiceDeps struct {
	Orders   repositories.OrderRepository
	Gateway  payments.Gateway
	Executor *retry.Executor
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders   repositories.OrderRepository
	gateway  payments.Gateway
	executor *retry.Executor
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService constructs the payment service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	executor := deps.Executor
	if executor == nil {
		executor = retry.New(retry.Config{})
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:   deps.Orders,
		gateway:  deps.Gateway,
		executor: executor,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// CreateIntent returns the single provider intent of an order, creating and attaching it on
// first use. The charged amount always equals the stored order total.
func (s *paymentService) CreateIntent(ctx context.Context, cmd PaymentIntentCommand) (PaymentIntentResult, error) {
	fields := fieldErrors{}
	if !cmd.OrderKey.Valid() {
		fields.add("orderKey", "is required")
	}
	if cmd.Amount <= 0 {
		fields.add("amount", "must be a positive amount")
	}
	email := textutil.NormalizeEmail(cmd.Email)
	if email != "" && !validEmail(email) {
		fields.add("email", "is not a valid email address")
	}
	if err := fields.err(ErrPaymentInvalidInput); err != nil {
		return PaymentIntentResult{}, err
	}

	order, err := retry.Run(ctx, s.executor, "orders.get", func(ctx context.Context) (domain.Order, error) {
		return s.orders.FindByKey(ctx, cmd.OrderKey)
	})
	if err != nil {
		if repositories.IsNotFound(err) {
			return PaymentIntentResult{}, ErrOrderNotFound
		}
		return PaymentIntentResult{}, fmt.Errorf("payments: load order: %w", err)
	}

	if !order.PaymentMethod.ProviderBilled() {
		return PaymentIntentResult{}, fmt.Errorf("%w: payment method %s is not billed by the provider", ErrOrderInvalidState, order.PaymentMethod)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return PaymentIntentResult{}, fmt.Errorf("%w: payment is %s", ErrOrderInvalidState, order.PaymentStatus)
	}
	currency := strings.ToLower(strings.TrimSpace(cmd.Currency))
	if cmd.Amount != order.Totals.Total || (currency != "" && currency != order.Currency) {
		s.logger(ctx, "payments.amount_mismatch", map[string]any{
			"orderId":   order.ID,
			"requested": cmd.Amount.Int64(),
			"total":     order.Totals.Total.Int64(),
			"currency":  currency,
		})
		return PaymentIntentResult{}, ErrPaymentAmountMismatch
	}

	if order.PaymentIntentID != "" {
		return s.reuse(ctx, order)
	}

	if email == "" {
		email = order.Contact.Email
	}
	name := textutil.CleanText(cmd.Name, 200)
	if name == "" {
		name = order.Contact.Name
	}
	intent, err := retry.Run(ctx, s.executor, "payments.create_intent", func(ctx context.Context) (payments.Intent, error) {
		return s.gateway.CreateIntent(ctx, payments.IntentRequest{
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			Amount:         order.Totals.Total,
			Currency:       order.Currency,
			Email:          email,
			Name:           name,
			IdempotencyKey: payments.IntentIdempotencyKey(order.ID),
		})
	})
	if err != nil {
		return PaymentIntentResult{}, s.providerError(ctx, order, err)
	}

	_, err = retry.Run(ctx, s.executor, "orders.attach_intent", func(ctx context.Context) (domain.Order, error) {
		return s.orders.AttachPaymentIntent(ctx, order.ID, intent.ID)
	})
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrPaymentIntentConflict):
		// A concurrent request bound an intent first; hand that one out instead.
		current, findErr := s.orders.FindByKey(ctx, domain.OrderIDKey(order.ID))
		if findErr != nil || current.PaymentIntentID == "" {
			return PaymentIntentResult{}, fmt.Errorf("payments: attach intent: %w", err)
		}
		return s.reuse(ctx, current)
	default:
		return PaymentIntentResult{}, fmt.Errorf("payments: attach intent: %w", err)
	}

	s.logger(ctx, "payments.intent_created", map[string]any{
		"orderId":  order.ID,
		"intentId": intent.ID,
		"amount":   order.Totals.Total.Int64(),
	})
	return PaymentIntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		OrderID:      order.ID,
	}, nil
}

func (s *paymentService) reuse(ctx context.Context, order domain.Order) (PaymentIntentResult, error) {
	intent, err := retry.Run(ctx, s.executor, "payments.lookup_intent", func(ctx context.Context) (payments.Intent, error) {
		return s.gateway.LookupIntent(ctx, order.PaymentIntentID)
	})
	if err != nil {
		return PaymentIntentResult{}, s.providerError(ctx, order, err)
	}
	if intent.Status == payments.IntentStatusCanceled {
		return PaymentIntentResult{}, fmt.Errorf("%w: intent %s was canceled", ErrOrderInvalidState, intent.ID)
	}
	s.logger(ctx, "payments.intent_reused", map[string]any{
		"orderId":  order.ID,
		"intentId": intent.ID,
		"status":   string(intent.Status),
	})
	return PaymentIntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		OrderID:      order.ID,
		Reused:       true,
	}, nil
}

func (s *paymentService) providerError(ctx context.Context, order domain.Order, err error) error {
	s.logger(ctx, "payments.provider_failed", map[string]any{
		"orderId": order.ID,
		"error":   err.Error(),
	})
	switch {
	case errors.Is(err, payments.ErrInvalidRequest):
		return fmt.Errorf("%w: %w", ErrPaymentInvalidInput, err)
	case errors.Is(err, payments.ErrIntentNotFound):
		return fmt.Errorf("%w: %w", ErrOrderInvalidState, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrPaymentProviderUnavailable, err)
	}
}
