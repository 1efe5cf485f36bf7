package handlers

import (
	"context"
	"sync"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

type stubSystemService struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

type stubOrderService struct {
	mu       sync.Mutex
	createFn func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error)
	getFn    func(ctx context.Context, key domain.OrderKey) (domain.Order, error)
	creates  int
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, key domain.OrderKey) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, key)
	}
	return domain.Order{}, services.ErrOrderNotFound
}

type stubPaymentService struct {
	createFn func(ctx context.Context, cmd services.PaymentIntentCommand) (services.PaymentIntentResult, error)
}

func (s *stubPaymentService) CreateIntent(ctx context.Context, cmd services.PaymentIntentCommand) (services.PaymentIntentResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.PaymentIntentResult{}, nil
}

type stubWebhookProcessor struct {
	processFn func(ctx context.Context, payload []byte, signature string) (services.WebhookResult, error)
}

func (s *stubWebhookProcessor) Process(ctx context.Context, payload []byte, signature string) (services.WebhookResult, error) {
	if s.processFn != nil {
		return s.processFn(ctx, payload, signature)
	}
	return services.WebhookResult{Outcome: services.OutcomeApplied}, nil
}

func (s *stubWebhookProcessor) Apply(context.Context, domain.PaymentEvent) (services.WebhookResult, error) {
	return services.WebhookResult{}, nil
}

func (s *stubWebhookProcessor) Wait() {}

var (
	_ services.SystemService    = (*stubSystemService)(nil)
	_ services.OrderService     = (*stubOrderService)(nil)
	_ services.PaymentService   = (*stubPaymentService)(nil)
	_ services.WebhookProcessor = (*stubWebhookProcessor)(nil)
)
