package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/payments"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/cache"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/observability"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

const (
	defaultWebhookProvider = "stripe"
	archiveTimeout         = 10 * time.Second
)

// WebhookProcessorDeps wires the webhook processor. Cache and Archive are optional.
type WebhookProcessorDeps struct {
	Orders     repositories.OrderRepository
	Gateway    payments.Gateway
	Executor   *retry.Executor
	Dispatcher NotificationDispatcher
	Cache      AppliedEventCache
	Archive    PayloadArchive
	Provider   string
	Meter      metric.Meter
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type webhookProcessor struct {
	orders     repositories.OrderRepository
	gateway    payments.Gateway
	executor   *retry.Executor
	dispatcher NotificationDispatcher
	cache      AppliedEventCache
	archive    PayloadArchive
	provider   string
	events     observability.Counter
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)

	archiving sync.WaitGroup
}

var _ WebhookProcessor = (*webhookProcessor)(nil)

// NewWebhookProcessor constructs the processor that settles orders from provider events.
func NewWebhookProcessor(deps WebhookProcessorDeps) (WebhookProcessor, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook processor: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("webhook processor: gateway is required")
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
	provider := strings.TrimSpace(deps.Provider)
	if provider == "" {
		provider = defaultWebhookProvider
	}
	return &webhookProcessor{
		orders:     deps.Orders,
		gateway:    deps.Gateway,
		executor:   executor,
		dispatcher: deps.Dispatcher,
		cache:      deps.Cache,
		archive:    deps.Archive,
		provider:   provider,
		events:     observability.NewCounter(deps.Meter, "webhook.events", "Provider webhook events by type and outcome."),
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// Process verifies a raw delivery and applies it. Verification failures return
// payments.ErrInvalidSignature or payments.ErrMalformedEvent unchanged.
func (p *webhookProcessor) Process(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	event, err := p.gateway.VerifyEvent(payload, signature)
	if err != nil {
		p.events.Inc(ctx, "type", "unknown", "outcome", "rejected")
		p.logger(ctx, "webhook.verify_failed", map[string]any{"error": err.Error()})
		return WebhookResult{}, err
	}
	p.archivePayload(ctx, event, payload)
	return p.Apply(ctx, event)
}

// Apply settles the order referenced by a verified event. Retrying the same event is always safe:
// the applied-event ledger and the compare-and-swap keep the effect single.
func (p *webhookProcessor) Apply(ctx context.Context, event domain.PaymentEvent) (result WebhookResult, err error) {
	result = WebhookResult{EventID: event.ID, EventType: event.Type}
	defer func() {
		outcome := string(result.Outcome)
		if err != nil {
			outcome = "error"
		}
		p.events.Inc(ctx, "type", string(event.Type), "outcome", outcome)
	}()

	if strings.TrimSpace(event.ID) == "" {
		return result, payments.ErrMalformedEvent
	}
	if !event.Type.Supported() {
		result.Outcome = OutcomeIgnored
		return result, nil
	}
	ref := strings.TrimSpace(event.OrderRef)
	if ref == domain.NoOrderReference || (ref == "" && strings.TrimSpace(event.IntentID) == "") {
		result.Outcome = OutcomeIgnored
		p.logger(ctx, "webhook.unreferenced", map[string]any{"eventId": event.ID, "type": string(event.Type)})
		return result, nil
	}

	order, err := p.lookup(ctx, event)
	if err != nil {
		if repositories.IsNotFound(err) {
			result.Outcome = OutcomeOrderNotFound
			p.logger(ctx, "webhook.order_not_found", map[string]any{
				"eventId":  event.ID,
				"orderRef": ref,
				"intentId": event.IntentID,
			})
			return result, nil
		}
		return result, fmt.Errorf("webhook: load order: %w", err)
	}
	result.OrderID = order.ID

	// An order settles only through the intent it is bound to.
	intentID := strings.TrimSpace(event.IntentID)
	if bound := strings.TrimSpace(order.PaymentIntentID); intentID != "" && bound != "" && intentID != bound {
		result.Outcome = OutcomeStale
		p.logger(ctx, "webhook.intent_mismatch", map[string]any{
			"eventId":     event.ID,
			"type":        string(event.Type),
			"orderId":     order.ID,
			"intentId":    intentID,
			"boundIntent": bound,
		})
		return result, nil
	}

	if p.cache != nil {
		seen, cacheErr := p.cache.Seen(ctx, order.ID, string(event.Type), event.ID)
		switch {
		case cacheErr != nil && !errors.Is(cacheErr, cache.ErrDisabled):
			p.logger(ctx, "webhook.cache_read_failed", map[string]any{"orderId": order.ID, "error": cacheErr.Error()})
		case seen:
			result.Outcome = OutcomeDuplicate
			return result, nil
		}
	}

	outcome, err := p.transition(ctx, order, event)
	result.Outcome = outcome
	if err != nil {
		return result, err
	}
	p.logger(ctx, "webhook."+string(outcome), map[string]any{
		"eventId": event.ID,
		"type":    string(event.Type),
		"orderId": order.ID,
	})
	return result, nil
}

func (p *webhookProcessor) Wait() {
	p.archiving.Wait()
}

// lookup resolves the order from metadata first and from the intent id second.
func (p *webhookProcessor) lookup(ctx context.Context, event domain.PaymentEvent) (domain.Order, error) {
	ref := strings.TrimSpace(event.OrderRef)
	intentID := strings.TrimSpace(event.IntentID)
	if ref != "" {
		key := domain.OrderIDKey(ref)
		if parsed, err := domain.ParseOrderKey(ref); err == nil {
			key = parsed
		}
		order, err := retry.Run(ctx, p.executor, "orders.get", func(ctx context.Context) (domain.Order, error) {
			return p.orders.FindByKey(ctx, key)
		})
		if err == nil || !repositories.IsNotFound(err) || intentID == "" {
			return order, err
		}
	}
	return retry.Run(ctx, p.executor, "orders.find_by_intent", func(ctx context.Context) (domain.Order, error) {
		return p.orders.FindByPaymentIntent(ctx, intentID)
	})
}

type transitionPlan struct {
	next    domain.OrderState
	note    string
	notify  []domain.NotificationKind
	outcome WebhookOutcome
}

// plan decides what event does to order. A non-empty outcome means no write is needed.
func plan(order domain.Order, event domain.PaymentEvent) transitionPlan {
	current := order.State()
	if event.Type.Settles() {
		if current.PaymentStatus == domain.PaymentStatusPaid {
			return transitionPlan{outcome: OutcomeAlreadyApplied}
		}
		next := domain.OrderState{Status: domain.OrderStatusConfirmed, PaymentStatus: domain.PaymentStatusPaid}
		if !domain.CanTransition(current, next, order.PaymentMethod) {
			return transitionPlan{outcome: OutcomeStale}
		}
		return transitionPlan{
			next:   next,
			note:   "payment confirmed",
			notify: domain.ConfirmationNotifications,
		}
	}

	if current.PaymentStatus == domain.PaymentStatusFailed {
		return transitionPlan{outcome: OutcomeAlreadyApplied}
	}
	next := domain.OrderState{Status: current.Status, PaymentStatus: domain.PaymentStatusFailed}
	if !domain.CanTransition(current, next, order.PaymentMethod) {
		return transitionPlan{outcome: OutcomeStale}
	}
	note := "payment failed"
	if reason := strings.TrimSpace(event.FailureReason); reason != "" {
		note += ": " + reason
	}
	return transitionPlan{next: next, note: note}
}

func (p *webhookProcessor) transition(ctx context.Context, order domain.Order, event domain.PaymentEvent) (WebhookOutcome, error) {
	for attempt := 1; ; attempt++ {
		step := plan(order, event)
		if step.outcome != "" {
			if attempt > 1 && step.outcome == OutcomeAlreadyApplied {
				return OutcomeStale, nil
			}
			return step.outcome, nil
		}

		expected := order.State()
		res, err := retry.Run(ctx, p.executor, "orders.transition", func(ctx context.Context) (repositories.TransitionResult, error) {
			return p.orders.TransitionStatus(ctx, repositories.TransitionRequest{
				Key:      domain.OrderIDKey(order.ID),
				Expected: &expected,
				Next:     step.next,
				Note:     step.note,
				Event: &domain.AppliedEvent{
					OrderID:   order.ID,
					EventType: event.Type,
					EventID:   event.ID,
					AppliedAt: p.now(),
				},
				Notifications: step.notify,
				At:            p.now(),
			})
		})
		switch {
		case err == nil:
			p.afterCommit(ctx, res, event)
			return OutcomeApplied, nil
		case errors.Is(err, repositories.ErrEventAlreadyApplied):
			p.remember(ctx, order.ID, event)
			return OutcomeDuplicate, nil
		case errors.Is(err, repositories.ErrStaleState):
			if attempt > 1 {
				return OutcomeStale, nil
			}
			p.logger(ctx, "webhook.stale_state", map[string]any{
				"orderId":  order.ID,
				"eventId":  event.ID,
				"expected": string(expected.Status) + "/" + string(expected.PaymentStatus),
			})
			order, err = retry.Run(ctx, p.executor, "orders.get", func(ctx context.Context) (domain.Order, error) {
				return p.orders.FindByKey(ctx, domain.OrderIDKey(order.ID))
			})
			if err != nil {
				return "", fmt.Errorf("webhook: reload order: %w", err)
			}
		default:
			return "", fmt.Errorf("webhook: transition order %s: %w", order.ID, err)
		}
	}
}

func (p *webhookProcessor) afterCommit(ctx context.Context, res repositories.TransitionResult, event domain.PaymentEvent) {
	p.remember(ctx, res.Order.ID, event)
	if res.Previous.PaymentStatus != domain.PaymentStatusPaid && res.Order.PaymentStatus == domain.PaymentStatusPaid && p.dispatcher != nil {
		p.dispatcher.DispatchAsync(ctx, res.Order)
	}
}

func (p *webhookProcessor) remember(ctx context.Context, orderID string, event domain.PaymentEvent) {
	if p.cache == nil {
		return
	}
	if _, err := p.cache.Remember(ctx, orderID, string(event.Type), event.ID); err != nil && !errors.Is(err, cache.ErrDisabled) {
		p.logger(ctx, "webhook.cache_write_failed", map[string]any{"orderId": orderID, "error": err.Error()})
	}
}

func (p *webhookProcessor) archivePayload(ctx context.Context, event domain.PaymentEvent, payload []byte) {
	if p.archive == nil {
		return
	}
	at := event.Created
	if at.IsZero() {
		at = p.now()
	}
	data := append([]byte(nil), payload...)
	p.archiving.Add(1)
	go func() {
		defer p.archiving.Done()
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if _, err := p.archive.Store(archiveCtx, p.provider, event.ID, at, data); err != nil {
			p.logger(archiveCtx, "webhook.archive_failed", map[string]any{"eventId": event.ID, "error": err.Error()})
		}
	}()
}
