package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/payments"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

const (
	defaultSweepAge   = 15 * time.Minute
	defaultSweepLimit = 100

	sweepOutcomePending  = "pending"
	sweepOutcomeWouldSet = "would_apply"
	sweepOutcomeError    = "error"
	reconcileEventPrefix = "reconcile:"
)

// ReconcileServiceDeps wires the reconciliation sweep.
type ReconcileServiceDeps struct {
	Orders    repositories.OrderRepository
	Gateway   payments.Gateway
	Processor WebhookProcessor
	Executor  *retry.Executor
	OlderThan time.Duration
	Limit     int
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type reconcileService struct {
	orders    repositories.OrderRepository
	gateway   payments.Gateway
	processor WebhookProcessor
	executor  *retry.Executor
	olderThan time.Duration
	limit     int
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

var _ ReconcileService = (*reconcileService)(nil)

// NewReconcileService constructs the sweep that settles orders whose webhook never arrived.
func NewReconcileService(deps ReconcileServiceDeps) (ReconcileService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconcile service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("reconcile service: gateway is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("reconcile service: webhook processor is required")
	}
	executor := deps.Executor
	if executor == nil {
		executor = retry.New(retry.Config{})
	}
	olderThan := deps.OlderThan
	if olderThan <= 0 {
		olderThan = defaultSweepAge
	}
	limit := deps.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &reconcileService{
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		processor: deps.Processor,
		executor:  executor,
		olderThan: olderThan,
		limit:     limit,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Sweep looks up the provider intent of every order still awaiting payment and applies final
// outcomes through the webhook path, so the ledger and the compare-and-swap still hold.
func (s *reconcileService) Sweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	olderThan := opts.OlderThan
	if olderThan <= 0 {
		olderThan = s.olderThan
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.limit
	}

	cutoff := s.now().Add(-olderThan)
	orders, err := retry.Run(ctx, s.executor, "orders.list_awaiting_payment", func(ctx context.Context) ([]domain.Order, error) {
		return s.orders.ListAwaitingPayment(ctx, cutoff, limit)
	})
	if err != nil {
		return SweepReport{}, fmt.Errorf("reconcile: list orders: %w", err)
	}

	report := SweepReport{Items: make([]SweepItem, 0, len(orders))}
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		item := s.reconcile(ctx, order, opts.DryRun)
		switch item.Outcome {
		case string(OutcomeApplied):
			report.Applied++
		case sweepOutcomePending:
			report.Pending++
		case sweepOutcomeError:
			report.Errors++
		}
		report.Items = append(report.Items, item)
	}

	s.logger(ctx, "reconcile.swept", map[string]any{
		"scanned": report.Scanned,
		"applied": report.Applied,
		"pending": report.Pending,
		"errors":  report.Errors,
		"dryRun":  opts.DryRun,
	})
	return report, nil
}

func (s *reconcileService) reconcile(ctx context.Context, order domain.Order, dryRun bool) SweepItem {
	item := SweepItem{OrderID: order.ID, OrderNumber: order.Number, IntentID: order.PaymentIntentID}

	intent, err := retry.Run(ctx, s.executor, "payments.lookup_intent", func(ctx context.Context) (payments.Intent, error) {
		return s.gateway.LookupIntent(ctx, order.PaymentIntentID)
	})
	if err != nil {
		item.Outcome = sweepOutcomeError
		item.Error = err.Error()
		s.logger(ctx, "reconcile.lookup_failed", map[string]any{"orderId": order.ID, "intentId": order.PaymentIntentID, "error": err.Error()})
		return item
	}
	item.IntentStatus = string(intent.Status)

	var eventType domain.PaymentEventType
	switch intent.Status {
	case payments.IntentStatusSucceeded:
		eventType = domain.PaymentEventIntentSucceeded
	case payments.IntentStatusFailed:
		eventType = domain.PaymentEventIntentFailed
	default:
		item.Outcome = sweepOutcomePending
		return item
	}
	if dryRun {
		item.Outcome = sweepOutcomeWouldSet
		return item
	}

	result, err := s.processor.Apply(ctx, domain.PaymentEvent{
		ID:            ReconcileEventID(intent.ID, intent.Status),
		Type:          eventType,
		IntentID:      intent.ID,
		OrderRef:      order.ID,
		FailureReason: intent.FailureReason,
		Created:       s.now(),
	})
	if err != nil {
		item.Outcome = sweepOutcomeError
		item.Error = err.Error()
		s.logger(ctx, "reconcile.apply_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return item
	}
	item.Outcome = string(result.Outcome)
	return item
}

// ReconcileEventID is the synthetic ledger id of a sweep-applied outcome. Repeated sweeps of the
// same intent reuse it, so the ledger rejects them.
func ReconcileEventID(intentID string, status payments.IntentStatus) string {
	return reconcileEventPrefix + intentID + ":" + string(status)
}
