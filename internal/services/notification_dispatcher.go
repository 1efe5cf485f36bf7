package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/observability"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

const defaultDispatchTimeout = 15 * time.Second

var errNoRecipient = errors.New("notifications: no recipient")

// NotificationDispatcherDeps wires the dispatcher. Outbox is optional.
type NotificationDispatcherDeps struct {
	Sender            NotificationSender
	Outbox            repositories.NotificationOutbox
	Executor          *retry.Executor
	InternalRecipient string
	Timeout           time.Duration
	Meter             metric.Meter
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type notificationDispatcher struct {
	sender   NotificationSender
	outbox   repositories.NotificationOutbox
	executor *retry.Executor
	internal string
	timeout  time.Duration
	sent     observability.Counter
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	inFlight sync.WaitGroup
}

var _ NotificationDispatcher = (*notificationDispatcher)(nil)

// NewNotificationDispatcher constructs the confirmation dispatcher.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Sender == nil {
		return nil, errors.New("notification dispatcher: sender is required")
	}
	executor := deps.Executor
	if executor == nil {
		executor = retry.New(retry.Config{})
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationDispatcher{
		sender:   deps.Sender,
		outbox:   deps.Outbox,
		executor: executor,
		internal: strings.TrimSpace(deps.InternalRecipient),
		timeout:  timeout,
		sent:     observability.NewCounter(deps.Meter, "notifications.sent", "Order notifications by kind and outcome."),
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// Dispatch sends the customer and the internal notification independently. Outcomes are recorded
// in the outbox; failures are logged and never returned.
func (d *notificationDispatcher) Dispatch(ctx context.Context, order domain.Order) {
	delivered := d.alreadySent(ctx, order.ID)
	snapshot := NewOrderSnapshot(order)
	for _, kind := range domain.ConfirmationNotifications {
		if delivered[kind] {
			d.logger(ctx, "notifications.skipped", map[string]any{"orderId": order.ID, "kind": string(kind)})
			continue
		}
		d.send(ctx, kind, d.recipient(kind, order), snapshot)
	}
}

// DispatchAsync runs Dispatch in the background, detached from the caller's cancellation.
func (d *notificationDispatcher) DispatchAsync(ctx context.Context, order domain.Order) {
	d.inFlight.Add(1)
	go func() {
		defer d.inFlight.Done()
		dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.Dispatch(dispatchCtx, order)
	}()
}

func (d *notificationDispatcher) Wait() {
	d.inFlight.Wait()
}

func (d *notificationDispatcher) recipient(kind domain.NotificationKind, order domain.Order) string {
	if kind == domain.NotificationInternalNewOrder {
		return d.internal
	}
	return strings.TrimSpace(order.Contact.Email)
}

func (d *notificationDispatcher) send(ctx context.Context, kind domain.NotificationKind, recipient string, snapshot OrderSnapshot) {
	record := domain.NotificationRecord{OrderID: snapshot.OrderID, Kind: kind}

	var (
		result SendResult
		err    error
	)
	if recipient == "" {
		err = errNoRecipient
	} else {
		result, err = d.sender.Send(ctx, kind, recipient, snapshot)
	}

	if err != nil {
		record.State = domain.NotificationFailed
		record.Error = err.Error()
		d.sent.Inc(ctx, "kind", string(kind), "outcome", "failed")
		d.logger(ctx, "notifications.send_failed", map[string]any{
			"orderId": snapshot.OrderID,
			"kind":    string(kind),
			"error":   err.Error(),
		})
	} else {
		record.State = domain.NotificationSent
		record.MessageID = result.MessageID
		d.sent.Inc(ctx, "kind", string(kind), "outcome", "sent")
		d.logger(ctx, "notifications.sent", map[string]any{
			"orderId":   snapshot.OrderID,
			"kind":      string(kind),
			"messageId": result.MessageID,
		})
	}
	d.mark(ctx, record)
}

func (d *notificationDispatcher) mark(ctx context.Context, record domain.NotificationRecord) {
	if d.outbox == nil {
		return
	}
	record.UpdatedAt = d.now()
	err := d.executor.Do(ctx, "notifications.mark", func(ctx context.Context) error {
		return d.outbox.MarkNotification(ctx, record)
	})
	if err != nil {
		d.logger(ctx, "notifications.mark_failed", map[string]any{
			"orderId": record.OrderID,
			"kind":    string(record.Kind),
			"error":   err.Error(),
		})
	}
}

func (d *notificationDispatcher) alreadySent(ctx context.Context, orderID string) map[domain.NotificationKind]bool {
	if d.outbox == nil {
		return nil
	}
	records, err := d.outbox.ListNotifications(ctx, orderID)
	if err != nil {
		d.logger(ctx, "notifications.list_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return nil
	}
	sent := make(map[domain.NotificationKind]bool, len(records))
	for _, record := range records {
		if record.State == domain.NotificationSent {
			sent[record.Kind] = true
		}
	}
	return sent
}

// LogSender writes notifications to the log instead of a transport.
type LogSender struct {
	Logger func(ctx context.Context, event string, fields map[string]any)
}

var _ NotificationSender = LogSender{}

// Send logs the notification and returns a synthetic message id.
func (s LogSender) Send(ctx context.Context, kind domain.NotificationKind, recipient string, order OrderSnapshot) (SendResult, error) {
	id := "log-" + ulid.Make().String()
	if s.Logger != nil {
		s.Logger(ctx, "notifications.logged", map[string]any{
			"messageId":   id,
			"kind":        string(kind),
			"recipient":   recipient,
			"orderId":     order.OrderID,
			"orderNumber": order.OrderNumber,
			"total":       order.Total,
		})
	}
	return SendResult{MessageID: id}, nil
}
