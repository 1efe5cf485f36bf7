package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	pfirestore "github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/firestore"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

// OrderRepository stores orders under orders/{id}. Order numbers and payment intents are kept
// unique by guard documents written in the same transaction as the order.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[domain.Order]
	numbers  *pfirestore.Collection[guardDocument]
	intents  *pfirestore.Collection[guardDocument]
}

var (
	_ repositories.OrderRepository    = (*OrderRepository)(nil)
	_ repositories.NotificationOutbox = (*OrderRepository)(nil)
)

// NewOrderRepository binds the order collections to provider.
func NewOrderRepository(provider *pfirestore.Provider) *OrderRepository {
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection(provider, ordersCollection, decodeOrder),
		numbers:  pfirestore.NewCollection[guardDocument](provider, orderNumbersCollection, nil),
		intents:  pfirestore.NewCollection[guardDocument](provider, intentsCollection, nil),
	}
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return toDomainOrder(snap.Ref.ID, doc), nil
}

// Create writes the order together with its guard documents.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	const op = "orders.create"
	if order.Version <= 0 {
		order.Version = 1
	}
	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	numberRef, err := r.numbers.Doc(ctx, order.Number)
	if err != nil {
		return err
	}
	var intentRef *firestore.DocumentRef
	if order.PaymentIntentID != "" {
		if intentRef, err = r.intents.Doc(ctx, order.PaymentIntentID); err != nil {
			return err
		}
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if taken, err := docExists(tx, numberRef); err != nil {
			return err
		} else if taken {
			return repositories.NewError(repositories.CodeDuplicateOrderNumber, op, fmt.Errorf("number %s taken", order.Number))
		}
		if intentRef != nil {
			if taken, err := docExists(tx, intentRef); err != nil {
				return err
			} else if taken {
				return repositories.NewError(repositories.CodeDuplicatePaymentIntent, op, nil)
			}
		}

		guard := guardDocument{OwnerID: order.ID, CreatedAt: order.CreatedAt.UTC()}
		if err := tx.Create(numberRef, guard); err != nil {
			return err
		}
		if intentRef != nil {
			if err := tx.Create(intentRef, guard); err != nil {
				return err
			}
		}
		return tx.Create(orderRef, fromDomainOrder(order))
	})
	if pfirestore.IsAlreadyExists(err) {
		// Lost a race on the number guard between read and commit.
		return repositories.NewError(repositories.CodeDuplicateOrderNumber, op, err)
	}
	return mapError(op, err)
}

// FindByKey loads an order by id, or by number through its guard document.
func (r *OrderRepository) FindByKey(ctx context.Context, key domain.OrderKey) (domain.Order, error) {
	const op = "orders.find"
	ref, err := r.resolve(ctx, nil, key)
	if err != nil {
		return domain.Order{}, mapError(op, err)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Order{}, mapError(op, err)
	}
	order, err := decodeOrder(snap)
	if err != nil {
		return domain.Order{}, err
	}
	if !key.Matches(order) {
		return domain.Order{}, repositories.NewError(repositories.CodeNotFound, op, nil)
	}
	return order, nil
}

// FindByPaymentIntent follows the intent guard to its order.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, intentID string) (domain.Order, error) {
	const op = "orders.find_by_intent"
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Order{}, repositories.NewError(repositories.CodeNotFound, op, nil)
	}
	guard, err := r.intents.Get(ctx, intentID)
	if err != nil {
		return domain.Order{}, mapError(op, err)
	}
	order, err := r.orders.Get(ctx, guard.OwnerID)
	if err != nil {
		return domain.Order{}, mapError(op, err)
	}
	return order, nil
}

// AttachPaymentIntent binds intentID to the order once, reserving the intent guard.
func (r *OrderRepository) AttachPaymentIntent(ctx context.Context, orderID, intentID string) (domain.Order, error) {
	const op = "orders.attach_intent"
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Order{}, fmt.Errorf("%s: intent id is required", op)
	}
	orderRef, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	intentRef, err := r.intents.Doc(ctx, intentID)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		order, err := r.orders.GetTx(tx, orderRef)
		if err != nil {
			return err
		}
		guardSnap, err := tx.Get(intentRef)
		if err != nil && !pfirestore.IsNotFound(err) {
			return err
		}
		if order.PaymentIntentID == intentID {
			updated = order
			return nil
		}
		if order.PaymentIntentID != "" {
			return repositories.NewError(repositories.CodeDuplicatePaymentIntent, op,
				fmt.Errorf("order %s already bound to %s", order.ID, order.PaymentIntentID))
		}
		if guardSnap != nil && guardSnap.Exists() {
			return repositories.NewError(repositories.CodeDuplicatePaymentIntent, op,
				fmt.Errorf("intent %s bound to another order", intentID))
		}

		now := time.Now().UTC()
		order.PaymentIntentID = intentID
		order.Version++
		order.UpdatedAt = now
		if err := tx.Create(intentRef, guardDocument{OwnerID: order.ID, CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "paymentIntentId", Value: intentID},
			{Path: "version", Value: order.Version},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if pfirestore.IsAlreadyExists(err) {
		return domain.Order{}, repositories.NewError(repositories.CodeDuplicatePaymentIntent, op, err)
	}
	if err != nil {
		return domain.Order{}, mapError(op, err)
	}
	return updated, nil
}

// TransitionStatus runs the compare-and-swap inside a transaction. Every read happens before the
// first write, as Firestore requires.
func (r *OrderRepository) TransitionStatus(ctx context.Context, req repositories.TransitionRequest) (repositories.TransitionResult, error) {
	const op = "orders.transition"
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	var result repositories.TransitionResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.resolve(ctx, tx, req.Key)
		if err != nil {
			return err
		}
		order, err := r.orders.GetTx(tx, orderRef)
		if err != nil {
			return err
		}
		if !req.Key.Matches(order) {
			return repositories.NewError(repositories.CodeNotFound, op, nil)
		}

		var ledgerRef *firestore.DocumentRef
		if req.Event != nil {
			ledgerRef = orderRef.Collection(appliedEventsCollection).Doc(req.Event.LedgerID())
			if applied, err := docExists(tx, ledgerRef); err != nil {
				return err
			} else if applied {
				return repositories.NewError(repositories.CodeEventAlreadyApplied, op, nil)
			}
		}

		previous := order.State()
		if req.Expected != nil && *req.Expected != previous {
			return repositories.NewError(repositories.CodeStaleState, op,
				fmt.Errorf("expected %s/%s, found %s/%s", req.Expected.Status, req.Expected.PaymentStatus, previous.Status, previous.PaymentStatus))
		}

		var missing []*firestore.DocumentRef
		for _, kind := range req.Notifications {
			ref := orderRef.Collection(notificationsCollection).Doc(string(kind))
			exists, err := docExists(tx, ref)
			if err != nil {
				return err
			}
			if !exists {
				missing = append(missing, ref)
			}
		}

		entry := domain.StatusHistoryEntry{
			Status:        req.Next.Status,
			PaymentStatus: req.Next.PaymentStatus,
			Note:          req.Note,
			At:            at,
		}
		if req.Event != nil {
			entry.EventID = req.Event.EventID
		}
		order.Status = req.Next.Status
		order.PaymentStatus = req.Next.PaymentStatus
		order.StatusHistory = append(order.StatusHistory, entry)
		order.Version++
		order.UpdatedAt = at

		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "status", Value: string(order.Status)},
			{Path: "paymentStatus", Value: string(order.PaymentStatus)},
			{Path: "statusHistory", Value: historyDocuments(order.StatusHistory)},
			{Path: "version", Value: order.Version},
			{Path: "updatedAt", Value: at},
		}); err != nil {
			return err
		}
		if ledgerRef != nil {
			if err := tx.Create(ledgerRef, appliedEventDocument{
				EventType: string(req.Event.EventType),
				EventID:   req.Event.EventID,
				AppliedAt: at,
			}); err != nil {
				return err
			}
		}
		for _, ref := range missing {
			if err := tx.Create(ref, notificationDocument{
				Kind:      ref.ID,
				State:     string(domain.NotificationPending),
				UpdatedAt: at,
			}); err != nil {
				return err
			}
		}

		result = repositories.TransitionResult{Order: order, Previous: previous}
		return nil
	})
	if err != nil {
		return repositories.TransitionResult{}, mapError(op, err)
	}
	return result, nil
}

// ListAwaitingPayment queries pending card orders created before olderThan. Orders without an
// intent are skipped after the query, so fewer than limit results may be returned.
func (r *OrderRepository) ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	orders, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentStatus", "==", string(domain.PaymentStatusPending)).
			Where("status", "==", string(domain.OrderStatusPending)).
			Where("paymentMethod", "==", string(domain.PaymentMethodCard)).
			Where("createdAt", "<", olderThan.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, mapError("orders.list_awaiting_payment", err)
	}
	out := orders[:0]
	for _, order := range orders {
		if order.PaymentIntentID != "" {
			out = append(out, order)
		}
	}
	return out, nil
}

// MarkNotification merges the outcome into orders/{id}/notifications/{kind}.
func (r *OrderRepository) MarkNotification(ctx context.Context, record domain.NotificationRecord) error {
	const op = "notifications.mark"
	orderRef, err := r.orders.Doc(ctx, record.OrderID)
	if err != nil {
		return err
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err = orderRef.Collection(notificationsCollection).Doc(string(record.Kind)).Set(ctx, notificationDocument{
		Kind:      string(record.Kind),
		State:     string(record.State),
		MessageID: record.MessageID,
		Error:     record.Error,
		UpdatedAt: updatedAt.UTC(),
	})
	return mapError(op, err)
}

// ListNotifications returns the outbox markers of an order.
func (r *OrderRepository) ListNotifications(ctx context.Context, orderID string) ([]domain.NotificationRecord, error) {
	const op = "notifications.list"
	orderRef, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return nil, err
	}
	snaps, err := orderRef.Collection(notificationsCollection).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, mapError(op, err)
	}
	records := make([]domain.NotificationRecord, 0, len(snaps))
	for _, snap := range snaps {
		var doc notificationDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode %s: %w", op, snap.Ref.ID, err)
		}
		records = append(records, domain.NotificationRecord{
			OrderID:   orderID,
			Kind:      domain.NotificationKind(snap.Ref.ID),
			State:     domain.NotificationState(doc.State),
			MessageID: doc.MessageID,
			Error:     doc.Error,
			UpdatedAt: doc.UpdatedAt,
		})
	}
	return records, nil
}

// resolve maps a key onto the order document, reading the number guard for number keys.
func (r *OrderRepository) resolve(ctx context.Context, tx *firestore.Transaction, key domain.OrderKey) (*firestore.DocumentRef, error) {
	switch {
	case !key.Valid():
		return nil, repositories.NewError(repositories.CodeNotFound, "orders.resolve", domain.ErrInvalidOrderKey)
	case key.Kind == domain.KeyKindID:
		return r.orders.Doc(ctx, key.Value)
	}

	var (
		guard guardDocument
		err   error
	)
	if tx != nil {
		ref, refErr := r.numbers.Doc(ctx, key.Value)
		if refErr != nil {
			return nil, refErr
		}
		guard, err = r.numbers.GetTx(tx, ref)
	} else {
		guard, err = r.numbers.Get(ctx, key.Value)
	}
	if err != nil {
		return nil, err
	}
	return r.orders.Doc(ctx, guard.OwnerID)
}

func historyDocuments(entries []domain.StatusHistoryEntry) []historyDocument {
	out := make([]historyDocument, 0, len(entries))
	for _, entry := range entries {
		out = append(out, fromDomainHistory(entry))
	}
	return out
}

func docExists(tx *firestore.Transaction, ref *firestore.DocumentRef) (bool, error) {
	snap, err := tx.Get(ref)
	if pfirestore.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return snap.Exists(), nil
}
