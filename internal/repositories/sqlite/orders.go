package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

// OrderRepository persists orders, their history, the applied-event ledger and the notification
// outbox.
type OrderRepository struct {
	db *sql.DB
}

var (
	_ repositories.OrderRepository    = (*OrderRepository)(nil)
	_ repositories.NotificationOutbox = (*OrderRepository)(nil)
)

// orderDetails holds the parts of an order never used in a WHERE clause.
type orderDetails struct {
	Contact         contactJSON `json:"contact"`
	ShippingAddress addressJSON `json:"shippingAddress"`
	Items           []itemJSON  `json:"items"`
	Totals          totalsJSON  `json:"totals"`
	Locale          string      `json:"locale,omitempty"`
}

type contactJSON struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type addressJSON struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type itemJSON struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Total     int64  `json:"total"`
}

type totalsJSON struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

const orderColumns = `id, number, user_id, status, payment_status, payment_method,
	COALESCE(payment_intent_id, ''), currency, details, version, created_at, updated_at`

// Create inserts the order and its initial history in one transaction.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	const op = "orders.create"
	details, err := encodeDetails(order)
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	version := order.Version
	if version <= 0 {
		version = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, number, user_id, status, payment_status, payment_method,
			payment_intent_id, currency, total_minor, details, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.Number, order.UserID, string(order.Status), string(order.PaymentStatus),
		string(order.PaymentMethod), nullable(order.PaymentIntentID), order.Currency,
		order.Totals.Total.Int64(), details, version,
		formatTime(order.CreatedAt), formatTime(order.UpdatedAt),
	)
	switch {
	case uniqueViolation(err, "orders.number"), uniqueViolation(err, "orders.id"):
		return repositories.NewError(repositories.CodeDuplicateOrderNumber, op, err)
	case uniqueViolation(err, "orders.payment_intent_id"):
		return repositories.NewError(repositories.CodeDuplicatePaymentIntent, op, err)
	case err != nil:
		return wrapError(op, err)
	}

	for i, entry := range order.StatusHistory {
		if err := insertHistory(ctx, tx, order.ID, i+1, entry); err != nil {
			return wrapError(op, err)
		}
	}
	return wrapError(op, tx.Commit())
}

// FindByKey loads an order by id or by number, never crossing the two.
func (r *OrderRepository) FindByKey(ctx context.Context, key domain.OrderKey) (domain.Order, error) {
	order, err := loadOrder(ctx, r.db, key)
	return order, wrapError("orders.find", err)
}

// FindByPaymentIntent loads the order bound to a provider intent.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, intentID string) (domain.Order, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Order{}, repositories.NewError(repositories.CodeNotFound, "orders.find_by_intent", nil)
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = ?`, intentID)
	order, err := scanOrder(row)
	if err == nil {
		order.StatusHistory, err = loadHistory(ctx, r.db, order.ID)
	}
	return order, wrapError("orders.find_by_intent", err)
}

// AttachPaymentIntent sets the intent id once. Re-attaching the same id is a no-op.
func (r *OrderRepository) AttachPaymentIntent(ctx context.Context, orderID, intentID string) (domain.Order, error) {
	const op = "orders.attach_intent"
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Order{}, fmt.Errorf("sqlite: %s: intent id is required", op)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := loadOrder(ctx, tx, domain.OrderIDKey(orderID))
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	if order.PaymentIntentID == intentID {
		return order, nil
	}
	if order.PaymentIntentID != "" {
		return domain.Order{}, repositories.NewError(repositories.CodeDuplicatePaymentIntent, op,
			fmt.Errorf("order %s already bound to %s", order.ID, order.PaymentIntentID))
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET payment_intent_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND payment_intent_id IS NULL`,
		intentID, formatTime(now), order.ID)
	if uniqueViolation(err, "orders.payment_intent_id") {
		return domain.Order{}, repositories.NewError(repositories.CodeDuplicatePaymentIntent, op, err)
	}
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return domain.Order{}, repositories.NewError(repositories.CodeDuplicatePaymentIntent, op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, wrapError(op, err)
	}

	order.PaymentIntentID = intentID
	order.Version++
	order.UpdatedAt = now
	return order, nil
}

// TransitionStatus applies a conditional state change. The ledger is consulted before the state
// so a redelivered event reports ErrEventAlreadyApplied even after the order moved on.
func (r *OrderRepository) TransitionStatus(ctx context.Context, req repositories.TransitionRequest) (repositories.TransitionResult, error) {
	const op = "orders.transition"
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return repositories.TransitionResult{}, wrapError(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := loadOrder(ctx, tx, req.Key)
	if err != nil {
		return repositories.TransitionResult{}, wrapError(op, err)
	}
	previous := order.State()

	if req.Event != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO applied_events (order_id, event_type, event_id, applied_at) VALUES (?, ?, ?, ?)`,
			order.ID, string(req.Event.EventType), req.Event.EventID, formatTime(at))
		if uniqueViolation(err, "") {
			return repositories.TransitionResult{}, repositories.NewError(repositories.CodeEventAlreadyApplied, op, nil)
		}
		if err != nil {
			return repositories.TransitionResult{}, wrapError(op, err)
		}
	}

	expected := previous
	if req.Expected != nil {
		if *req.Expected != previous {
			return repositories.TransitionResult{}, repositories.NewError(repositories.CodeStaleState, op,
				fmt.Errorf("expected %s/%s, found %s/%s", req.Expected.Status, req.Expected.PaymentStatus, previous.Status, previous.PaymentStatus))
		}
		expected = *req.Expected
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, payment_status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND payment_status = ?`,
		string(req.Next.Status), string(req.Next.PaymentStatus), formatTime(at),
		order.ID, string(expected.Status), string(expected.PaymentStatus))
	if err != nil {
		return repositories.TransitionResult{}, wrapError(op, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return repositories.TransitionResult{}, repositories.NewError(repositories.CodeStaleState, op, err)
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
	if err := insertHistory(ctx, tx, order.ID, len(order.StatusHistory)+1, entry); err != nil {
		return repositories.TransitionResult{}, wrapError(op, err)
	}

	for _, kind := range req.Notifications {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_notifications (order_id, kind, state, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (order_id, kind) DO NOTHING`,
			order.ID, string(kind), string(domain.NotificationPending), formatTime(at))
		if err != nil {
			return repositories.TransitionResult{}, wrapError(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return repositories.TransitionResult{}, wrapError(op, err)
	}

	order.Status = req.Next.Status
	order.PaymentStatus = req.Next.PaymentStatus
	order.StatusHistory = append(order.StatusHistory, entry)
	order.Version++
	order.UpdatedAt = at
	return repositories.TransitionResult{Order: order, Previous: previous}, nil
}

// ListAwaitingPayment returns card orders with an intent whose payment is still pending.
func (r *OrderRepository) ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]domain.Order, error) {
	const op = "orders.list_awaiting_payment"
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE payment_status = ? AND status = ? AND payment_method = ?
		  AND payment_intent_id IS NOT NULL AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`,
		string(domain.PaymentStatusPending), string(domain.OrderStatusPending), string(domain.PaymentMethodCard),
		formatTime(olderThan), limit)
	if err != nil {
		return nil, wrapError(op, err)
	}
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, wrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Close(); err != nil {
		return nil, wrapError(op, err)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return orders, nil
}

// MarkNotification upserts the outbox marker for one notification.
func (r *OrderRepository) MarkNotification(ctx context.Context, record domain.NotificationRecord) error {
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_notifications (order_id, kind, state, message_id, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id, kind) DO UPDATE SET
			state = excluded.state, message_id = excluded.message_id,
			error = excluded.error, updated_at = excluded.updated_at`,
		record.OrderID, string(record.Kind), string(record.State), record.MessageID, record.Error, formatTime(updatedAt))
	return wrapError("notifications.mark", err)
}

// ListNotifications returns the outbox markers of an order ordered by kind.
func (r *OrderRepository) ListNotifications(ctx context.Context, orderID string) ([]domain.NotificationRecord, error) {
	const op = "notifications.list"
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, kind, state, message_id, error, updated_at
		FROM order_notifications WHERE order_id = ? ORDER BY kind`, orderID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var out []domain.NotificationRecord
	for rows.Next() {
		var (
			rec       domain.NotificationRecord
			kind      string
			state     string
			updatedAt string
		)
		if err := rows.Scan(&rec.OrderID, &kind, &state, &rec.MessageID, &rec.Error, &updatedAt); err != nil {
			return nil, wrapError(op, err)
		}
		rec.Kind = domain.NotificationKind(kind)
		rec.State = domain.NotificationState(state)
		if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, wrapError(op, rows.Err())
}

func loadOrder(ctx context.Context, q queryer, key domain.OrderKey) (domain.Order, error) {
	var column string
	switch key.Kind {
	case domain.KeyKindID:
		column = "id"
	case domain.KeyKindNumber:
		column = "number"
	}
	if column == "" || key.Value == "" {
		return domain.Order{}, repositories.NewError(repositories.CodeNotFound, "orders.find", domain.ErrInvalidOrderKey)
	}

	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = ?`, key.Value))
	if err != nil {
		return domain.Order{}, err
	}
	order.StatusHistory, err = loadHistory(ctx, q, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func loadHistory(ctx context.Context, q queryer, orderID string) ([]domain.StatusHistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT status, payment_status, note, event_id, at FROM order_history
		WHERE order_id = ? ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.StatusHistoryEntry
	for rows.Next() {
		var (
			entry         domain.StatusHistoryEntry
			status        string
			paymentStatus string
			at            string
		)
		if err := rows.Scan(&status, &paymentStatus, &entry.Note, &entry.EventID, &at); err != nil {
			return nil, err
		}
		entry.Status = domain.OrderStatus(status)
		entry.PaymentStatus = domain.PaymentStatus(paymentStatus)
		if entry.At, err = parseTime(at); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

func insertHistory(ctx context.Context, tx *sql.Tx, orderID string, seq int, entry domain.StatusHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_history (order_id, seq, status, payment_status, note, event_id, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		orderID, seq, string(entry.Status), string(entry.PaymentStatus), entry.Note, entry.EventID, formatTime(entry.At))
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (domain.Order, error) {
	var (
		order                                  domain.Order
		status, paymentStatus, method, details string
		createdAt, updatedAt                   string
	)
	err := row.Scan(&order.ID, &order.Number, &order.UserID, &status, &paymentStatus, &method,
		&order.PaymentIntentID, &order.Currency, &details, &order.Version, &createdAt, &updatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.PaymentMethod = domain.PaymentMethod(method)
	if err := decodeDetails(details, &order); err != nil {
		return domain.Order{}, err
	}
	if order.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Order{}, err
	}
	if order.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func encodeDetails(order domain.Order) (string, error) {
	doc := orderDetails{
		Contact: contactJSON{Email: order.Contact.Email, Name: order.Contact.Name, Phone: order.Contact.Phone},
		ShippingAddress: addressJSON{
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		Totals: totalsJSON{
			Subtotal: order.Totals.Subtotal.Int64(),
			Shipping: order.Totals.Shipping.Int64(),
			Tax:      order.Totals.Tax.Int64(),
			Discount: order.Totals.Discount.Int64(),
			Total:    order.Totals.Total.Int64(),
		},
		Locale: order.Locale,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, itemJSON{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Int64(),
			Total:     item.Total.Int64(),
		})
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeDetails(raw string, order *domain.Order) error {
	var doc orderDetails
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("sqlite: decode order %s: %w", order.ID, err)
	}
	order.Contact = domain.Contact{Email: doc.Contact.Email, Name: doc.Contact.Name, Phone: doc.Contact.Phone}
	order.ShippingAddress = domain.Address{
		Line1:      doc.ShippingAddress.Line1,
		Line2:      doc.ShippingAddress.Line2,
		City:       doc.ShippingAddress.City,
		State:      doc.ShippingAddress.State,
		PostalCode: doc.ShippingAddress.PostalCode,
		Country:    doc.ShippingAddress.Country,
	}
	order.Totals = domain.Totals{
		Subtotal: domain.Money(doc.Totals.Subtotal),
		Shipping: domain.Money(doc.Totals.Shipping),
		Tax:      domain.Money(doc.Totals.Tax),
		Discount: domain.Money(doc.Totals.Discount),
		Total:    domain.Money(doc.Totals.Total),
	}
	order.Locale = doc.Locale
	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: domain.Money(item.UnitPrice),
			Total:     domain.Money(item.Total),
		})
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
