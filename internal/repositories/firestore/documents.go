package firestore

import (
	"time"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
)

type orderDocument struct {
	Number          string            `firestore:"number"`
	UserID          string            `firestore:"userId"`
	Contact         contactDocument   `firestore:"contact"`
	ShippingAddress addressDocument   `firestore:"shippingAddress"`
	Items           []itemDocument    `firestore:"items"`
	Currency        string            `firestore:"currency"`
	Locale          string            `firestore:"locale,omitempty"`
	PaymentMethod   string            `firestore:"paymentMethod"`
	Totals          totalsDocument    `firestore:"totals"`
	Status          string            `firestore:"status"`
	PaymentStatus   string            `firestore:"paymentStatus"`
	PaymentIntentID string            `firestore:"paymentIntentId"`
	StatusHistory   []historyDocument `firestore:"statusHistory"`
	Version         int64             `firestore:"version"`
	CreatedAt       time.Time         `firestore:"createdAt"`
	UpdatedAt       time.Time         `firestore:"updatedAt"`
}

type contactDocument struct {
	Email string `firestore:"email"`
	Name  string `firestore:"name"`
	Phone string `firestore:"phone,omitempty"`
}

type addressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type itemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int64  `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Total     int64  `firestore:"total"`
}

type totalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Discount int64 `firestore:"discount"`
	Total    int64 `firestore:"total"`
}

type historyDocument struct {
	Status        string    `firestore:"status"`
	PaymentStatus string    `firestore:"paymentStatus"`
	Note          string    `firestore:"note,omitempty"`
	EventID       string    `firestore:"eventId,omitempty"`
	At            time.Time `firestore:"at"`
}

// guardDocument reserves a unique value (order number, intent id, email) for one owner.
type guardDocument struct {
	OwnerID   string    `firestore:"ownerId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type appliedEventDocument struct {
	EventType string    `firestore:"eventType"`
	EventID   string    `firestore:"eventId"`
	AppliedAt time.Time `firestore:"appliedAt"`
}

type notificationDocument struct {
	Kind      string    `firestore:"kind"`
	State     string    `firestore:"state"`
	MessageID string    `firestore:"messageId,omitempty"`
	Error     string    `firestore:"error,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type userDocument struct {
	Email          string    `firestore:"email"`
	DisplayName    string    `firestore:"displayName"`
	Guest          bool      `firestore:"guest"`
	CredentialHash []byte    `firestore:"credentialHash,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:          order.Number,
		UserID:          order.UserID,
		Contact:         contactDocument{Email: order.Contact.Email, Name: order.Contact.Name, Phone: order.Contact.Phone},
		ShippingAddress: addressDocument(order.ShippingAddress),
		Currency:        order.Currency,
		Locale:          order.Locale,
		PaymentMethod:   string(order.PaymentMethod),
		Totals: totalsDocument{
			Subtotal: order.Totals.Subtotal.Int64(),
			Shipping: order.Totals.Shipping.Int64(),
			Tax:      order.Totals.Tax.Int64(),
			Discount: order.Totals.Discount.Int64(),
			Total:    order.Totals.Total.Int64(),
		},
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentIntentID: order.PaymentIntentID,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, itemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  int64(item.Quantity),
			UnitPrice: item.UnitPrice.Int64(),
			Total:     item.Total.Int64(),
		})
	}
	doc.StatusHistory = historyDocuments(order.StatusHistory)
	return doc
}

func fromDomainHistory(entry domain.StatusHistoryEntry) historyDocument {
	return historyDocument{
		Status:        string(entry.Status),
		PaymentStatus: string(entry.PaymentStatus),
		Note:          entry.Note,
		EventID:       entry.EventID,
		At:            entry.At.UTC(),
	}
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		Number:          doc.Number,
		UserID:          doc.UserID,
		Contact:         domain.Contact{Email: doc.Contact.Email, Name: doc.Contact.Name, Phone: doc.Contact.Phone},
		ShippingAddress: domain.Address(doc.ShippingAddress),
		Currency:        doc.Currency,
		Locale:          doc.Locale,
		PaymentMethod:   domain.PaymentMethod(doc.PaymentMethod),
		Totals: domain.Totals{
			Subtotal: domain.Money(doc.Totals.Subtotal),
			Shipping: domain.Money(doc.Totals.Shipping),
			Tax:      domain.Money(doc.Totals.Tax),
			Discount: domain.Money(doc.Totals.Discount),
			Total:    domain.Money(doc.Totals.Total),
		},
		Status:          domain.OrderStatus(doc.Status),
		PaymentStatus:   domain.PaymentStatus(doc.PaymentStatus),
		PaymentIntentID: doc.PaymentIntentID,
		Version:         doc.Version,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  int(item.Quantity),
			UnitPrice: domain.Money(item.UnitPrice),
			Total:     domain.Money(item.Total),
		})
	}
	for _, entry := range doc.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
			Status:        domain.OrderStatus(entry.Status),
			PaymentStatus: domain.PaymentStatus(entry.PaymentStatus),
			Note:          entry.Note,
			EventID:       entry.EventID,
			At:            entry.At,
		})
	}
	return order
}
