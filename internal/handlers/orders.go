package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/httpx"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

const maxOrderRequestBody = 64 * 1024

// OrderHandlers exposes order creation and lookup.
type OrderHandlers struct {
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// NewOrderHandlers constructs order handlers. The idempotency middleware guards order creation.
func NewOrderHandlers(orders services.OrderService, idempotency func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{
		orders:      orders,
		idempotency: idempotency,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	create := r
	if h.idempotency != nil {
		create = r.With(h.idempotency)
	}
	create.Post("/", h.createOrder)
	r.Get("/{orderKey}", h.getOrder)
}

type contactRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type cartLineRequest struct {
	ProductID string      `json:"productId"`
	Name      string      `json:"name"`
	Quantity  int         `json:"quantity"`
	UnitPrice amountField `json:"unitPrice"`
}

type createOrderRequest struct {
	UserID          string            `json:"userId"`
	Contact         contactRequest    `json:"contact"`
	ShippingAddress addressRequest    `json:"shippingAddress"`
	Items           []cartLineRequest `json:"items"`
	PaymentMethod   string            `json:"paymentMethod"`
	Currency        string            `json:"currency"`
	Discount        amountField       `json:"discount"`
	Locale          string            `json:"locale"`
}

type createOrderResponse struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"orderNumber"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
}

type totalsPayload struct {
	Subtotal string `json:"subtotal"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Total     string `json:"total"`
}

type historyPayload struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Note          string `json:"note,omitempty"`
	EventID       string `json:"eventId,omitempty"`
	At            string `json:"at"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"orderNumber"`
	Status          string             `json:"status"`
	PaymentStatus   string             `json:"paymentStatus"`
	PaymentMethod   string             `json:"paymentMethod"`
	PaymentIntentID string             `json:"paymentIntentId,omitempty"`
	Currency        string             `json:"currency"`
	Locale          string             `json:"locale,omitempty"`
	Totals          totalsPayload      `json:"totals"`
	Items           []orderItemPayload `json:"items"`
	History         []historyPayload   `json:"history"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}
	var req createOrderRequest
	if err := decodeStrict(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	items := make([]services.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CartLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: string(item.UnitPrice),
		})
	}
	cmd := services.CreateOrderCommand{
		UserID: strings.TrimSpace(req.UserID),
		Contact: domain.Contact{
			Email: req.Contact.Email,
			Name:  req.Contact.Name,
			Phone: req.Contact.Phone,
		},
		ShippingAddress: domain.Address{
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			State:      req.ShippingAddress.State,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		Items:         items,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Currency:      req.Currency,
		Discount:      string(req.Discount),
		Locale:        req.Locale,
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeCreateOrderError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		ID:            order.ID,
		OrderNumber:   order.Number,
		Total:         order.Totals.Total.String(),
		Currency:      order.Currency,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	key, err := domain.ParseOrderKey(chi.URLParam(r, "orderKey"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_key", "order key must be an order id or an order number", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, key)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildOrderPayload(order))
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
			Total:     item.Total.String(),
		})
	}
	history := make([]historyPayload, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, historyPayload{
			Status:        string(entry.Status),
			PaymentStatus: string(entry.PaymentStatus),
			Note:          entry.Note,
			EventID:       entry.EventID,
			At:            formatTime(entry.At),
		})
	}
	return orderPayload{
		ID:              order.ID,
		OrderNumber:     order.Number,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentIntentID: order.PaymentIntentID,
		Currency:        order.Currency,
		Locale:          order.Locale,
		Totals: totalsPayload{
			Subtotal: order.Totals.Subtotal.String(),
			Shipping: order.Totals.Shipping.String(),
			Tax:      order.Totals.Tax.String(),
			Discount: order.Totals.Discount.String(),
			Total:    order.Totals.Total.String(),
		},
		Items:     items,
		History:   history,
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// writeCreateOrderError keeps store details out of the response; anything but bad input is retryable.
func writeCreateOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "missing or invalid fields", http.StatusBadRequest).WithFields(verr.Fields))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "could not create order, please try again", http.StatusServiceUnavailable))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order lookup failed, please try again", http.StatusServiceUnavailable))
	}
}
