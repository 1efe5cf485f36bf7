package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/httpx"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

const maxPaymentRequestBody = 16 * 1024

// PaymentHandlers exposes payment intent creation.
type PaymentHandlers struct {
	payments services.PaymentService
}

// NewPaymentHandlers constructs payment handlers.
func NewPaymentHandlers(payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{payments: payments}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/intents", h.createIntent)
}

type createIntentRequest struct {
	OrderID  string      `json:"orderId"`
	OrderKey string      `json:"orderKey"`
	Amount   amountField `json:"amount"`
	Currency string      `json:"currency"`
	Email    string      `json:"email"`
	Name     string      `json:"name"`
}

type createIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	IntentID     string `json:"intentId"`
	OrderID      string `json:"orderId"`
	Reused       bool   `json:"reused"`
}

func (h *PaymentHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPaymentRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}
	var req createIntentRequest
	if err := decodeStrict(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	fields := map[string]string{}
	rawKey := strings.TrimSpace(req.OrderKey)
	if rawKey == "" {
		rawKey = strings.TrimSpace(req.OrderID)
	}
	var key domain.OrderKey
	if rawKey == "" {
		fields["orderId"] = "order id or order number is required"
	} else if key, err = domain.ParseOrderKey(rawKey); err != nil {
		fields["orderId"] = "must be an order id or an order number"
	}
	var amount domain.Money
	if strings.TrimSpace(string(req.Amount)) == "" {
		fields["amount"] = "amount is required"
	} else if amount, err = domain.ParseMoney(string(req.Amount)); err != nil {
		fields["amount"] = "must be a non-negative decimal amount"
	}
	if len(fields) > 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "missing or invalid fields", http.StatusBadRequest).WithFields(fields))
		return
	}

	result, err := h.payments.CreateIntent(ctx, services.PaymentIntentCommand{
		OrderKey: key,
		Amount:   amount,
		Currency: req.Currency,
		Email:    req.Email,
		Name:     req.Name,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, createIntentResponse{
		ClientSecret: result.ClientSecret,
		IntentID:     result.IntentID,
		OrderID:      result.OrderID,
		Reused:       result.Reused,
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "missing or invalid fields", http.StatusBadRequest).WithFields(verr.Fields))
	case errors.Is(err, services.ErrPaymentInvalidInput), errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", "amount or currency does not match the order total", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", "order cannot accept a card payment in its current state", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_unavailable", "payment provider unavailable, please try again", http.StatusBadGateway))
	case retry.IsTransient(err):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment could not be started, please try again", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be started", http.StatusInternalServerError))
	}
}
