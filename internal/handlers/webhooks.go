package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/payments"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/httpx"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives signed payment provider callbacks.
type WebhookHandlers struct {
	processor services.WebhookProcessor
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(processor services.WebhookProcessor) *WebhookHandlers {
	return &WebhookHandlers{processor: processor}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// handleStripe acknowledges with 2xx every verified event that needs no redelivery, including
// duplicates and events for unknown orders. Only transient failures ask the provider to retry.
func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.processor == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), bodyErrorStatus(err)))
		return
	}

	result, err := h.processor.Process(ctx, body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, payments.ErrMalformedEvent):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook event could not be parsed", http.StatusBadRequest))
		case retry.IsTransient(err):
			httpx.WriteError(ctx, w, httpx.NewError("webhook_retry", "webhook could not be processed, retry later", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("webhook_failed", "webhook processing failed", http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: string(result.Outcome)})
}
