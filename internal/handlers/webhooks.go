package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

const (
	maxWebhookBodySize     = 256 * 1024
	stripeSignatureHeader  = "Stripe-Signature"
	webhookAckStatusIgnore = "ignored"
)

// PaymentWebhookHandlers receives provider callbacks and feeds them to the payment bridge.
type PaymentWebhookHandlers struct {
	payments     services.PaymentBridge
	stripeSecret string
}

// NewPaymentWebhookHandlers constructs webhook handlers verifying Stripe signatures with secret.
func NewPaymentWebhookHandlers(bridge services.PaymentBridge, stripeSecret string) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{payments: bridge, stripeSecret: stripeSecret}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripeWebhook)
}

type webhookAck struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (h *PaymentWebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	event, err := payments.ParseStripeWebhook(body, r.Header.Get(stripeSignatureHeader), h.stripeSecret)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidWebhookSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		requestctx.Logger(ctx).Error("stripe webhook rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload could not be processed", http.StatusBadRequest))
		return
	}
	if !event.Relevant() {
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, EventID: event.ID, Status: webhookAckStatusIgnore})
		return
	}

	logger := requestctx.Logger(ctx).With(
		zap.String("eventId", event.ID),
		zap.String("eventType", event.Type),
		zap.String("providerRef", event.ProviderRef),
	)
	result, err := h.payments.Confirm(ctx, event.ProviderRef)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrPaymentIntentNotFound):
		// Intents created outside checkout are acknowledged so the provider stops retrying.
		logger.Warn("stripe webhook for unknown intent")
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, EventID: event.ID, Status: webhookAckStatusIgnore})
		return
	case errors.Is(err, services.ErrOrderAlreadyTerminal):
		logger.Error("payment succeeded for a terminal order")
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, EventID: event.ID, Status: "order_terminal"})
		return
	default:
		logger.Error("stripe webhook confirmation failed", zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}

	if result.Outcome == services.ConfirmationInconclusive {
		// A non-2xx answer makes the provider redeliver with backoff.
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_inconclusive", "payment status could not be verified", http.StatusServiceUnavailable))
		return
	}
	logger.Info("stripe webhook processed", zap.String("outcome", string(result.Outcome)), zap.Bool("changed", result.Changed))
	writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, EventID: event.ID, Status: string(result.Outcome)})
}
