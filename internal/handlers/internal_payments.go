package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

// InternalPaymentHandlers serves reconciliation calls from Cloud Tasks and Cloud Scheduler.
// Callers own the retry schedule; a 202 answer asks them to try again later.
type InternalPaymentHandlers struct {
	payments services.PaymentBridge
}

// NewInternalPaymentHandlers constructs the internal reconciliation handlers.
func NewInternalPaymentHandlers(bridge services.PaymentBridge) *InternalPaymentHandlers {
	return &InternalPaymentHandlers{payments: bridge}
}

// Routes registers the /internal endpoints. Authentication is applied by the router group.
func (h *InternalPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{providerRef}:reconcile", h.reconcile)
}

func (h *InternalPaymentHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	providerRef := strings.TrimSpace(chi.URLParam(r, "providerRef"))
	if providerRef == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider reference is required", http.StatusBadRequest))
		return
	}

	caller := "unknown"
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Email != "" {
		caller = svc.Email
	}

	result, err := h.payments.Confirm(ctx, providerRef)
	if err != nil {
		requestctx.Logger(ctx).Warn("payment reconcile failed",
			zap.String("providerRef", providerRef),
			zap.String("caller", caller),
			zap.Error(err),
		)
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("payment reconciled",
		zap.String("providerRef", providerRef),
		zap.String("caller", caller),
		zap.String("outcome", string(result.Outcome)),
	)
	writeConfirmation(w, result)
}
