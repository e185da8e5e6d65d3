package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/services"
)

// writeServiceError maps service sentinels onto the API error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "a cart line could not be matched to a catalog product", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon code is not valid", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon code has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponMinimumNotMet):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_minimum_not_met", "order subtotal is below the coupon minimum", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrMissingTrackingNumber):
		httpx.WriteError(ctx, w, httpx.NewError("tracking_number_required", "trackingNumber is required when shipping", http.StatusBadRequest))
	case errors.Is(err, services.ErrUnauthorizedTransition):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "actor may not perform this transition", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderAlreadyTerminal):
		httpx.WriteError(ctx, w, httpx.NewError("order_terminal", "order is already in a terminal state", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_payable", "order is not awaiting payment", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentIntentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_intent_not_found", "payment intent not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_unavailable", "payment provider unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "failed to process request", http.StatusInternalServerError))
	}
}
