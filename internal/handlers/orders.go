package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderRequestBody   = 8 * 1024
	defaultConfirmLimit   = 10
	defaultConfirmWindow  = time.Minute
	confirmRetryAfterSecs = "5"
)

// OrderHandlers exposes order, payment and fulfilment endpoints for authenticated users.
type OrderHandlers struct {
	authn          *auth.Authenticator
	ledger         services.OrderLedger
	checkout       services.CheckoutService
	payments       services.PaymentBridge
	idempotent     func(http.Handler) http.Handler
	confirmLimiter rateLimiter
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderIdempotency wraps the buyer mutating routes, after authentication.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) {
		h.idempotent = mw
	}
}

// WithConfirmRateLimit bounds payment confirmation polls per buyer and order.
// A non-positive limit disables the check.
func WithConfirmRateLimit(limit int, window time.Duration, clock func() time.Time) OrderOption {
	return func(h *OrderHandlers) {
		h.confirmLimiter = newWindowLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, ledger services.OrderLedger, checkout services.CheckoutService, payments services.PaymentBridge, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:          authn,
		ledger:         ledger,
		checkout:       checkout,
		payments:       payments,
		confirmLimiter: newWindowLimiter(defaultConfirmLimit, defaultConfirmWindow, nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	mutating := chi.Router(r)
	if h.idempotent != nil {
		mutating = r.With(h.idempotent)
	}

	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/history", h.getHistory)
	mutating.Post("/{orderID}:cancel", h.cancelOrder)
	mutating.Post("/{orderID}/payment-intents", h.createPaymentIntent)
	r.Post("/{orderID}/payment:confirm", h.confirmPayment)
	r.Post("/{orderID}:transition", h.transitionOrder)
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	statuses, err := parseStatusFilters(r.URL.Query()["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.ledger.ListOrders(ctx, services.OrderListFilter{
		BuyerID: strings.TrimSpace(identity.UID),
		Status:  statuses,
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pageToken is invalid", http.StatusBadRequest))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, newOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func parseStatusFilters(values []string) ([]domain.OrderStatus, error) {
	var statuses []domain.OrderStatus
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status := domain.OrderStatus(part)
			if !status.Valid() {
				return nil, errors.New("status filter contains an unknown status")
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type historyResponse struct {
	OrderID string                `json:"orderId"`
	Status  string                `json:"status"`
	History []historyEntryPayload `json:"history"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	_, order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}

func (h *OrderHandlers) getHistory(w http.ResponseWriter, r *http.Request) {
	_, order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, historyResponse{
		OrderID: order.ID,
		Status:  string(order.Status),
		History: newHistoryPayload(order.StatusHistory),
	})
}

// loadVisibleOrder fetches the order and hides it from callers that are neither
// the buyer, a seller of one of its items, nor an admin.
func (h *OrderHandlers) loadVisibleOrder(w http.ResponseWriter, r *http.Request) (*auth.Identity, services.Order, bool) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, services.Order{}, false
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, services.Order{}, false
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return nil, services.Order{}, false
	}

	order, err := h.ledger.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return nil, services.Order{}, false
	}
	if !canViewOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return nil, services.Order{}, false
	}
	return identity, order, true
}

func canViewOrder(identity *auth.Identity, order services.Order) bool {
	uid := strings.TrimSpace(identity.UID)
	switch {
	case identity.HasRole(auth.RoleAdmin):
		return true
	case order.BuyerID == uid:
		return true
	case identity.HasRole(auth.RoleSeller) && order.HasSeller(uid):
		return true
	}
	return false
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(w, r, maxOrderRequestBody, true, &req) {
		return
	}

	updated, err := h.checkout.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: order.ID,
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: newOrderPayload(updated)})
}

type paymentResponse struct {
	Payment paymentPayload `json:"payment"`
}

func (h *OrderHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	if !ownsOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "only the buyer may pay for this order", http.StatusForbidden))
		return
	}

	result, err := h.payments.CreateIntent(ctx, order.ID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, paymentResponse{Payment: newPaymentPayload(result)})
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, order, ok := h.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	if !ownsOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "only the buyer may confirm this payment", http.StatusForbidden))
		return
	}
	if h.confirmLimiter != nil && !h.confirmLimiter.Allow(identity.UID+":"+order.ID) {
		w.Header().Set("Retry-After", confirmRetryAfterSecs)
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many confirmation attempts", http.StatusTooManyRequests))
		return
	}

	result, err := h.payments.ConfirmOrder(ctx, order.ID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeConfirmation(w, result)
}

func writeConfirmation(w http.ResponseWriter, result services.ConfirmationResult) {
	status := http.StatusOK
	if result.Outcome == services.ConfirmationInconclusive {
		w.Header().Set("Retry-After", confirmRetryAfterSecs)
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, newConfirmationPayload(result))
}

func ownsOrder(identity *auth.Identity, order services.Order) bool {
	return identity.HasRole(auth.RoleAdmin) || order.BuyerID == strings.TrimSpace(identity.UID)
}

type transitionOrderRequest struct {
	Status            string `json:"status"`
	TrackingNumber    string `json:"trackingNumber"`
	EstimatedDelivery string `json:"estimatedDelivery"`
	Notes             string `json:"notes"`
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasAnyRole(auth.RoleSeller, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "seller or admin role required", http.StatusForbidden))
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req transitionOrderRequest
	if !decodeJSONBody(w, r, maxOrderRequestBody, false, &req) {
		return
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not a known order status", http.StatusBadRequest))
		return
	}
	cmd := services.OrderTransitionCommand{
		OrderID:        orderID,
		Target:         target,
		Actor:          actorFromIdentity(identity),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Notes:          req.Notes,
	}
	if raw := strings.TrimSpace(req.EstimatedDelivery); raw != "" {
		eta, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimatedDelivery must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDelivery = &eta
	}

	var (
		order services.Order
		err   error
	)
	if target == domain.OrderStatusCancelled {
		// Cancellation also releases the open provider intent.
		if h.checkout == nil {
			httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
			return
		}
		order, err = h.checkout.CancelOrder(ctx, services.CancelOrderCommand{
			OrderID: orderID,
			Actor:   cmd.Actor,
			Reason:  strings.TrimSpace(req.Notes),
		})
	} else {
		order, err = h.ledger.Transition(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: newOrderPayload(order)})
}
