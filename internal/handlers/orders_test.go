package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/services"
)

func newOrderRouter(h *OrderHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", h.Routes)
	return router
}

func ledgerWithOrder(order services.Order) *stubLedger {
	return &stubLedger{
		getFn: func(_ context.Context, id string) (services.Order, error) {
			if id != order.ID {
				return services.Order{}, fmt.Errorf("%w: %s", services.ErrOrderNotFound, id)
			}
			return order, nil
		},
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.OrderListFilter
	ledger := &stubLedger{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("ord_1", "buyer-1", domain.OrderStatusPending)},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, ledger, nil, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders?pageSize=10&status=pending,confirmed&status=shipped", "", &auth.Identity{UID: "buyer-1"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-1" {
		t.Fatalf("expected buyer filter, got %q", captured.BuyerID)
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", captured.Pagination.PageSize)
	}
	if len(captured.Status) != 3 || captured.Status[2] != domain.OrderStatusShipped {
		t.Fatalf("unexpected status filters: %#v", captured.Status)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "ord_1" || resp.NextPageToken != "tok-next" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if resp.Items[0].Items[1].LineTotal != 1100 {
		t.Fatalf("expected line total 1100, got %d", resp.Items[0].Items[1].LineTotal)
	}
}

func TestOrderHandlersListOrdersRejectsBadQuery(t *testing.T) {
	router := newOrderRouter(NewOrderHandlers(nil, &stubLedger{}, nil, nil))
	for _, target := range []string{"/orders?pageSize=abc", "/orders?status=paid", "/orders?pageToken=not-base64!"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, authedRequest(http.MethodGet, target, "", &auth.Identity{UID: "buyer-1"}))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", target, rr.Code)
		}
	}
}

func TestOrderHandlersGetOrderVisibility(t *testing.T) {
	order := sampleOrder("ord_1", "buyer-1", domain.OrderStatusConfirmed)
	router := newOrderRouter(NewOrderHandlers(nil, ledgerWithOrder(order), nil, nil))

	cases := []struct {
		name     string
		identity *auth.Identity
		status   int
	}{
		{"owner", &auth.Identity{UID: "buyer-1"}, http.StatusOK},
		{"other buyer", &auth.Identity{UID: "buyer-2"}, http.StatusNotFound},
		{"seller of item", &auth.Identity{UID: "seller-2", Roles: []string{auth.RoleSeller}}, http.StatusOK},
		{"unrelated seller", &auth.Identity{UID: "seller-9", Roles: []string{auth.RoleSeller}}, http.StatusNotFound},
		{"admin", &auth.Identity{UID: "ops", Roles: []string{auth.RoleAdmin}}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/ord_1", "", tc.identity))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/ord_missing", "", &auth.Identity{UID: "buyer-1"}))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for missing order, got %d", rr.Code)
	}
}

func TestOrderHandlersHistory(t *testing.T) {
	order := sampleOrder("ord_1", "buyer-1", domain.OrderStatusConfirmed)
	order.StatusHistory = append(order.StatusHistory, services.StatusTransition{
		Status:    domain.OrderStatusConfirmed,
		ChangedAt: order.CreatedAt.Add(time.Minute),
		Actor:     domain.Actor{Kind: domain.ActorPaymentBridge},
	})
	router := newOrderRouter(NewOrderHandlers(nil, ledgerWithOrder(order), nil, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/ord_1/history", "", &auth.Identity{UID: "buyer-1"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp historyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.History) != 2 || resp.History[1].ActorKind != "payment_bridge" || resp.Status != "confirmed" {
		t.Fatalf("unexpected history: %#v", resp)
	}
}

func TestOrderHandlersCancelUsesBuyerActor(t *testing.T) {
	order := sampleOrder("ord_1", "buyer-1", domain.OrderStatusPending)
	var captured services.CancelOrderCommand
	checkout := &stubCheckoutService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			cancelled := order
			cancelled.Status = domain.OrderStatusCancelled
			return cancelled, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, ledgerWithOrder(order), checkout, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1:cancel", `{"reason":"changed my mind"}`, &auth.Identity{UID: "buyer-1"}))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.Kind != domain.ActorBuyer || captured.Actor.ID != "buyer-1" || captured.Reason != "changed my mind" {
		t.Fatalf("unexpected cancel command: %#v", captured)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "cancelled" {
		t.Fatalf("expected cancelled status, got %s", resp.Order.Status)
	}
}

func TestOrderHandlersCancelWithoutBodyMapsForbidden(t *testing.T) {
	order := sampleOrder("ord_1", "buyer-1", domain.OrderStatusConfirmed)
	checkout := &stubCheckoutService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: buyer may only cancel pending orders", services.ErrUnauthorizedTransition)
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, ledgerWithOrder(order), checkout, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1:cancel", "", &auth.Identity{UID: "buyer-1"}))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersCreatePaymentIntent(t *testing.T) {
	order := sampleOrder("ord_1", "buyer-1", domain.OrderStatusPending)
	reuse := false
	bridge := &stubPaymentBridge{
		createFn: func(_ context.Context, orderID string) (services.IntentResult, error) {
			result := services.IntentResult{
				Intent: services.PaymentIntent{ID: "pay_1", OrderID: orderID, Amount: 1800, Currency: "JPY", Status: domain.PaymentIntentRequiresPayment, Attempt: 2},
				Reused: reuse,
			}
			if !reuse {
				result.ClientSecret = "pi_2_secret"
			}
			return result, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, ledgerWithOrder(order), nil, bridge))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1/payment-intents", "", &auth.Identity{UID: "buyer-1"}))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp paymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Payment.ClientSecret != "pi_2_secret" || resp.Payment.Attempt != 2 {
		t.Fatalf("unexpected payment: %#v", resp.Payment)
	}

	reuse = true
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1/payment-intents", "", &auth.Identity{UID: "buyer-1"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for reused intent, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1/payment-intents", "", &auth.Identity{UID: "seller-1", Roles: []string{auth.RoleSeller}}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected seller to be forbidden, got %d", rr.Code)
	}
}

func TestOrderHandlersConfirmPayment(t *testing.T) {
	order := sampleOrder("ord_1", "buyer-1", domain.OrderStatusPending)
	outcome := services.ConfirmationInconclusive
	bridge := &stubPaymentBridge{
		confirmOrderFn: func(_ context.Context, orderID string) (services.ConfirmationResult, error) {
			return services.ConfirmationResult{OrderID: orderID, Outcome: outcome, OrderStatus: domain.OrderStatusPending}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, ledgerWithOrder(order), nil, bridge))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1/payment:confirm", "", &auth.Identity{UID: "buyer-1"}))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 for inconclusive, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	outcome = services.ConfirmationConfirmed
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1/payment:confirm", "", &auth.Identity{UID: "buyer-1"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp confirmationPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Outcome != "confirmed" {
		t.Fatalf("expected confirmed outcome, got %s", resp.Outcome)
	}
}

func TestOrderHandlersConfirmPaymentRateLimited(t *testing.T) {
	order := sampleOrder("ord_1", "buyer-1", domain.OrderStatusPending)
	bridge := &stubPaymentBridge{
		confirmOrderFn: func(_ context.Context, orderID string) (services.ConfirmationResult, error) {
			return services.ConfirmationResult{OrderID: orderID, Outcome: services.ConfirmationPending}, nil
		},
	}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	router := newOrderRouter(NewOrderHandlers(nil, ledgerWithOrder(order), nil, bridge,
		WithConfirmRateLimit(2, time.Minute, func() time.Time { return now })))

	for i := range 2 {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1/payment:confirm", "", &auth.Identity{UID: "buyer-1"}))
		if rr.Code != http.StatusOK {
			t.Fatalf("call %d: expected status 200, got %d", i, rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1/payment:confirm", "", &auth.Identity{UID: "buyer-1"}))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}

func TestOrderHandlersTransition(t *testing.T) {
	var captured services.OrderTransitionCommand
	ledger := &stubLedger{
		transitionFn: func(_ context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
			captured = cmd
			if cmd.Target == domain.OrderStatusShipped && cmd.TrackingNumber == "" {
				return services.Order{}, services.ErrMissingTrackingNumber
			}
			order := sampleOrder(cmd.OrderID, "buyer-1", cmd.Target)
			return order, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, ledger, nil, nil))
	seller := &auth.Identity{UID: "seller-1", Roles: []string{auth.RoleSeller}}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1:transition",
		`{"status":"SHIPPED","trackingNumber":"JP123","estimatedDelivery":"2024-05-04T00:00:00Z","notes":"<b>handed</b> to carrier"}`, seller))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.Kind != domain.ActorSeller || captured.Actor.ID != "seller-1" {
		t.Fatalf("unexpected actor: %#v", captured.Actor)
	}
	if captured.Target != domain.OrderStatusShipped || captured.TrackingNumber != "JP123" {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.EstimatedDelivery == nil || !captured.EstimatedDelivery.Equal(time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected estimated delivery: %v", captured.EstimatedDelivery)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1:transition", `{"status":"shipped"}`, seller))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without tracking number, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1:transition", `{"status":"processing"}`, &auth.Identity{UID: "buyer-1"}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected buyer to be forbidden, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1:transition", `{"status":"paid"}`, seller))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown status to be rejected, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionToCancelledReleasesPayment(t *testing.T) {
	ledger := &stubLedger{
		transitionFn: func(context.Context, services.OrderTransitionCommand) (services.Order, error) {
			t.Fatalf("cancellation must not bypass the checkout service")
			return services.Order{}, nil
		},
	}
	var captured services.CancelOrderCommand
	checkout := &stubCheckoutService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(cmd.OrderID, "buyer-1", domain.OrderStatusCancelled), nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, ledger, checkout, nil))
	admin := &auth.Identity{UID: "ops", Roles: []string{auth.RoleAdmin}}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1:transition", `{"status":"cancelled","notes":"fraud check"}`, admin))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Actor.Kind != domain.ActorAdmin || captured.Reason != "fraud check" {
		t.Fatalf("unexpected cancel command: %#v", captured)
	}

	router = newOrderRouter(NewOrderHandlers(nil, ledger, nil, nil))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1:transition", `{"status":"cancelled"}`, admin))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without checkout service, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrInvalidTransition, http.StatusConflict},
		{services.ErrOrderAlreadyTerminal, http.StatusConflict},
		{services.ErrOrderConflict, http.StatusConflict},
		{services.ErrUnauthorizedTransition, http.StatusForbidden},
		{services.ErrOrderNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		ledger := &stubLedger{
			transitionFn: func(context.Context, services.OrderTransitionCommand) (services.Order, error) {
				return services.Order{}, fmt.Errorf("wrapped: %w", tc.err)
			},
		}
		router := newOrderRouter(NewOrderHandlers(nil, ledger, nil, nil))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_1:transition", `{"status":"processing"}`,
			&auth.Identity{UID: "ops", Roles: []string{auth.RoleAdmin}}))
		if rr.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, rr.Code)
		}
	}
}
