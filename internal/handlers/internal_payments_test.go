package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/services"
)

func TestInternalReconcile(t *testing.T) {
	var gotRef string
	outcome := services.ConfirmationConfirmed
	bridge := &stubPaymentBridge{
		confirmFn: func(_ context.Context, ref string) (services.ConfirmationResult, error) {
			gotRef = ref
			return services.ConfirmationResult{
				OrderID:      "ord_1",
				ProviderRef:  ref,
				Outcome:      outcome,
				IntentStatus: domain.PaymentIntentSucceeded,
				OrderStatus:  domain.OrderStatusConfirmed,
			}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalPaymentHandlers(bridge).Routes)

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/internal/payments/pi_123:reconcile", nil)
		return req.WithContext(auth.WithServiceIdentity(req.Context(), &auth.ServiceIdentity{Subject: "svc", Email: "tasks@example.iam.gserviceaccount.com"}))
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newReq())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "pi_123", gotRef)

	var resp confirmationPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp.Outcome)
	assert.Equal(t, "confirmed", resp.OrderStatus)

	outcome = services.ConfirmationInconclusive
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newReq())
	assert.Equal(t, http.StatusAccepted, rr.Code)
}

func TestInternalReconcileUnknownIntent(t *testing.T) {
	bridge := &stubPaymentBridge{
		confirmFn: func(context.Context, string) (services.ConfirmationResult, error) {
			return services.ConfirmationResult{}, services.ErrPaymentIntentNotFound
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalPaymentHandlers(bridge).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/payments/pi_x:reconcile", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
