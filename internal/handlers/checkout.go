package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/auth"
	"github.com/hanko-field/checkout/internal/platform/httpx"
	"github.com/hanko-field/checkout/internal/services"
)

const (
	maxCheckoutRequestBody = 32 * 1024
	maxCheckoutLines       = 100
	maxLineQuantity        = 999

	// maxUnitPrice bounds client-sent prices in minor units.
	maxUnitPrice = 100_000_000_000
)

// CheckoutHandlers exposes checkout related endpoints for authenticated buyers.
type CheckoutHandlers struct {
	authn      *auth.Authenticator
	checkout   services.CheckoutService
	coupons    services.CouponValidator
	idempotent func(http.Handler) http.Handler
	clock      func() time.Time
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency wraps the mutating checkout route, after authentication.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotent = mw
	}
}

// WithCheckoutClock overrides the clock used for coupon expiry checks.
func WithCheckoutClock(clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, coupons services.CouponValidator, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		coupons:  coupons,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	mutating := group
	if h.idempotent != nil {
		mutating = group.With(h.idempotent)
	}
	mutating.Post("/", h.checkoutCart)
	group.Post("/coupons:validate", h.validateCoupon)
}

type checkoutLocalRef struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
}

type checkoutItemRequest struct {
	ProductID string            `json:"productId"`
	LocalRef  *checkoutLocalRef `json:"localRef"`
	Name      string            `json:"name"`
	UnitPrice int64             `json:"unitPrice"`
	Quantity  int               `json:"quantity"`
}

type checkoutRequest struct {
	Items           []checkoutItemRequest `json:"items"`
	ShippingAddress addressPayload        `json:"shippingAddress"`
	CouponCode      string                `json:"couponCode"`
	Currency        string                `json:"currency"`
}

type checkoutResponse struct {
	Order        orderPayload    `json:"order"`
	Payment      *paymentPayload `json:"payment"`
	PaymentError string          `json:"paymentError,omitempty"`
}

func (h *CheckoutHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, false, &req) {
		return
	}
	session, err := req.toSession(identity.UID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.checkout.Checkout(ctx, session)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := checkoutResponse{Order: newOrderPayload(result.Order)}
	if result.Payment != nil {
		payment := newPaymentPayload(*result.Payment)
		resp.Payment = &payment
	}
	if result.PaymentErr != nil {
		resp.PaymentError = paymentErrorCode(result.PaymentErr)
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (req checkoutRequest) toSession(buyerID string) (services.CartSession, error) {
	if len(req.Items) == 0 {
		return services.CartSession{}, errors.New("items must not be empty")
	}
	if len(req.Items) > maxCheckoutLines {
		return services.CartSession{}, errors.New("too many items")
	}
	lines := make([]services.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		line := services.CartLine{
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
		productID := strings.TrimSpace(item.ProductID)
		switch {
		case productID != "" && item.LocalRef != nil:
			return services.CartSession{}, errors.New("items must set either productId or localRef, not both")
		case productID != "":
			line.Ref = domain.CatalogRef{ID: productID}
		case item.LocalRef != nil && strings.TrimSpace(item.LocalRef.Key) != "":
			line.Ref = domain.LocalAlias{
				LocalKey:  strings.TrimSpace(item.LocalRef.Key),
				Name:      strings.TrimSpace(item.LocalRef.Name),
				UnitPrice: item.LocalRef.UnitPrice,
			}
			if line.Name == "" {
				line.Name = strings.TrimSpace(item.LocalRef.Name)
			}
			if line.UnitPrice <= 0 {
				line.UnitPrice = item.LocalRef.UnitPrice
			}
		default:
			return services.CartSession{}, errors.New("items require productId or localRef.key")
		}
		if line.Quantity <= 0 {
			return services.CartSession{}, errors.New("quantity must be greater than zero")
		}
		if line.Quantity > maxLineQuantity {
			return services.CartSession{}, fmt.Errorf("quantity must not exceed %d", maxLineQuantity)
		}
		if line.UnitPrice < 0 || line.UnitPrice > maxUnitPrice {
			return services.CartSession{}, fmt.Errorf("unitPrice must be between 0 and %d", maxUnitPrice)
		}
		if item.LocalRef != nil && (item.LocalRef.UnitPrice < 0 || item.LocalRef.UnitPrice > maxUnitPrice) {
			return services.CartSession{}, fmt.Errorf("localRef.unitPrice must be between 0 and %d", maxUnitPrice)
		}
		lines = append(lines, line)
	}
	return services.CartSession{
		BuyerID:         buyerID,
		Lines:           lines,
		ShippingAddress: req.ShippingAddress.toDomain(),
		CouponCode:      strings.TrimSpace(req.CouponCode),
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
	}, nil
}

func paymentErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrPaymentProviderUnavailable):
		return "payment_provider_unavailable"
	case errors.Is(err, services.ErrPaymentNotPayable):
		return "payment_not_payable"
	default:
		return "payment_error"
	}
}

type couponValidateRequest struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

type couponValidateResponse struct {
	Code     string `json:"code"`
	Type     string `json:"type"`
	Discount int64  `json:"discount"`
}

func (h *CheckoutHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "coupon validation unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	var req couponValidateRequest
	if !decodeJSONBody(w, r, defaultMaxBodySize, false, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}
	if req.Subtotal < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "subtotal must not be negative", http.StatusBadRequest))
		return
	}

	discount, err := h.coupons.Validate(ctx, req.Code, req.Subtotal, h.clock().UTC())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponValidateResponse{
		Code:     discount.Code,
		Type:     string(discount.Type),
		Discount: discount.Amount,
	})
}
