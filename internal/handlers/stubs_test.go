package handlers

import (
	"context"
	"errors"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/services"
)

type stubCheckoutService struct {
	checkoutFn func(context.Context, services.CartSession) (services.CheckoutResult, error)
	cancelFn   func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, session services.CartSession) (services.CheckoutResult, error) {
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, session)
	}
	return services.CheckoutResult{}, errors.New("not implemented")
}

func (s *stubCheckoutService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubLedger struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, string) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(context.Context, services.OrderTransitionCommand) (services.Order, error)
}

func (s *stubLedger) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubLedger) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubLedger) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubLedger) Transition(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubPaymentBridge struct {
	createFn       func(context.Context, string) (services.IntentResult, error)
	confirmFn      func(context.Context, string) (services.ConfirmationResult, error)
	confirmOrderFn func(context.Context, string) (services.ConfirmationResult, error)
	cancelFn       func(context.Context, string) error
}

func (s *stubPaymentBridge) CreateIntent(ctx context.Context, orderID string) (services.IntentResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, orderID)
	}
	return services.IntentResult{}, errors.New("not implemented")
}

func (s *stubPaymentBridge) Confirm(ctx context.Context, providerRef string) (services.ConfirmationResult, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, providerRef)
	}
	return services.ConfirmationResult{}, errors.New("not implemented")
}

func (s *stubPaymentBridge) ConfirmOrder(ctx context.Context, orderID string) (services.ConfirmationResult, error) {
	if s.confirmOrderFn != nil {
		return s.confirmOrderFn(ctx, orderID)
	}
	return services.ConfirmationResult{}, errors.New("not implemented")
}

func (s *stubPaymentBridge) CancelOpenIntent(ctx context.Context, orderID string) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, orderID)
	}
	return nil
}

type stubCouponValidator struct {
	validateFn func(context.Context, string, int64, time.Time) (services.Discount, error)
}

func (s *stubCouponValidator) Validate(ctx context.Context, code string, subtotal int64, now time.Time) (services.Discount, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, code, subtotal, now)
	}
	return services.Discount{}, services.ErrCouponNotFound
}

func sampleOrder(id, buyerID string, status domain.OrderStatus) services.Order {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return services.Order{
		ID:       id,
		BuyerID:  buyerID,
		Currency: "JPY",
		Items: []services.OrderItem{
			{ProductID: "prod_a", Name: "Hinoki Seal", Price: 1200, Quantity: 1, SellerID: "seller-1"},
			{ProductID: "prod_b", Name: "Ink Pad", Price: 550, Quantity: 2, SellerID: "seller-2"},
		},
		Subtotal: 2300,
		Discount: 500,
		Total:    1800,
		ShippingAddress: services.Address{
			Recipient: "Aiko Tanaka", Line1: "1-2-3 Shibuya", City: "Tokyo", PostalCode: "150-0002", Country: "JP",
		},
		Status: status,
		StatusHistory: []services.StatusTransition{
			{Status: domain.OrderStatusPending, ChangedAt: created, Actor: domain.Actor{Kind: domain.ActorSystem}},
		},
		CreatedAt: created,
		UpdatedAt: created,
		Version:   1,
	}
}
