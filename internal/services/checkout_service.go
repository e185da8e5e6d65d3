package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Materializer CartMaterializer
	Ledger       OrderLedger
	Payments     PaymentBridge
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	materializer CartMaterializer
	ledger       OrderLedger
	payments     PaymentBridge
	logger       func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService wires the checkout orchestration.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Materializer == nil {
		return nil, errors.New("checkout service: cart materializer is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("checkout service: order ledger is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment bridge is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		materializer: deps.Materializer,
		ledger:       deps.Ledger,
		payments:     deps.Payments,
		logger:       logger,
	}, nil
}

// Checkout materializes the session and opens the first payment intent. A provider failure
// after the order exists is reported in PaymentErr so the client can retry payment only.
func (s *checkoutService) Checkout(ctx context.Context, session CartSession) (CheckoutResult, error) {
	order, err := s.materializer.Materialize(ctx, session)
	if err != nil {
		return CheckoutResult{}, err
	}

	result := CheckoutResult{Order: order}
	intent, err := s.payments.CreateIntent(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "checkout.payment.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		result.PaymentErr = err
		return result, nil
	}
	result.Payment = &intent

	if intent.Intent.Status == domain.PaymentIntentSucceeded {
		if refreshed, err := s.ledger.GetOrder(ctx, order.ID); err == nil {
			result.Order = refreshed
		}
	}
	s.logger(ctx, "checkout.completed", map[string]any{
		"orderId": order.ID,
		"buyerId": order.BuyerID,
		"total":   order.Total,
	})
	return result, nil
}

// CancelOrder moves the order to cancelled and then releases any open provider intent.
func (s *checkoutService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.ledger.Transition(ctx, OrderTransitionCommand{
		OrderID: orderID,
		Target:  domain.OrderStatusCancelled,
		Actor:   cmd.Actor,
		Notes:   cmd.Reason,
	})
	if err != nil {
		return Order{}, err
	}

	if err := s.payments.CancelOpenIntent(ctx, orderID); err != nil {
		s.logger(ctx, "checkout.cancel.intent.failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
	return order, nil
}
