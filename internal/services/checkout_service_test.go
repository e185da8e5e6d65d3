package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "github.com/hanko-field/checkout/internal/domain"
)

type stubMaterializer struct {
	fn func(context.Context, CartSession) (Order, error)
}

func (s stubMaterializer) Materialize(ctx context.Context, session CartSession) (Order, error) {
	return s.fn(ctx, session)
}

func TestCheckoutServiceReportsPaymentFailureSeparately(t *testing.T) {
	f := newBridgeFixture(t)
	order := seedOrder(t, f.ledger)
	f.gateway.createErr = errors.New("psp down")

	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Materializer: stubMaterializer{fn: func(context.Context, CartSession) (Order, error) { return order, nil }},
		Ledger:       f.ledger,
		Payments:     f.bridge,
		Logger:       f.logs.log,
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	result, err := svc.Checkout(context.Background(), CartSession{BuyerID: "buyer-1"})
	if err != nil {
		t.Fatalf("checkout should succeed once the order exists: %v", err)
	}
	if result.Order.ID != order.ID || result.Payment != nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if !errors.Is(result.PaymentErr, ErrPaymentProviderUnavailable) {
		t.Fatalf("expected payment error, got %v", result.PaymentErr)
	}
	if !f.logs.has("checkout.payment.failed") {
		t.Fatalf("expected payment failure log")
	}
}

func TestCheckoutServicePropagatesMaterializeErrors(t *testing.T) {
	f := newBridgeFixture(t)
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Materializer: stubMaterializer{fn: func(context.Context, CartSession) (Order, error) { return Order{}, ErrProductNotFound }},
		Ledger:       f.ledger,
		Payments:     f.bridge,
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	if _, err := svc.Checkout(context.Background(), CartSession{}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
	if len(f.gateway.created) != 0 {
		t.Fatalf("no intent should be created")
	}
}

func TestCheckoutServiceCancelReleasesIntent(t *testing.T) {
	f := newBridgeFixture(t)
	order := seedOrder(t, f.ledger)
	created, err := f.bridge.CreateIntent(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Materializer: stubMaterializer{fn: func(context.Context, CartSession) (Order, error) { return Order{}, nil }},
		Ledger:       f.ledger,
		Payments:     f.bridge,
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}

	cancelled, err := svc.CancelOrder(context.Background(), CancelOrderCommand{
		OrderID: order.ID,
		Actor:   Actor{Kind: domain.ActorBuyer, ID: "buyer-1"},
		Reason:  "ordered twice",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if len(f.gateway.cancelled) != 1 || f.gateway.cancelled[0] != created.Intent.ProviderRef {
		t.Fatalf("expected open intent to be cancelled, got %v", f.gateway.cancelled)
	}

	_, err = svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Actor: Actor{Kind: domain.ActorBuyer, ID: "buyer-1"}})
	if !errors.Is(err, ErrOrderAlreadyTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestCheckoutServiceCancelRacesConfirmation(t *testing.T) {
	for i := 0; i < 25; i++ {
		f := newBridgeFixture(t)
		order := seedOrder(t, f.ledger)
		ctx := context.Background()
		created, err := f.bridge.CreateIntent(ctx, order.ID)
		if err != nil {
			t.Fatalf("create intent: %v", err)
		}
		f.gateway.setStatus(created.Intent.ProviderRef, domain.PaymentIntentSucceeded)
		svc, err := NewCheckoutService(CheckoutServiceDeps{
			Materializer: stubMaterializer{fn: func(context.Context, CartSession) (Order, error) { return Order{}, nil }},
			Ledger:       f.ledger,
			Payments:     f.bridge,
		})
		if err != nil {
			t.Fatalf("new checkout service: %v", err)
		}

		var (
			wg         sync.WaitGroup
			cancelErr  error
			confirm    ConfirmationResult
			confirmErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = svc.CancelOrder(ctx, CancelOrderCommand{OrderID: order.ID, Actor: Actor{Kind: domain.ActorBuyer, ID: "buyer-1"}})
		}()
		go func() {
			defer wg.Done()
			confirm, confirmErr = f.bridge.Confirm(ctx, created.Intent.ProviderRef)
		}()
		wg.Wait()

		cancelled := cancelErr == nil
		confirmed := confirmErr == nil && confirm.Outcome == ConfirmationConfirmed
		if cancelled == confirmed {
			t.Fatalf("run %d: expected exactly one winner, cancel=%v confirm=%+v/%v", i, cancelErr, confirm, confirmErr)
		}
		if cancelled && confirmErr != nil && !errors.Is(confirmErr, ErrOrderAlreadyTerminal) {
			t.Fatalf("run %d: unexpected confirmation error %v", i, confirmErr)
		}
		if confirmed && !errors.Is(cancelErr, ErrUnauthorizedTransition) && !errors.Is(cancelErr, ErrInvalidTransition) && !errors.Is(cancelErr, ErrOrderAlreadyTerminal) {
			t.Fatalf("run %d: unexpected cancel error %v", i, cancelErr)
		}

		stored := f.orders.get(order.ID)
		want := domain.OrderStatusConfirmed
		if cancelled {
			want = domain.OrderStatusCancelled
		}
		if stored.Status != want || len(stored.StatusHistory) != 2 || stored.StatusHistory[1].Status != want {
			t.Fatalf("run %d: expected %s with two history entries, got %s %+v", i, want, stored.Status, stored.StatusHistory)
		}
	}
}
