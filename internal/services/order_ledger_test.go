package services

import (
	"context"
	"errors"
	"math"
	"testing"

	domain "github.com/hanko-field/checkout/internal/domain"
)

func newTestLedger(t *testing.T, repo *memOrderRepo, events OrderEventPublisher, logs *logRecorder) OrderLedger {
	t.Helper()
	deps := OrderLedgerDeps{
		Orders:      repo,
		Events:      events,
		Clock:       fixedClock(),
		IDGenerator: sequenceIDs("T"),
	}
	if logs != nil {
		deps.Logger = logs.log
	}
	ledger, err := NewOrderLedger(deps)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger
}

func seedOrder(t *testing.T, ledger OrderLedger) Order {
	t.Helper()
	order, err := ledger.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID:  "buyer-1",
		Currency: "jpy",
		Items: []OrderItem{
			{ProductID: "prod_widget", Name: "Widget", Price: 1000, Quantity: 2, SellerID: "seller-1"},
			{ProductID: "prod_gadget", Name: "Gadget", Price: 300, Quantity: 1, SellerID: "seller-2"},
		},
		Discount:   500,
		CouponCode: " save5 ",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestOrderLedgerCreateOrder(t *testing.T) {
	repo := newMemOrderRepo()
	events := &recordingPublisher{}
	ledger := newTestLedger(t, repo, events, nil)

	order := seedOrder(t, ledger)

	if order.ID != "ord_T1" {
		t.Fatalf("unexpected id %s", order.ID)
	}
	if order.Subtotal != 2300 || order.Discount != 500 || order.Total != 1800 {
		t.Fatalf("unexpected totals %+v", order)
	}
	if order.Currency != "JPY" || order.CouponCode == nil || *order.CouponCode != "SAVE5" {
		t.Fatalf("expected normalised currency and coupon, got %s %v", order.Currency, order.CouponCode)
	}
	if order.Status != domain.OrderStatusPending || len(order.StatusHistory) != 1 {
		t.Fatalf("expected pending with one history entry, got %s %d", order.Status, len(order.StatusHistory))
	}
	if len(events.events) != 1 || events.events[0].Status != domain.OrderStatusPending {
		t.Fatalf("expected creation event, got %+v", events.events)
	}
}

func TestOrderLedgerCreateOrderValidation(t *testing.T) {
	ledger := newTestLedger(t, newMemOrderRepo(), nil, nil)
	cases := []CreateOrderCommand{
		{Currency: "JPY", Items: []OrderItem{{ProductID: "p", Price: 1, Quantity: 1}}},
		{BuyerID: "b", Currency: "JPY"},
		{BuyerID: "b", Items: []OrderItem{{ProductID: "p", Price: 1, Quantity: 1}}},
		{BuyerID: "b", Currency: "JPY", Items: []OrderItem{{ProductID: "p", Price: 1, Quantity: 0}}},
		{BuyerID: "b", Currency: "JPY", Items: []OrderItem{{ProductID: "p", Price: -1, Quantity: 1}}},
		{BuyerID: "b", Currency: "JPY", Items: []OrderItem{{ProductID: "p", Price: 1 << 62, Quantity: 4}}},
		{BuyerID: "b", Currency: "JPY", Items: []OrderItem{
			{ProductID: "p", Price: math.MaxInt64/2 + 1, Quantity: 1},
			{ProductID: "q", Price: math.MaxInt64/2 + 1, Quantity: 1},
		}},
	}
	for i, cmd := range cases {
		if _, err := ledger.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestOrderLedgerFullLifecycle(t *testing.T) {
	repo := newMemOrderRepo()
	events := &recordingPublisher{}
	ledger := newTestLedger(t, repo, events, nil)
	order := seedOrder(t, ledger)
	ctx := context.Background()

	steps := []OrderTransitionCommand{
		{Target: domain.OrderStatusConfirmed, Actor: Actor{Kind: domain.ActorPaymentBridge}},
		{Target: domain.OrderStatusProcessing, Actor: Actor{Kind: domain.ActorSeller, ID: "seller-1"}},
		{Target: domain.OrderStatusShipped, Actor: Actor{Kind: domain.ActorSeller, ID: "seller-2"}, TrackingNumber: "TRK-1"},
		{Target: domain.OrderStatusDelivered, Actor: Actor{Kind: domain.ActorAdmin, ID: "admin-1"}},
	}
	for i, step := range steps {
		step.OrderID = order.ID
		updated, err := ledger.Transition(ctx, step)
		if err != nil {
			t.Fatalf("step %d (%s): %v", i, step.Target, err)
		}
		if updated.Status != step.Target || len(updated.StatusHistory) != i+2 {
			t.Fatalf("step %d: unexpected state %s history %d", i, updated.Status, len(updated.StatusHistory))
		}
		last, _ := updated.LastTransition()
		if last.Status != updated.Status || last.Actor != step.Actor {
			t.Fatalf("step %d: history tail %+v does not match", i, last)
		}
		if updated.Subtotal != order.Subtotal {
			t.Fatalf("subtotal changed from %d to %d", order.Subtotal, updated.Subtotal)
		}
	}

	stored := repo.get(order.ID)
	if stored.TrackingNumber == nil || *stored.TrackingNumber != "TRK-1" {
		t.Fatalf("expected tracking number persisted, got %v", stored.TrackingNumber)
	}
	if stored.Version != int64(len(steps)) {
		t.Fatalf("expected version %d, got %d", len(steps), stored.Version)
	}
	if len(events.events) != len(steps)+1 {
		t.Fatalf("expected one event per transition, got %d", len(events.events))
	}
	last := events.events[len(events.events)-1]
	if last.PreviousStatus != domain.OrderStatusShipped || last.Status != domain.OrderStatusDelivered {
		t.Fatalf("unexpected last event %+v", last)
	}

	_, err := ledger.Transition(ctx, OrderTransitionCommand{OrderID: order.ID, Target: domain.OrderStatusCancelled, Actor: Actor{Kind: domain.ActorAdmin}})
	if !errors.Is(err, ErrOrderAlreadyTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestOrderLedgerTransitionRules(t *testing.T) {
	buyer := Actor{Kind: domain.ActorBuyer, ID: "buyer-1"}
	otherBuyer := Actor{Kind: domain.ActorBuyer, ID: "buyer-2"}
	bridge := Actor{Kind: domain.ActorPaymentBridge}
	seller := Actor{Kind: domain.ActorSeller, ID: "seller-1"}
	strangerSeller := Actor{Kind: domain.ActorSeller, ID: "seller-9"}
	admin := Actor{Kind: domain.ActorAdmin, ID: "admin-1"}

	cases := []struct {
		name    string
		from    OrderStatus
		cmd     OrderTransitionCommand
		wantErr error
	}{
		{name: "skip to shipped", from: domain.OrderStatusPending, cmd: OrderTransitionCommand{Target: domain.OrderStatusShipped, Actor: admin, TrackingNumber: "T"}, wantErr: ErrInvalidTransition},
		{name: "skip to processing", from: domain.OrderStatusPending, cmd: OrderTransitionCommand{Target: domain.OrderStatusProcessing, Actor: admin}, wantErr: ErrInvalidTransition},
		{name: "same status", from: domain.OrderStatusConfirmed, cmd: OrderTransitionCommand{Target: domain.OrderStatusConfirmed, Actor: bridge}, wantErr: ErrInvalidTransition},
		{name: "backwards", from: domain.OrderStatusProcessing, cmd: OrderTransitionCommand{Target: domain.OrderStatusConfirmed, Actor: bridge}, wantErr: ErrInvalidTransition},
		{name: "unknown status", from: domain.OrderStatusPending, cmd: OrderTransitionCommand{Target: "refunded", Actor: admin}, wantErr: ErrInvalidTransition},
		{name: "admin cannot confirm", from: domain.OrderStatusPending, cmd: OrderTransitionCommand{Target: domain.OrderStatusConfirmed, Actor: admin}, wantErr: ErrUnauthorizedTransition},
		{name: "buyer cannot confirm", from: domain.OrderStatusPending, cmd: OrderTransitionCommand{Target: domain.OrderStatusConfirmed, Actor: buyer}, wantErr: ErrUnauthorizedTransition},
		{name: "bridge confirms", from: domain.OrderStatusPending, cmd: OrderTransitionCommand{Target: domain.OrderStatusConfirmed, Actor: bridge}},
		{name: "stranger seller", from: domain.OrderStatusConfirmed, cmd: OrderTransitionCommand{Target: domain.OrderStatusProcessing, Actor: strangerSeller}, wantErr: ErrUnauthorizedTransition},
		{name: "buyer cannot process", from: domain.OrderStatusConfirmed, cmd: OrderTransitionCommand{Target: domain.OrderStatusProcessing, Actor: buyer}, wantErr: ErrUnauthorizedTransition},
		{name: "seller processes", from: domain.OrderStatusConfirmed, cmd: OrderTransitionCommand{Target: domain.OrderStatusProcessing, Actor: seller}},
		{name: "ship without tracking", from: domain.OrderStatusProcessing, cmd: OrderTransitionCommand{Target: domain.OrderStatusShipped, Actor: seller, TrackingNumber: "  "}, wantErr: ErrMissingTrackingNumber},
		{name: "buyer cancels pending", from: domain.OrderStatusPending, cmd: OrderTransitionCommand{Target: domain.OrderStatusCancelled, Actor: buyer}},
		{name: "buyer cannot cancel confirmed", from: domain.OrderStatusConfirmed, cmd: OrderTransitionCommand{Target: domain.OrderStatusCancelled, Actor: buyer}, wantErr: ErrUnauthorizedTransition},
		{name: "other buyer cannot cancel", from: domain.OrderStatusPending, cmd: OrderTransitionCommand{Target: domain.OrderStatusCancelled, Actor: otherBuyer}, wantErr: ErrUnauthorizedTransition},
		{name: "seller cannot cancel", from: domain.OrderStatusPending, cmd: OrderTransitionCommand{Target: domain.OrderStatusCancelled, Actor: seller}, wantErr: ErrUnauthorizedTransition},
		{name: "admin cancels processing", from: domain.OrderStatusProcessing, cmd: OrderTransitionCommand{Target: domain.OrderStatusCancelled, Actor: admin}},
		{name: "shipped cannot cancel", from: domain.OrderStatusShipped, cmd: OrderTransitionCommand{Target: domain.OrderStatusCancelled, Actor: admin}, wantErr: ErrInvalidTransition},
		{name: "cancelled is terminal", from: domain.OrderStatusCancelled, cmd: OrderTransitionCommand{Target: domain.OrderStatusConfirmed, Actor: bridge}, wantErr: ErrOrderAlreadyTerminal},
		{name: "delivered is terminal", from: domain.OrderStatusDelivered, cmd: OrderTransitionCommand{Target: domain.OrderStatusDelivered, Actor: admin}, wantErr: ErrOrderAlreadyTerminal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemOrderRepo()
			ledger := newTestLedger(t, repo, nil, nil)
			order := seedOrder(t, ledger)
			stored := repo.get(order.ID)
			stored.Status = tc.from
			stored.StatusHistory = append(stored.StatusHistory, StatusTransition{Status: tc.from})
			repo.orders[order.ID] = stored
			before := len(stored.StatusHistory)

			tc.cmd.OrderID = order.ID
			updated, err := ledger.Transition(context.Background(), tc.cmd)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				after := repo.get(order.ID)
				if after.Status != tc.from || len(after.StatusHistory) != before {
					t.Fatalf("rejected transition mutated the order: %s %d", after.Status, len(after.StatusHistory))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if updated.Status != tc.cmd.Target || len(updated.StatusHistory) != before+1 {
				t.Fatalf("expected one appended transition, got %s %d", updated.Status, len(updated.StatusHistory))
			}
		})
	}
}

func TestOrderLedgerSanitisesNotes(t *testing.T) {
	repo := newMemOrderRepo()
	ledger := newTestLedger(t, repo, nil, nil)
	order := seedOrder(t, ledger)

	updated, err := ledger.Transition(context.Background(), OrderTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusCancelled,
		Actor:   Actor{Kind: domain.ActorBuyer, ID: "buyer-1"},
		Notes:   `<script>alert(1)</script>changed <b>my</b> mind`,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	last, _ := updated.LastTransition()
	if last.Notes == nil || *last.Notes != "changed my mind" {
		t.Fatalf("expected sanitised notes, got %v", last.Notes)
	}
}

func TestOrderLedgerPublishFailureIsLogged(t *testing.T) {
	repo := newMemOrderRepo()
	logs := &logRecorder{}
	ledger := newTestLedger(t, repo, &recordingPublisher{err: errors.New("broker down")}, logs)
	order := seedOrder(t, ledger)

	if _, err := ledger.Transition(context.Background(), OrderTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusConfirmed,
		Actor:   Actor{Kind: domain.ActorPaymentBridge},
	}); err != nil {
		t.Fatalf("transition should not fail on publish error: %v", err)
	}
	if !logs.has("order.event.publish.failed") {
		t.Fatalf("expected publish failure to be logged")
	}
	if repo.get(order.ID).Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected committed status")
	}
}

func TestOrderLedgerNotFound(t *testing.T) {
	ledger := newTestLedger(t, newMemOrderRepo(), nil, nil)
	if _, err := ledger.GetOrder(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err := ledger.Transition(context.Background(), OrderTransitionCommand{OrderID: "ord_missing", Target: domain.OrderStatusCancelled, Actor: Actor{Kind: domain.ActorAdmin}})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
