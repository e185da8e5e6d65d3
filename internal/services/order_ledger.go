package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

const orderIDPrefix = "ord_"

var orderTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

// OrderLedgerDeps bundles collaborators required to construct the order ledger.
type OrderLedgerDeps struct {
	Orders      repositories.OrderRepository
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderLedger struct {
	orders  repositories.OrderRepository
	history *statusHistoryRecorder
	locks   *orderLocks
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

var _ OrderLedger = (*orderLedger)(nil)

// NewOrderLedger wires dependencies into the order ledger.
func NewOrderLedger(deps OrderLedgerDeps) (OrderLedger, error) {
	if deps.Orders == nil {
		return nil, errors.New("order ledger: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderLedger{
		orders:  deps.Orders,
		history: newStatusHistoryRecorder(deps.Events, logger),
		locks:   newOrderLocks(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (l *orderLedger) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		return Order{}, fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}

	items := make([]OrderItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return Order{}, fmt.Errorf("%w: item %d has no product id", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return Order{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if item.Price < 0 {
			return Order{}, fmt.Errorf("%w: item %d price must not be negative", ErrOrderInvalidInput, i)
		}
		items = append(items, item)
	}
	subtotal, ok := orderSubtotal(items)
	if !ok {
		return Order{}, fmt.Errorf("%w: order total exceeds the supported amount", ErrOrderInvalidInput)
	}
	discount := max(0, min(cmd.Discount, subtotal))

	now := l.clock()
	order := Order{
		ID:              orderIDPrefix + l.newID(),
		BuyerID:         buyerID,
		Items:           items,
		Currency:        currency,
		Subtotal:        subtotal,
		Discount:        discount,
		Total:           subtotal - discount,
		ShippingAddress: cmd.ShippingAddress,
		CouponCode:      optionalString(NormalizeCouponCode(cmd.CouponCode)),
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	l.history.append(&order, domain.OrderStatusPending, Actor{Kind: domain.ActorSystem}, "order created", now)

	if err := l.orders.Insert(ctx, order); err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	l.history.publish(ctx, order, "")
	return order, nil
}

func (l *orderLedger) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := l.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (l *orderLedger) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := l.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

func (l *orderLedger) Transition(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, cmd.Target)
	}

	unlock, err := l.locks.acquire(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	defer unlock()

	var previous OrderStatus
	updated, err := l.orders.Transition(ctx, orderID, func(order *Order) error {
		previous = order.Status
		if err := checkTransition(*order, cmd); err != nil {
			return err
		}
		now := l.clock()
		order.Status = cmd.Target
		order.UpdatedAt = now
		if cmd.Target == domain.OrderStatusShipped {
			tracking := strings.TrimSpace(cmd.TrackingNumber)
			order.TrackingNumber = &tracking
			if cmd.EstimatedDelivery != nil {
				eta := cmd.EstimatedDelivery.UTC()
				order.EstimatedDelivery = &eta
			}
		}
		l.history.append(order, cmd.Target, cmd.Actor, cmd.Notes, now)
		return nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	l.logger(ctx, "order.status.changed", map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(updated.Status),
		"actor":   cmd.Actor.String(),
	})
	l.history.publish(ctx, updated, previous)
	return updated, nil
}

// checkTransition validates a transition against the state graph and the actor's rights.
func checkTransition(order Order, cmd OrderTransitionCommand) error {
	current := order.Status
	if current.Terminal() {
		return fmt.Errorf("%w: order %s is %s", ErrOrderAlreadyTerminal, order.ID, current)
	}
	if cmd.Target == current {
		return fmt.Errorf("%w: order %s is already %s", ErrInvalidTransition, order.ID, current)
	}
	if !canTransition(current, cmd.Target) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, cmd.Target)
	}

	actor := cmd.Actor
	switch cmd.Target {
	case domain.OrderStatusConfirmed:
		if actor.Kind != domain.ActorPaymentBridge {
			return fmt.Errorf("%w: only the payment bridge confirms orders", ErrUnauthorizedTransition)
		}
	case domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered:
		if !(actor.Kind == domain.ActorAdmin || (actor.Kind == domain.ActorSeller && order.HasSeller(actor.ID))) {
			return fmt.Errorf("%w: %s may not set %s", ErrUnauthorizedTransition, actor, cmd.Target)
		}
	case domain.OrderStatusCancelled:
		buyerOwnsPending := actor.Kind == domain.ActorBuyer && actor.ID == order.BuyerID && current == domain.OrderStatusPending
		if actor.Kind != domain.ActorAdmin && !buyerOwnsPending {
			return fmt.Errorf("%w: %s may not cancel a %s order", ErrUnauthorizedTransition, actor, current)
		}
	}

	if cmd.Target == domain.OrderStatusShipped && strings.TrimSpace(cmd.TrackingNumber) == "" {
		return ErrMissingTrackingNumber
	}
	return nil
}

func canTransition(current, target OrderStatus) bool {
	return slices.Contains(orderTransitions[current], target)
}

// orderSubtotal sums line totals and reports false instead of wrapping on overflow.
func orderSubtotal(items []OrderItem) (int64, bool) {
	var subtotal int64
	for _, item := range items {
		line, ok := item.CheckedLineTotal()
		if !ok || subtotal > math.MaxInt64-line {
			return 0, false
		}
		subtotal += line
	}
	return subtotal, true
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
