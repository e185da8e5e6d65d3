package domain

import (
	"math"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending marks an order awaiting payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed marks an order whose payment succeeded.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing marks an order being prepared by the seller.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped marks an order handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered marks an order received by the buyer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled marks an order cancelled before shipment.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusDelivered
}

// ActorKind identifies who requested a status change.
type ActorKind string

const (
	ActorBuyer         ActorKind = "buyer"
	ActorSeller        ActorKind = "seller"
	ActorAdmin         ActorKind = "admin"
	ActorPaymentBridge ActorKind = "payment_bridge"
	ActorSystem        ActorKind = "system"
)

// Actor records the principal behind a transition.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
}

// String renders the actor as kind:id for logs and event attributes.
func (a Actor) String() string {
	if a.ID == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + ":" + a.ID
}

// StatusTransition is an immutable record of one status change.
type StatusTransition struct {
	Status    OrderStatus
	ChangedAt time.Time
	Notes     *string
	Actor     Actor
}

// OrderItem snapshots a resolved cart line at order time.
type OrderItem struct {
	ProductID string
	Name      string
	Price     int64
	Quantity  int
	SellerID  string
}

// LineTotal returns price multiplied by quantity.
func (i OrderItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

// CheckedLineTotal is LineTotal that reports false for negative inputs or when the
// product does not fit in an int64.
func (i OrderItem) CheckedLineTotal() (int64, bool) {
	if i.Price < 0 || i.Quantity < 0 {
		return 0, false
	}
	if i.Quantity > 0 && i.Price > math.MaxInt64/int64(i.Quantity) {
		return 0, false
	}
	return i.Price * int64(i.Quantity), true
}

// Order is the durable record produced by checkout. Monetary fields use the
// smallest currency unit.
type Order struct {
	ID                string
	BuyerID           string
	Items             []OrderItem
	Currency          string
	Subtotal          int64
	Discount          int64
	Total             int64
	ShippingAddress   Address
	CouponCode        *string
	Status            OrderStatus
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	StatusHistory     []StatusTransition
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// Version increments on every committed transition.
	Version int64
}

// HasSeller reports whether any item in the order belongs to sellerID.
func (o Order) HasSeller(sellerID string) bool {
	if sellerID == "" {
		return false
	}
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// LastTransition returns the most recent history entry.
func (o Order) LastTransition() (StatusTransition, bool) {
	if len(o.StatusHistory) == 0 {
		return StatusTransition{}, false
	}
	return o.StatusHistory[len(o.StatusHistory)-1], true
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	BuyerID    string
	Status     []OrderStatus
	Pagination Pagination
}

// OrderEventStatusChanged is the event type published after every committed transition.
const OrderEventStatusChanged = "order.status.changed"

// OrderEvent is the message published to the order event topic after a transition commits.
type OrderEvent struct {
	Type           string      `json:"type"`
	OrderID        string      `json:"orderId"`
	BuyerID        string      `json:"buyerId"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previousStatus,omitempty"`
	Actor          Actor       `json:"actor"`
	ChangedAt      time.Time   `json:"changedAt"`
}
