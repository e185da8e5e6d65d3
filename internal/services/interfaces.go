package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Address            = domain.Address
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderListFilter    = domain.OrderListFilter
	StatusTransition   = domain.StatusTransition
	Actor              = domain.Actor
	CartLine           = domain.CartLine
	CartSession        = domain.CartSession
	ResolvedRef        = domain.ResolvedRef
	PaymentIntent      = domain.PaymentIntent
	SystemHealthReport = domain.SystemHealthReport
)

// OrderEventPublisher publishes order status events after the transition commits.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

// PaymentGateway is the slice of payments.Manager used by the payment bridge.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error)
	GetIntent(ctx context.Context, provider, id string) (payments.Intent, error)
	GetIntentStatus(ctx context.Context, provider, id string) (domain.PaymentIntentStatus, error)
	CancelIntent(ctx context.Context, provider, id string) error
}

// ProductResolver maps cart line references to catalog product ids.
type ProductResolver interface {
	Resolve(ctx context.Context, line CartLine) (ResolvedRef, error)
}

// Discount is the amount a coupon takes off a subtotal.
type Discount struct {
	Code   string
	Type   domain.DiscountType
	Amount int64
}

// CouponValidator checks a coupon code against a subtotal.
type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal int64, now time.Time) (Discount, error)
}

// CreateOrderCommand carries a fully resolved order draft into the ledger.
type CreateOrderCommand struct {
	BuyerID         string
	Items           []OrderItem
	Currency        string
	Discount        int64
	CouponCode      string
	ShippingAddress Address
}

// OrderTransitionCommand requests a status change on behalf of an actor.
type OrderTransitionCommand struct {
	OrderID           string
	Target            OrderStatus
	Actor             Actor
	TrackingNumber    string
	EstimatedDelivery *time.Time
	Notes             string
}

// OrderLedger owns order records and enforces the status state machine.
type OrderLedger interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Transition(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
}

// CartMaterializer turns a cart session into a pending order.
type CartMaterializer interface {
	Materialize(ctx context.Context, session CartSession) (Order, error)
}

// CartStore is the server-side cart used when the direct materialization path fails.
type CartStore interface {
	PushLines(ctx context.Context, buyerID string, currency string, lines []CartLine) error
	MaterializeFromCart(ctx context.Context, buyerID string, address Address, couponCode string) (Order, error)
}

// IntentResult is returned when an intent is created or reused for an order.
type IntentResult struct {
	Intent PaymentIntent
	// ClientSecret is empty for settled intents and when a reused intent could not be re-read.
	ClientSecret string
	Reused       bool
}

// ConfirmationOutcome summarises what a confirmation attempt observed.
type ConfirmationOutcome string

const (
	ConfirmationConfirmed    ConfirmationOutcome = "confirmed"
	ConfirmationPending      ConfirmationOutcome = "pending"
	ConfirmationFailed       ConfirmationOutcome = "failed"
	ConfirmationInconclusive ConfirmationOutcome = "inconclusive"
	ConfirmationSuperseded   ConfirmationOutcome = "superseded"
)

// ConfirmationResult reports the state after reconciling an intent with the provider.
type ConfirmationResult struct {
	OrderID      string
	ProviderRef  string
	Outcome      ConfirmationOutcome
	IntentStatus domain.PaymentIntentStatus
	OrderStatus  OrderStatus
	// Changed is true when this call committed an order transition or intent update.
	Changed bool
}

// PaymentBridge ties provider intents to orders.
type PaymentBridge interface {
	CreateIntent(ctx context.Context, orderID string) (IntentResult, error)
	Confirm(ctx context.Context, providerRef string) (ConfirmationResult, error)
	ConfirmOrder(ctx context.Context, orderID string) (ConfirmationResult, error)
	CancelOpenIntent(ctx context.Context, orderID string) error
}

// CheckoutResult bundles the created order with its first payment intent.
type CheckoutResult struct {
	Order   Order
	Payment *IntentResult
	// PaymentErr is set when the order was created but the intent could not be.
	PaymentErr error
}

// CancelOrderCommand cancels an order on behalf of an actor.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// CheckoutService orchestrates materialization, payment and cancellation.
type CheckoutService interface {
	Checkout(ctx context.Context, session CartSession) (CheckoutResult, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// SystemService exposes health information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
