package repositories

import (
	"context"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderMutation mutates an order loaded inside a repository transaction. Returning an
// error aborts the transaction without writing.
type OrderMutation func(order *domain.Order) error

// OrderRepository persists orders together with their embedded status history.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error)
	// Transition loads the order, applies mutate and writes the result as a single
	// atomic read-modify-write scoped to the order document.
	Transition(ctx context.Context, orderID string, mutate OrderMutation) (domain.Order, error)
}

// PaymentIntentMutation mutates a payment intent inside a repository transaction.
type PaymentIntentMutation func(intent *domain.PaymentIntent) error

// PaymentIntentRepository stores one payment intent document per order id.
type PaymentIntentRepository interface {
	// Create inserts the intent and reports a conflict when one already exists for the order.
	Create(ctx context.Context, intent domain.PaymentIntent) error
	FindByOrderID(ctx context.Context, orderID string) (domain.PaymentIntent, error)
	FindByProviderRef(ctx context.Context, providerRef string) (domain.PaymentIntent, error)
	Update(ctx context.Context, orderID string, mutate PaymentIntentMutation) (domain.PaymentIntent, error)
}

// CouponRepository reads coupon definitions.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
}

// CatalogRepository exposes the catalog lookups used during checkout.
type CatalogRepository interface {
	LookupByKey(ctx context.Context, productID string) (domain.Product, error)
	SearchByName(ctx context.Context, name string) ([]domain.Product, error)
}

// CartRepository persists the server-side cart used by the cart-sync checkout path.
type CartRepository interface {
	GetCart(ctx context.Context, buyerID string) (domain.Cart, error)
	ReplaceLines(ctx context.Context, buyerID string, currency string, lines []domain.CartLine) (domain.Cart, error)
	Clear(ctx context.Context, buyerID string) error
}

// HealthRepository collects dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
