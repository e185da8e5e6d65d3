package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	strategyDirect   = "direct"
	strategyCartSync = "cart_sync"
)

// CartMaterializerDeps bundles collaborators for the cart materializer.
type CartMaterializerDeps struct {
	Resolver        ProductResolver
	Catalog         repositories.CatalogRepository
	Coupons         CouponValidator
	Ledger          OrderLedger
	Carts           CartStore
	DefaultCurrency string
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type materializeStrategy struct {
	name string
	run  func(ctx context.Context, session CartSession) (Order, error)
}

type strategyResult struct {
	name  string
	order Order
	err   error
}

type cartMaterializer struct {
	drafts     *orderDraftBuilder
	ledger     OrderLedger
	carts      CartStore
	currency   string
	logger     func(context.Context, string, map[string]any)
	strategies []materializeStrategy
}

var _ CartMaterializer = (*cartMaterializer)(nil)

// NewCartMaterializer wires the direct strategy and, when a cart store is supplied, the
// cart-sync fallback.
func NewCartMaterializer(deps CartMaterializerDeps) (CartMaterializer, error) {
	if deps.Ledger == nil {
		return nil, errors.New("cart materializer: order ledger is required")
	}
	drafts, err := newOrderDraftBuilder(deps.Resolver, deps.Catalog, deps.Coupons, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("cart materializer: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	m := &cartMaterializer{
		drafts:   drafts,
		ledger:   deps.Ledger,
		carts:    deps.Carts,
		currency: strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency)),
		logger:   logger,
	}
	m.strategies = []materializeStrategy{{name: strategyDirect, run: m.materializeDirect}}
	if deps.Carts != nil {
		m.strategies = append(m.strategies, materializeStrategy{name: strategyCartSync, run: m.materializeViaCart})
	}
	return m, nil
}

func (m *cartMaterializer) Materialize(ctx context.Context, session CartSession) (Order, error) {
	session, err := m.normalizeSession(session)
	if err != nil {
		return Order{}, err
	}

	var primary strategyResult
	for i, strategy := range m.strategies {
		result := strategyResult{name: strategy.name}
		result.order, result.err = strategy.run(ctx, session)
		if result.err == nil {
			if i > 0 {
				m.logger(ctx, "checkout.fallback.succeeded", map[string]any{
					"buyerId":  session.BuyerID,
					"strategy": result.name,
					"orderId":  result.order.ID,
					"cause":    primary.err.Error(),
				})
			}
			return result.order, nil
		}

		if i == 0 {
			primary = result
		} else {
			m.logger(ctx, "checkout.fallback.failed", map[string]any{
				"buyerId":  session.BuyerID,
				"strategy": result.name,
				"error":    result.err.Error(),
			})
		}
		if !isSystemic(result.err) {
			break
		}
	}
	return Order{}, primary.err
}

func (m *cartMaterializer) normalizeSession(session CartSession) (CartSession, error) {
	session.BuyerID = strings.TrimSpace(session.BuyerID)
	if session.BuyerID == "" {
		return CartSession{}, fmt.Errorf("%w: buyer id is required", ErrCheckoutInvalidInput)
	}
	if len(session.Lines) == 0 {
		return CartSession{}, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}
	for i, line := range session.Lines {
		if line.Ref == nil {
			return CartSession{}, fmt.Errorf("%w: line %d has no product reference", ErrCheckoutInvalidInput, i)
		}
		if line.Quantity < 1 {
			return CartSession{}, fmt.Errorf("%w: line %d quantity must be at least 1", ErrCheckoutInvalidInput, i)
		}
		if line.UnitPrice < 0 {
			return CartSession{}, fmt.Errorf("%w: line %d price must not be negative", ErrCheckoutInvalidInput, i)
		}
	}
	session.Currency = strings.ToUpper(strings.TrimSpace(session.Currency))
	if session.Currency == "" {
		session.Currency = m.currency
	}
	if session.Currency == "" {
		return CartSession{}, fmt.Errorf("%w: currency is required", ErrCheckoutInvalidInput)
	}
	session.CouponCode = NormalizeCouponCode(session.CouponCode)
	return session, nil
}

func (m *cartMaterializer) materializeDirect(ctx context.Context, session CartSession) (Order, error) {
	cmd, err := m.drafts.build(ctx, session)
	if err != nil {
		return Order{}, err
	}
	return m.ledger.CreateOrder(ctx, cmd)
}

func (m *cartMaterializer) materializeViaCart(ctx context.Context, session CartSession) (Order, error) {
	if err := m.carts.PushLines(ctx, session.BuyerID, session.Currency, session.Lines); err != nil {
		return Order{}, fmt.Errorf("checkout: push cart lines: %w", err)
	}
	return m.carts.MaterializeFromCart(ctx, session.BuyerID, session.ShippingAddress, session.CouponCode)
}

// orderDraftBuilder resolves every line and prices the order before anything is written.
type orderDraftBuilder struct {
	resolver ProductResolver
	catalog  repositories.CatalogRepository
	coupons  CouponValidator
	clock    func() time.Time
}

func newOrderDraftBuilder(resolver ProductResolver, catalog repositories.CatalogRepository, coupons CouponValidator, clock func() time.Time) (*orderDraftBuilder, error) {
	if resolver == nil {
		return nil, errors.New("product resolver is required")
	}
	if catalog == nil {
		return nil, errors.New("catalog repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &orderDraftBuilder{
		resolver: resolver,
		catalog:  catalog,
		coupons:  coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (b *orderDraftBuilder) build(ctx context.Context, session CartSession) (CreateOrderCommand, error) {
	items := make([]OrderItem, 0, len(session.Lines))
	for i, line := range session.Lines {
		item, err := b.snapshot(ctx, line)
		if err != nil {
			return CreateOrderCommand{}, fmt.Errorf("line %d: %w", i, err)
		}
		items = append(items, item)
	}
	subtotal, ok := orderSubtotal(items)
	if !ok {
		return CreateOrderCommand{}, fmt.Errorf("%w: order total exceeds the supported amount", ErrCheckoutInvalidInput)
	}

	cmd := CreateOrderCommand{
		BuyerID:         session.BuyerID,
		Items:           items,
		Currency:        session.Currency,
		ShippingAddress: session.ShippingAddress,
	}
	if session.CouponCode != "" {
		if b.coupons == nil {
			return CreateOrderCommand{}, fmt.Errorf("%w: coupons are not enabled", ErrCouponNotFound)
		}
		discount, err := b.coupons.Validate(ctx, session.CouponCode, subtotal, b.clock())
		if err != nil {
			return CreateOrderCommand{}, err
		}
		cmd.Discount = discount.Amount
		cmd.CouponCode = discount.Code
	}
	return cmd, nil
}

// snapshot captures the catalog price and seller at order time. The line price only
// disambiguates local aliases during resolution.
func (b *orderDraftBuilder) snapshot(ctx context.Context, line CartLine) (OrderItem, error) {
	ref, err := b.resolver.Resolve(ctx, line)
	if err != nil {
		return OrderItem{}, err
	}
	product, err := b.catalog.LookupByKey(ctx, ref.ProductID)
	if err != nil {
		if isRepoNotFound(err) {
			return OrderItem{}, fmt.Errorf("%w: %s", ErrProductNotFound, ref.ProductID)
		}
		return OrderItem{}, fmt.Errorf("checkout: lookup product %s: %w", ref.ProductID, err)
	}
	if !product.Active {
		return OrderItem{}, fmt.Errorf("%w: %s is not available", ErrProductNotFound, ref.ProductID)
	}

	name := strings.TrimSpace(line.Name)
	if name == "" {
		name = product.Name
	}
	if product.UnitPrice < 0 {
		return OrderItem{}, fmt.Errorf("%w: %s has no valid price", ErrProductNotFound, ref.ProductID)
	}
	return OrderItem{
		ProductID: ref.ProductID,
		Name:      name,
		Price:     product.UnitPrice,
		Quantity:  line.Quantity,
		SellerID:  product.SellerID,
	}, nil
}
