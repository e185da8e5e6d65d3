package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/repositories"
)

// CartServiceDeps bundles collaborators for the server-side cart store.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Resolver ProductResolver
	Catalog  repositories.CatalogRepository
	Coupons  CouponValidator
	Ledger   OrderLedger
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts  repositories.CartRepository
	drafts *orderDraftBuilder
	ledger OrderLedger
	logger func(context.Context, string, map[string]any)
}

var _ CartStore = (*cartService)(nil)

// NewCartService constructs the cart store backing the cart-sync checkout path.
func NewCartService(deps CartServiceDeps) (CartStore, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("cart service: order ledger is required")
	}
	drafts, err := newOrderDraftBuilder(deps.Resolver, deps.Catalog, deps.Coupons, deps.Clock)
	if err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		carts:  deps.Carts,
		drafts: drafts,
		ledger: deps.Ledger,
		logger: logger,
	}, nil
}

func (s *cartService) PushLines(ctx context.Context, buyerID string, currency string, lines []CartLine) error {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return fmt.Errorf("%w: buyer id is required", ErrCheckoutInvalidInput)
	}
	_, err := s.carts.ReplaceLines(ctx, buyerID, currency, lines)
	return err
}

func (s *cartService) MaterializeFromCart(ctx context.Context, buyerID string, address Address, couponCode string) (Order, error) {
	cart, err := s.carts.GetCart(ctx, strings.TrimSpace(buyerID))
	if err != nil {
		return Order{}, fmt.Errorf("cart service: load cart: %w", err)
	}
	if len(cart.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
	}

	cmd, err := s.drafts.build(ctx, CartSession{
		BuyerID:         cart.BuyerID,
		Lines:           cart.Lines,
		ShippingAddress: address,
		CouponCode:      NormalizeCouponCode(couponCode),
		Currency:        cart.Currency,
	})
	if err != nil {
		return Order{}, err
	}
	order, err := s.ledger.CreateOrder(ctx, cmd)
	if err != nil {
		return Order{}, err
	}

	if err := s.carts.Clear(ctx, cart.BuyerID); err != nil {
		s.logger(ctx, "cart.clear.failed", map[string]any{
			"buyerId": cart.BuyerID,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	return order, nil
}
