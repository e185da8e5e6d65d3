package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// CouponValidatorDeps bundles collaborators for the coupon validator.
type CouponValidatorDeps struct {
	Coupons repositories.CouponRepository
}

type couponValidator struct {
	coupons repositories.CouponRepository
}

var _ CouponValidator = (*couponValidator)(nil)

// NewCouponValidator constructs a read-only coupon validator.
func NewCouponValidator(deps CouponValidatorDeps) (CouponValidator, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon validator: coupon repository is required")
	}
	return &couponValidator{coupons: deps.Coupons}, nil
}

// NormalizeCouponCode upper-cases and trims a coupon code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (v *couponValidator) Validate(ctx context.Context, code string, subtotal int64, now time.Time) (Discount, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return Discount{}, ErrCouponNotFound
	}
	if subtotal < 0 {
		return Discount{}, fmt.Errorf("%w: subtotal must not be negative", ErrCheckoutInvalidInput)
	}

	coupon, err := v.coupons.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return Discount{}, ErrCouponNotFound
		}
		return Discount{}, fmt.Errorf("coupon: lookup %s: %w", code, err)
	}
	if !coupon.Active {
		return Discount{}, ErrCouponNotFound
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return Discount{}, ErrCouponExpired
	}
	if coupon.MinSubtotal != nil && subtotal < *coupon.MinSubtotal {
		return Discount{}, ErrCouponMinimumNotMet
	}

	return Discount{
		Code:   code,
		Type:   coupon.DiscountType,
		Amount: discountAmount(coupon, subtotal),
	}, nil
}

// discountAmount floors percent discounts and clamps every discount to [0, subtotal].
func discountAmount(coupon domain.Coupon, subtotal int64) int64 {
	var amount int64
	switch coupon.DiscountType {
	case domain.DiscountPercent:
		if coupon.Value >= 100 {
			return subtotal
		}
		// floor(subtotal*value/100) without forming the full product.
		amount = subtotal/100*coupon.Value + subtotal%100*coupon.Value/100
	default:
		amount = coupon.Value
	}
	return max(0, min(amount, subtotal))
}
