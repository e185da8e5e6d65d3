package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository reads coupon definitions stored under their upper-case code.
type CouponRepository struct {
	base *pfirestore.BaseRepository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{base: pfirestore.NewBaseRepository[couponDocument](provider, couponCollection)}, nil
}

// FindByCode loads the coupon for code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.Contains(code, "/") {
		return domain.Coupon{}, pfirestore.NotFound(couponCollection + ".get")
	}
	doc, err := r.base.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return domain.Coupon{
		Code:         doc.ID,
		DiscountType: domain.DiscountType(strings.ToLower(doc.Data.DiscountType)),
		Value:        doc.Data.Value,
		MinSubtotal:  doc.Data.MinSubtotal,
		ExpiresAt:    doc.Data.ExpiresAt,
		Active:       doc.Data.Active,
	}, nil
}

type couponDocument struct {
	DiscountType string     `firestore:"discountType"`
	Value        int64      `firestore:"value"`
	MinSubtotal  *int64     `firestore:"minSubtotal,omitempty"`
	ExpiresAt    *time.Time `firestore:"expiresAt,omitempty"`
	Active       bool       `firestore:"active"`
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
