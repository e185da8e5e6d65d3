package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

func TestCouponValidatorValidate(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	repo := &memCouponRepo{coupons: map[string]domain.Coupon{
		"SAVE5":    {Code: "SAVE5", DiscountType: domain.DiscountFixed, Value: 500, Active: true},
		"BIG100":   {Code: "BIG100", DiscountType: domain.DiscountFixed, Value: 100, Active: true},
		"TENPCT":   {Code: "TENPCT", DiscountType: domain.DiscountPercent, Value: 10, Active: true},
		"ALL":      {Code: "ALL", DiscountType: domain.DiscountPercent, Value: 150, Active: true},
		"OFF":      {Code: "OFF", DiscountType: domain.DiscountFixed, Value: 100, Active: false},
		"OLD":      {Code: "OLD", DiscountType: domain.DiscountFixed, Value: 100, Active: true, ExpiresAt: &past},
		"SOON":     {Code: "SOON", DiscountType: domain.DiscountFixed, Value: 100, Active: true, ExpiresAt: &future},
		"EXACTNOW": {Code: "EXACTNOW", DiscountType: domain.DiscountFixed, Value: 100, Active: true, ExpiresAt: &now},
		"MIN1000":  {Code: "MIN1000", DiscountType: domain.DiscountFixed, Value: 100, Active: true, MinSubtotal: int64Ptr(1000)},
	}}
	validator, err := NewCouponValidator(CouponValidatorDeps{Coupons: repo})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	cases := []struct {
		name     string
		code     string
		subtotal int64
		want     int64
		wantErr  error
	}{
		{name: "fixed", code: "SAVE5", subtotal: 2000, want: 500},
		{name: "normalises code", code: "  save5 ", subtotal: 2000, want: 500},
		{name: "fixed clamped to subtotal", code: "BIG100", subtotal: 50, want: 50},
		{name: "percent floors", code: "TENPCT", subtotal: 1999, want: 199},
		{name: "percent clamped", code: "ALL", subtotal: 300, want: 300},
		{name: "percent of large subtotal", code: "TENPCT", subtotal: math.MaxInt64, want: math.MaxInt64 / 10},
		{name: "unknown", code: "NOPE", subtotal: 100, wantErr: ErrCouponNotFound},
		{name: "inactive", code: "OFF", subtotal: 100, wantErr: ErrCouponNotFound},
		{name: "blank", code: " ", subtotal: 100, wantErr: ErrCouponNotFound},
		{name: "expired", code: "OLD", subtotal: 100, wantErr: ErrCouponExpired},
		{name: "not yet expired", code: "SOON", subtotal: 100, want: 100},
		{name: "expiry instant still valid", code: "EXACTNOW", subtotal: 100, want: 100},
		{name: "below minimum", code: "MIN1000", subtotal: 999, wantErr: ErrCouponMinimumNotMet},
		{name: "at minimum", code: "MIN1000", subtotal: 1000, want: 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			discount, err := validator.Validate(context.Background(), tc.code, tc.subtotal, now)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if discount.Amount != tc.want {
				t.Fatalf("expected discount %d, got %d", tc.want, discount.Amount)
			}
			if discount.Amount > tc.subtotal {
				t.Fatalf("discount %d exceeds subtotal %d", discount.Amount, tc.subtotal)
			}
		})
	}
}

func TestCouponValidatorPropagatesBackendErrors(t *testing.T) {
	validator, err := NewCouponValidator(CouponValidatorDeps{Coupons: &memCouponRepo{err: errUnavailable()}})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	_, err = validator.Validate(context.Background(), "SAVE5", 100, time.Now())
	if err == nil || errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !isSystemic(err) {
		t.Fatalf("expected unavailable error to stay systemic: %v", err)
	}
}
