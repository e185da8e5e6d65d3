package domain

import "time"

// DiscountType enumerates coupon discount kinds.
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// Coupon describes a redeemable discount code. Value is a whole percentage
// for percent coupons and an amount in the smallest currency unit otherwise.
type Coupon struct {
	Code         string
	DiscountType DiscountType
	Value        int64
	MinSubtotal  *int64
	ExpiresAt    *time.Time
	Active       bool
}

// PaymentIntentStatus mirrors the provider's intent lifecycle.
type PaymentIntentStatus string

const (
	PaymentIntentRequiresPayment PaymentIntentStatus = "requires_payment"
	PaymentIntentProcessing      PaymentIntentStatus = "processing"
	PaymentIntentSucceeded       PaymentIntentStatus = "succeeded"
	PaymentIntentFailed          PaymentIntentStatus = "failed"
	PaymentIntentCanceled        PaymentIntentStatus = "canceled"
)

// Terminal reports whether the intent can no longer change state.
func (s PaymentIntentStatus) Terminal() bool {
	switch s {
	case PaymentIntentSucceeded, PaymentIntentFailed, PaymentIntentCanceled:
		return true
	}
	return false
}

// PaymentAttempt stores a superseded intent for the same order.
type PaymentAttempt struct {
	Attempt     int
	ProviderRef string
	Status      PaymentIntentStatus
	Amount      int64
	CreatedAt   time.Time
	ClosedAt    time.Time
}

// PaymentIntent tracks the provider intent tied to an order. Only the opaque
// provider reference is stored, never the client secret.
type PaymentIntent struct {
	ID             string
	OrderID        string
	Amount         int64
	Currency       string
	Status         PaymentIntentStatus
	Provider       string
	ProviderRef    string
	Attempt        int
	IdempotencyKey string
	History        []PaymentAttempt
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
