package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/checkout/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput signals a malformed checkout request.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrProductNotFound indicates a cart line could not be resolved to a catalog product.
	ErrProductNotFound = errors.New("checkout: product not found")

	// ErrCouponNotFound covers unknown and inactive coupon codes.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponExpired indicates the coupon expiry has passed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponMinimumNotMet indicates the subtotal is below the coupon minimum.
	ErrCouponMinimumNotMet = errors.New("coupon: minimum subtotal not met")

	// ErrOrderInvalidInput signals the caller provided invalid order data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a duplicate order id or an exhausted transaction retry.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrInvalidTransition indicates the requested status is not reachable from the current one.
	ErrInvalidTransition = errors.New("order: invalid transition")
	// ErrUnauthorizedTransition indicates the actor may not request the transition.
	ErrUnauthorizedTransition = errors.New("order: unauthorized transition")
	// ErrMissingTrackingNumber indicates a shipped transition without a tracking number.
	ErrMissingTrackingNumber = errors.New("order: tracking number required")
	// ErrOrderAlreadyTerminal indicates the order is delivered or cancelled.
	ErrOrderAlreadyTerminal = errors.New("order: already terminal")

	// ErrPaymentIntentNotFound indicates no intent exists for the order or provider reference.
	ErrPaymentIntentNotFound = errors.New("payment: intent not found")
	// ErrPaymentNotPayable indicates the order no longer awaits payment.
	ErrPaymentNotPayable = errors.New("payment: order is not awaiting payment")
	// ErrPaymentProviderUnavailable indicates the payment provider could not be reached.
	ErrPaymentProviderUnavailable = errors.New("payment: provider unavailable")
)

// isSystemic reports whether err is an infrastructure failure rather than a business rejection.
func isSystemic(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPaymentProviderUnavailable) {
		return true
	}
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}
