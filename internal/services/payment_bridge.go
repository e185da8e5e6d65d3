package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	defaultProviderTimeout = 5 * time.Second
	paymentMeterName       = "github.com/hanko-field/checkout/internal/services"
	// providerNone marks zero-amount orders that never reach a payment provider.
	providerNone = "none"
)

var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://hanko-field.app/checkout/payment-intents"))

// PaymentBridgeDeps bundles collaborators for the payment bridge.
type PaymentBridgeDeps struct {
	Ledger          OrderLedger
	Intents         repositories.PaymentIntentRepository
	Gateway         PaymentGateway
	ProviderTimeout time.Duration
	Meter           metric.Meter
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type paymentBridge struct {
	ledger   OrderLedger
	intents  repositories.PaymentIntentRepository
	gateway  PaymentGateway
	timeout  time.Duration
	locks    *orderLocks
	outcomes metric.Int64Counter
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ PaymentBridge = (*paymentBridge)(nil)

// NewPaymentBridge constructs the bridge between provider intents and the order ledger.
func NewPaymentBridge(deps PaymentBridgeDeps) (PaymentBridge, error) {
	if deps.Ledger == nil {
		return nil, errors.New("payment bridge: order ledger is required")
	}
	if deps.Intents == nil {
		return nil, errors.New("payment bridge: payment intent repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment bridge: payment gateway is required")
	}

	timeout := deps.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(paymentMeterName)
	}
	outcomes, err := meter.Int64Counter("payments.confirm.outcomes",
		metric.WithDescription("Payment confirmation attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("payment bridge: create counter: %w", err)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentBridge{
		ledger:   deps.Ledger,
		intents:  deps.Intents,
		gateway:  deps.Gateway,
		timeout:  timeout,
		locks:    newOrderLocks(),
		outcomes: outcomes,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (b *paymentBridge) CreateIntent(ctx context.Context, orderID string) (IntentResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return IntentResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	unlock, err := b.locks.acquire(ctx, orderID)
	if err != nil {
		return IntentResult{}, err
	}
	defer unlock()

	order, err := b.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return IntentResult{}, err
	}

	existing, err := b.intents.FindByOrderID(ctx, orderID)
	switch {
	case err == nil:
		if !existing.Status.Terminal() && order.Status == domain.OrderStatusPending {
			return b.resumeIntent(ctx, existing), nil
		}
	case isRepoNotFound(err):
		existing = PaymentIntent{}
	default:
		return IntentResult{}, fmt.Errorf("payment: load intent for %s: %w", orderID, err)
	}
	if order.Status != domain.OrderStatusPending {
		return IntentResult{}, fmt.Errorf("%w: order %s is %s", ErrPaymentNotPayable, orderID, order.Status)
	}
	if order.Total == 0 || existing.Provider == providerNone {
		return b.settleWithoutProvider(ctx, order, existing)
	}
	if existing.Status == domain.PaymentIntentSucceeded {
		return IntentResult{}, fmt.Errorf("%w: order %s is %s", ErrPaymentNotPayable, orderID, order.Status)
	}

	attempt := existing.Attempt + 1
	key := intentIdempotencyKey(orderID, attempt)
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	created, err := b.gateway.CreateIntent(callCtx, payments.CreateIntentRequest{
		Amount:         order.Total,
		Currency:       order.Currency,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"order_id": order.ID,
			"buyer_id": order.BuyerID,
			"attempt":  strconv.Itoa(attempt),
		},
	})
	if err != nil {
		b.logger(ctx, "payment.intent.create.failed", map[string]any{
			"orderId": orderID,
			"attempt": attempt,
			"error":   err.Error(),
		})
		return IntentResult{}, fmt.Errorf("%w: %v", ErrPaymentProviderUnavailable, err)
	}

	now := b.clock()
	status := created.Status
	if status == "" {
		status = domain.PaymentIntentRequiresPayment
	}
	intent := PaymentIntent{
		ID:             "pi_" + b.newID(),
		OrderID:        orderID,
		Amount:         order.Total,
		Currency:       order.Currency,
		Status:         status,
		Provider:       created.Provider,
		ProviderRef:    created.ID,
		Attempt:        attempt,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if existing.Attempt == 0 {
		err = b.intents.Create(ctx, intent)
	} else {
		intent, err = b.intents.Update(ctx, orderID, func(current *PaymentIntent) error {
			if !current.Status.Terminal() || current.Attempt != existing.Attempt {
				return errIntentChanged(orderID)
			}
			intent.History = append(current.History, domain.PaymentAttempt{
				Attempt:     current.Attempt,
				ProviderRef: current.ProviderRef,
				Status:      current.Status,
				Amount:      current.Amount,
				CreatedAt:   current.CreatedAt,
				ClosedAt:    current.UpdatedAt,
			})
			*current = intent
			return nil
		})
	}
	if err != nil {
		return IntentResult{}, fmt.Errorf("payment: persist intent for %s: %w", orderID, err)
	}

	b.logger(ctx, "payment.intent.created", map[string]any{
		"orderId":     orderID,
		"providerRef": intent.ProviderRef,
		"attempt":     attempt,
		"amount":      intent.Amount,
	})
	return IntentResult{Intent: intent, ClientSecret: created.ClientSecret}, nil
}

// resumeIntent returns the open intent with a client secret fetched from the provider, so a
// buyer who lost the first response can still pay. The secret is omitted if the lookup fails.
func (b *paymentBridge) resumeIntent(ctx context.Context, intent PaymentIntent) IntentResult {
	result := IntentResult{Intent: intent, Reused: true}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	remote, err := b.gateway.GetIntent(callCtx, intent.Provider, intent.ProviderRef)
	if err != nil {
		b.logger(ctx, "payment.intent.resume.failed", map[string]any{
			"orderId":     intent.OrderID,
			"providerRef": intent.ProviderRef,
			"error":       err.Error(),
		})
		return result
	}
	result.ClientSecret = remote.ClientSecret
	return result
}

// settleWithoutProvider confirms a pending order whose total was fully discounted. The
// order moves first; a recorded settlement left behind by a failed transition is reused.
func (b *paymentBridge) settleWithoutProvider(ctx context.Context, order Order, existing PaymentIntent) (IntentResult, error) {
	if _, err := b.confirmWithoutPayment(ctx, order.ID); err != nil {
		return IntentResult{}, err
	}
	if existing.Provider == providerNone {
		return IntentResult{Intent: existing}, nil
	}

	now := b.clock()
	intent := PaymentIntent{
		ID:        "pi_" + b.newID(),
		OrderID:   order.ID,
		Currency:  order.Currency,
		Status:    domain.PaymentIntentSucceeded,
		Provider:  providerNone,
		Attempt:   existing.Attempt + 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var err error
	if existing.Attempt == 0 {
		err = b.intents.Create(ctx, intent)
	} else {
		intent, err = b.intents.Update(ctx, order.ID, func(current *PaymentIntent) error {
			if current.Attempt != existing.Attempt {
				return errIntentChanged(order.ID)
			}
			*current = intent
			return nil
		})
	}
	if err != nil {
		// The order is already confirmed; only the settlement record is missing.
		b.logger(ctx, "payment.settlement.record.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	return IntentResult{Intent: intent}, nil
}

func (b *paymentBridge) confirmWithoutPayment(ctx context.Context, orderID string) (Order, error) {
	return b.ledger.Transition(ctx, OrderTransitionCommand{
		OrderID: orderID,
		Target:  domain.OrderStatusConfirmed,
		Actor:   Actor{Kind: domain.ActorPaymentBridge},
		Notes:   "no payment required",
	})
}

func (b *paymentBridge) ConfirmOrder(ctx context.Context, orderID string) (ConfirmationResult, error) {
	intent, err := b.intents.FindByOrderID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		if isRepoNotFound(err) {
			return ConfirmationResult{}, fmt.Errorf("%w: order %s", ErrPaymentIntentNotFound, orderID)
		}
		return ConfirmationResult{}, fmt.Errorf("payment: load intent for %s: %w", orderID, err)
	}
	if intent.Provider == providerNone {
		return b.confirmSettled(ctx, intent)
	}
	return b.Confirm(ctx, intent.ProviderRef)
}

// confirmSettled reports on an order settled without a provider and finishes the
// order transition when an earlier attempt left it pending.
func (b *paymentBridge) confirmSettled(ctx context.Context, intent PaymentIntent) (ConfirmationResult, error) {
	unlock, err := b.locks.acquire(ctx, intent.OrderID)
	if err != nil {
		return ConfirmationResult{}, err
	}
	defer unlock()

	order, err := b.ledger.GetOrder(ctx, intent.OrderID)
	if err != nil {
		return ConfirmationResult{}, err
	}
	result := ConfirmationResult{
		OrderID:      order.ID,
		Outcome:      ConfirmationConfirmed,
		IntentStatus: intent.Status,
		OrderStatus:  order.Status,
	}
	switch order.Status {
	case domain.OrderStatusPending:
		order, err = b.confirmWithoutPayment(ctx, order.ID)
		if err != nil {
			return ConfirmationResult{}, err
		}
		result.OrderStatus = order.Status
		result.Changed = true
	case domain.OrderStatusCancelled:
		result.Outcome = ConfirmationFailed
	}
	return result, nil
}

func (b *paymentBridge) Confirm(ctx context.Context, providerRef string) (ConfirmationResult, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return ConfirmationResult{}, fmt.Errorf("%w: provider reference is required", ErrPaymentIntentNotFound)
	}
	located, err := b.intents.FindByProviderRef(ctx, providerRef)
	if err != nil {
		if isRepoNotFound(err) {
			return ConfirmationResult{}, fmt.Errorf("%w: %s", ErrPaymentIntentNotFound, providerRef)
		}
		return ConfirmationResult{}, fmt.Errorf("payment: find intent %s: %w", providerRef, err)
	}

	unlock, err := b.locks.acquire(ctx, located.OrderID)
	if err != nil {
		return ConfirmationResult{}, err
	}
	defer unlock()

	result, err := b.confirmLocked(ctx, located.OrderID, providerRef)
	outcome := string(result.Outcome)
	if outcome == "" {
		outcome = "error"
	}
	b.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return result, err
}

func (b *paymentBridge) confirmLocked(ctx context.Context, orderID, providerRef string) (ConfirmationResult, error) {
	intent, err := b.intents.FindByOrderID(ctx, orderID)
	if err != nil {
		return ConfirmationResult{}, fmt.Errorf("payment: reload intent for %s: %w", orderID, err)
	}
	result := ConfirmationResult{
		OrderID:      orderID,
		ProviderRef:  providerRef,
		IntentStatus: intent.Status,
	}

	if intent.ProviderRef != providerRef {
		result.Outcome = ConfirmationSuperseded
		b.logger(ctx, "payment.confirm.superseded", map[string]any{
			"orderId":     orderID,
			"providerRef": providerRef,
			"current":     intent.ProviderRef,
		})
		return result, nil
	}
	switch intent.Status {
	case domain.PaymentIntentSucceeded:
		order, err := b.ledger.GetOrder(ctx, orderID)
		if err != nil {
			return ConfirmationResult{}, err
		}
		result.OrderStatus = order.Status
		if order.Status == domain.OrderStatusCancelled {
			result.Outcome = ConfirmationFailed
			return result, fmt.Errorf("%w: order %s was cancelled after payment", ErrOrderAlreadyTerminal, orderID)
		}
		result.Outcome = ConfirmationConfirmed
		return result, nil
	case domain.PaymentIntentFailed, domain.PaymentIntentCanceled:
		result.Outcome = ConfirmationFailed
		result.OrderStatus = domain.OrderStatusPending
		return result, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	status, err := b.gateway.GetIntentStatus(callCtx, intent.Provider, providerRef)
	if err != nil {
		b.logger(ctx, "payment.confirm.inconclusive", map[string]any{
			"orderId":     orderID,
			"providerRef": providerRef,
			"error":       err.Error(),
		})
		result.Outcome = ConfirmationInconclusive
		return result, nil
	}

	switch status {
	case domain.PaymentIntentSucceeded:
		return b.applySucceeded(ctx, intent, result)
	case domain.PaymentIntentFailed, domain.PaymentIntentCanceled:
		updated, err := b.markIntent(ctx, orderID, providerRef, status)
		if err != nil {
			return ConfirmationResult{}, err
		}
		result.IntentStatus = updated.Status
		result.Outcome = ConfirmationFailed
		result.OrderStatus = domain.OrderStatusPending
		result.Changed = true
		b.logger(ctx, "payment.intent.closed", map[string]any{
			"orderId":     orderID,
			"providerRef": providerRef,
			"status":      string(status),
		})
		return result, nil
	case domain.PaymentIntentProcessing:
		if intent.Status != domain.PaymentIntentProcessing {
			if _, err := b.markIntent(ctx, orderID, providerRef, status); err != nil {
				return ConfirmationResult{}, err
			}
			result.IntentStatus = status
			result.Changed = true
		}
		result.Outcome = ConfirmationPending
		result.OrderStatus = domain.OrderStatusPending
		return result, nil
	default:
		result.Outcome = ConfirmationPending
		result.OrderStatus = domain.OrderStatusPending
		return result, nil
	}
}

// applySucceeded confirms the order before marking the intent, so a crash in between is
// repaired by the next confirmation.
func (b *paymentBridge) applySucceeded(ctx context.Context, intent PaymentIntent, result ConfirmationResult) (ConfirmationResult, error) {
	order, err := b.ledger.GetOrder(ctx, intent.OrderID)
	if err != nil {
		return ConfirmationResult{}, err
	}

	var transitionErr error
	if order.Status == domain.OrderStatusPending {
		order, transitionErr = b.ledger.Transition(ctx, OrderTransitionCommand{
			OrderID: intent.OrderID,
			Target:  domain.OrderStatusConfirmed,
			Actor:   Actor{Kind: domain.ActorPaymentBridge},
			Notes:   "payment " + intent.ProviderRef + " succeeded",
		})
		switch {
		case transitionErr == nil:
			result.Changed = true
		case errors.Is(transitionErr, ErrOrderAlreadyTerminal):
		default:
			return ConfirmationResult{}, transitionErr
		}
	}
	if transitionErr != nil || order.Status == domain.OrderStatusCancelled {
		// The money moved but the order cannot ship; record it for refund handling.
		if _, err := b.markIntent(ctx, intent.OrderID, intent.ProviderRef, domain.PaymentIntentSucceeded); err != nil {
			return ConfirmationResult{}, err
		}
		b.logger(ctx, "payment.confirm.order_terminal", map[string]any{
			"orderId":     intent.OrderID,
			"providerRef": intent.ProviderRef,
		})
		result.IntentStatus = domain.PaymentIntentSucceeded
		result.OrderStatus = domain.OrderStatusCancelled
		result.Outcome = ConfirmationFailed
		return result, fmt.Errorf("%w: order %s was cancelled before payment settled", ErrOrderAlreadyTerminal, intent.OrderID)
	}

	if _, err := b.markIntent(ctx, intent.OrderID, intent.ProviderRef, domain.PaymentIntentSucceeded); err != nil {
		return ConfirmationResult{}, err
	}
	result.Changed = true
	result.IntentStatus = domain.PaymentIntentSucceeded
	result.OrderStatus = order.Status
	result.Outcome = ConfirmationConfirmed
	b.logger(ctx, "payment.confirm.succeeded", map[string]any{
		"orderId":     intent.OrderID,
		"providerRef": intent.ProviderRef,
	})
	return result, nil
}

func (b *paymentBridge) markIntent(ctx context.Context, orderID, providerRef string, status domain.PaymentIntentStatus) (PaymentIntent, error) {
	updated, err := b.intents.Update(ctx, orderID, func(intent *PaymentIntent) error {
		if intent.ProviderRef != providerRef {
			return errIntentChanged(orderID)
		}
		intent.Status = status
		intent.UpdatedAt = b.clock()
		return nil
	})
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("payment: update intent for %s: %w", orderID, err)
	}
	return updated, nil
}

func (b *paymentBridge) CancelOpenIntent(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	unlock, err := b.locks.acquire(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	intent, err := b.intents.FindByOrderID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return fmt.Errorf("payment: load intent for %s: %w", orderID, err)
	}
	if intent.Status.Terminal() || intent.Provider == providerNone {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.gateway.CancelIntent(callCtx, intent.Provider, intent.ProviderRef); err != nil {
		return fmt.Errorf("%w: cancel %s: %v", ErrPaymentProviderUnavailable, intent.ProviderRef, err)
	}
	_, err = b.markIntent(ctx, orderID, intent.ProviderRef, domain.PaymentIntentCanceled)
	return err
}

func intentIdempotencyKey(orderID string, attempt int) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(orderID+":"+strconv.Itoa(attempt))).String()
}

func errIntentChanged(orderID string) error {
	return fmt.Errorf("%w: payment intent for %s changed concurrently", ErrOrderConflict, orderID)
}
