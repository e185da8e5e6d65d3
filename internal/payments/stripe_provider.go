package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/hanko-field/checkout/internal/domain"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger

	intents stripePaymentIntentAPI
}

// StripeProvider implements Provider with Stripe Payment Intents.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	intents := cfg.intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeProvider{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateIntent creates a Stripe Payment Intent with automatic payment methods.
func (p *StripeProvider) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, errors.New("stripe: amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})
	return Intent{
		Provider:     "stripe",
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       MapStripeStatus(intent),
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
	}, nil
}

// GetIntent retrieves an intent, including its client secret, for resuming payment.
func (p *StripeProvider) GetIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return Intent{}, fmt.Errorf("%w: %s", ErrIntentNotFound, id)
		}
		return Intent{}, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	return Intent{
		Provider:     "stripe",
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       MapStripeStatus(intent),
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
	}, nil
}

// GetIntentStatus retrieves the intent and normalises its status.
func (p *StripeProvider) GetIntentStatus(ctx context.Context, id string) (domain.PaymentIntentStatus, error) {
	intent, err := p.GetIntent(ctx, id)
	if err != nil {
		return "", err
	}
	return intent.Status, nil
}

// CancelIntent cancels an open intent. Intents that already reached a final state are left alone.
func (p *StripeProvider) CancelIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if _, err := p.intents.Cancel(id, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return nil
		}
		return fmt.Errorf("stripe: cancel payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.canceled", map[string]any{"paymentIntent": id})
	return nil
}

// MapStripeStatus normalises a Stripe intent status. A requires_payment_method intent that
// carries a last payment error is a failed attempt.
func MapStripeStatus(intent *stripe.PaymentIntent) domain.PaymentIntentStatus {
	if intent == nil {
		return domain.PaymentIntentRequiresPayment
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.PaymentIntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return domain.PaymentIntentCanceled
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return domain.PaymentIntentProcessing
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if intent.LastPaymentError != nil {
			return domain.PaymentIntentFailed
		}
		return domain.PaymentIntentRequiresPayment
	default:
		return domain.PaymentIntentRequiresPayment
	}
}
