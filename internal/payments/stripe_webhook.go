package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrInvalidWebhookSignature is returned when the Stripe-Signature header does not verify.
var ErrInvalidWebhookSignature = errors.New("payments: invalid webhook signature")

// WebhookEvent is the part of a provider callback the coordinator acts on.
type WebhookEvent struct {
	ID          string
	Type        string
	ProviderRef string
}

// Relevant reports whether the event concerns a payment intent.
func (e WebhookEvent) Relevant() bool {
	return e.ProviderRef != "" && strings.HasPrefix(e.Type, "payment_intent.")
}

// ParseStripeWebhook verifies the signature and extracts the payment intent reference.
// Events for other objects are returned with an empty ProviderRef.
func ParseStripeWebhook(payload []byte, signature, secret string) (WebhookEvent, error) {
	if strings.TrimSpace(secret) == "" {
		return WebhookEvent{}, errors.New("payments: webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	result := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(result.Type, "payment_intent.") || event.Data == nil {
		return result, nil
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("payments: decode payment intent event: %w", err)
	}
	result.ProviderRef = intent.ID
	return result, nil
}
