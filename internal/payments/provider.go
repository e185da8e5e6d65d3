package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/checkout/internal/domain"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrIntentNotFound is returned when the provider has no intent for the reference.
	ErrIntentNotFound = errors.New("payments: intent not found")
)

// CreateIntentRequest describes the amount to collect for one order.
type CreateIntentRequest struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the provider-side payment intent. ClientSecret is handed to the buyer and
// never persisted.
type Intent struct {
	Provider     string
	ID           string
	ClientSecret string
	Status       domain.PaymentIntentStatus
	Amount       int64
	Currency     string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	GetIntentStatus(ctx context.Context, id string) (domain.PaymentIntentStatus, error)
	CancelIntent(ctx context.Context, id string) error
}

// Manager selects a provider per currency and tags intents with the provider name so
// later status queries reach the same PSP.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normalizeProviderKey(provider)
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = normalizeProviderKey(provider)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:      make(map[string]Provider, len(providers)),
		currencyRoutes: make(map[string]string),
	}
	for k, v := range providers {
		key := normalizeProviderKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		m.providers[key] = v
	}
	if _, ok := m.providers["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// CreateIntent routes by currency and records which provider served the request.
func (m *Manager) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	key, provider, err := m.forCurrency(req.Currency)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// GetIntentStatus queries the provider that created the intent.
func (m *Manager) GetIntentStatus(ctx context.Context, providerName, id string) (domain.PaymentIntentStatus, error) {
	provider, err := m.byName(providerName)
	if err != nil {
		return "", err
	}
	return provider.GetIntentStatus(ctx, id)
}

// GetIntent fetches the intent from the provider that created it.
func (m *Manager) GetIntent(ctx context.Context, providerName, id string) (Intent, error) {
	provider, err := m.byName(providerName)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.GetIntent(ctx, id)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = normalizeProviderKey(providerName)
	if intent.Provider == "" {
		intent.Provider = m.defaultProvider
	}
	return intent, nil
}

// CancelIntent cancels the intent at the provider that created it.
func (m *Manager) CancelIntent(ctx context.Context, providerName, id string) error {
	provider, err := m.byName(providerName)
	if err != nil {
		return err
	}
	return provider.CancelIntent(ctx, id)
}

func (m *Manager) forCurrency(currency string) (string, Provider, error) {
	if key, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

func (m *Manager) byName(name string) (Provider, error) {
	key := normalizeProviderKey(name)
	if key == "" {
		key = m.defaultProvider
	}
	if p, ok := m.providers[key]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
}

func normalizeProviderKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
