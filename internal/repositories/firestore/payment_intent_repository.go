package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const paymentIntentCollection = "paymentIntents"

// PaymentIntentRepository keys intents by order id, which keeps at most one intent document
// per order. Provider references of every attempt are indexed for webhook lookups.
type PaymentIntentRepository struct {
	base *pfirestore.BaseRepository[paymentIntentDocument]
}

// NewPaymentIntentRepository constructs a Firestore-backed payment intent repository.
func NewPaymentIntentRepository(provider *pfirestore.Provider) (*PaymentIntentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment intent repository requires firestore provider")
	}
	return &PaymentIntentRepository{base: pfirestore.NewBaseRepository[paymentIntentDocument](provider, paymentIntentCollection)}, nil
}

// Create inserts the first intent for an order.
func (r *PaymentIntentRepository) Create(ctx context.Context, intent domain.PaymentIntent) error {
	if strings.TrimSpace(intent.OrderID) == "" {
		return errors.New("payment intent repository: order id is required")
	}
	return r.base.Create(ctx, intent.OrderID, encodePaymentIntent(intent))
}

// FindByOrderID loads the intent for an order.
func (r *PaymentIntentRepository) FindByOrderID(ctx context.Context, orderID string) (domain.PaymentIntent, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	return decodePaymentIntent(doc.ID, doc.Data), nil
}

// FindByProviderRef finds the intent whose current or previous attempt used providerRef.
func (r *PaymentIntentRepository) FindByProviderRef(ctx context.Context, providerRef string) (domain.PaymentIntent, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return domain.PaymentIntent{}, errors.New("payment intent repository: provider ref is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("providerRefs", "array-contains", providerRef).Limit(1)
	})
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if len(docs) == 0 {
		return domain.PaymentIntent{}, pfirestore.NotFound(paymentIntentCollection + ".findByProviderRef")
	}
	return decodePaymentIntent(docs[0].ID, docs[0].Data), nil
}

// Update applies mutate to the stored intent inside a transaction.
func (r *PaymentIntentRepository) Update(ctx context.Context, orderID string, mutate repositories.PaymentIntentMutation) (domain.PaymentIntent, error) {
	if mutate == nil {
		return domain.PaymentIntent{}, errors.New("payment intent repository: mutation is required")
	}
	saved, err := r.base.Transact(ctx, orderID, func(current *paymentIntentDocument) (paymentIntentDocument, error) {
		if current == nil {
			return paymentIntentDocument{}, pfirestore.NotFound(paymentIntentCollection + ".update")
		}
		intent := decodePaymentIntent(orderID, *current)
		if err := mutate(&intent); err != nil {
			return paymentIntentDocument{}, err
		}
		intent.OrderID = orderID
		return encodePaymentIntent(intent), nil
	})
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	return decodePaymentIntent(orderID, saved), nil
}

type paymentIntentDocument struct {
	IntentID       string                   `firestore:"intentId"`
	Amount         int64                    `firestore:"amount"`
	Currency       string                   `firestore:"currency"`
	Status         string                   `firestore:"status"`
	Provider       string                   `firestore:"provider"`
	ProviderRef    string                   `firestore:"providerRef"`
	ProviderRefs   []string                 `firestore:"providerRefs"`
	Attempt        int                      `firestore:"attempt"`
	IdempotencyKey string                   `firestore:"idempotencyKey"`
	History        []paymentAttemptDocument `firestore:"history,omitempty"`
	CreatedAt      time.Time                `firestore:"createdAt"`
	UpdatedAt      time.Time                `firestore:"updatedAt"`
}

type paymentAttemptDocument struct {
	Attempt     int       `firestore:"attempt"`
	ProviderRef string    `firestore:"providerRef"`
	Status      string    `firestore:"status"`
	Amount      int64     `firestore:"amount"`
	CreatedAt   time.Time `firestore:"createdAt"`
	ClosedAt    time.Time `firestore:"closedAt"`
}

func encodePaymentIntent(intent domain.PaymentIntent) paymentIntentDocument {
	doc := paymentIntentDocument{
		IntentID:       intent.ID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Status:         string(intent.Status),
		Provider:       intent.Provider,
		ProviderRef:    intent.ProviderRef,
		Attempt:        intent.Attempt,
		IdempotencyKey: intent.IdempotencyKey,
		CreatedAt:      intent.CreatedAt.UTC(),
		UpdatedAt:      intent.UpdatedAt.UTC(),
	}
	for _, attempt := range intent.History {
		doc.History = append(doc.History, paymentAttemptDocument{
			Attempt:     attempt.Attempt,
			ProviderRef: attempt.ProviderRef,
			Status:      string(attempt.Status),
			Amount:      attempt.Amount,
			CreatedAt:   attempt.CreatedAt.UTC(),
			ClosedAt:    attempt.ClosedAt.UTC(),
		})
		if attempt.ProviderRef != "" {
			doc.ProviderRefs = append(doc.ProviderRefs, attempt.ProviderRef)
		}
	}
	if intent.ProviderRef != "" {
		doc.ProviderRefs = append(doc.ProviderRefs, intent.ProviderRef)
	}
	return doc
}

func decodePaymentIntent(orderID string, doc paymentIntentDocument) domain.PaymentIntent {
	intent := domain.PaymentIntent{
		ID:             doc.IntentID,
		OrderID:        orderID,
		Amount:         doc.Amount,
		Currency:       doc.Currency,
		Status:         domain.PaymentIntentStatus(doc.Status),
		Provider:       doc.Provider,
		ProviderRef:    doc.ProviderRef,
		Attempt:        doc.Attempt,
		IdempotencyKey: doc.IdempotencyKey,
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}
	for _, attempt := range doc.History {
		intent.History = append(intent.History, domain.PaymentAttempt{
			Attempt:     attempt.Attempt,
			ProviderRef: attempt.ProviderRef,
			Status:      domain.PaymentIntentStatus(attempt.Status),
			Amount:      attempt.Amount,
			CreatedAt:   attempt.CreatedAt.UTC(),
			ClosedAt:    attempt.ClosedAt.UTC(),
		})
	}
	return intent
}

var _ repositories.PaymentIntentRepository = (*PaymentIntentRepository)(nil)
