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

const cartCollection = "carts"

// CartRepository persists the server-side cart keyed by buyer id.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
	now  func() time.Time
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection),
		now:  time.Now,
	}, nil
}

// GetCart loads the buyer's cart. A missing cart is returned as an empty one.
func (r *CartRepository) GetCart(ctx context.Context, buyerID string) (domain.Cart, error) {
	buyerID = strings.TrimSpace(buyerID)
	doc, err := r.base.Get(ctx, buyerID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Cart{BuyerID: buyerID}, nil
		}
		return domain.Cart{}, err
	}
	return decodeCart(buyerID, doc.Data), nil
}

// ReplaceLines overwrites the cart contents with lines.
func (r *CartRepository) ReplaceLines(ctx context.Context, buyerID string, currency string, lines []domain.CartLine) (domain.Cart, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return domain.Cart{}, errors.New("cart repository: buyer id is required")
	}
	doc := cartDocument{
		Currency:  strings.ToUpper(strings.TrimSpace(currency)),
		Lines:     make([]cartLineDocument, 0, len(lines)),
		UpdatedAt: r.now().UTC(),
	}
	for _, line := range lines {
		doc.Lines = append(doc.Lines, encodeCartLine(line))
	}
	if _, err := r.base.Set(ctx, buyerID, doc); err != nil {
		return domain.Cart{}, err
	}
	return decodeCart(buyerID, doc), nil
}

// Clear removes the buyer's cart document.
func (r *CartRepository) Clear(ctx context.Context, buyerID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(buyerID))
}

type cartDocument struct {
	Currency  string             `firestore:"currency"`
	Lines     []cartLineDocument `firestore:"lines"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID string `firestore:"productId,omitempty"`
	LocalKey  string `firestore:"localKey,omitempty"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
}

func encodeCartLine(line domain.CartLine) cartLineDocument {
	doc := cartLineDocument{Name: line.Name, UnitPrice: line.UnitPrice, Quantity: line.Quantity}
	switch ref := line.Ref.(type) {
	case domain.CatalogRef:
		doc.ProductID = ref.ID
	case domain.LocalAlias:
		doc.LocalKey = ref.LocalKey
	}
	return doc
}

func decodeCart(buyerID string, doc cartDocument) domain.Cart {
	cart := domain.Cart{
		BuyerID:   buyerID,
		Currency:  doc.Currency,
		Lines:     make([]domain.CartLine, 0, len(doc.Lines)),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	for _, line := range doc.Lines {
		var ref domain.ProductRef
		if line.ProductID != "" {
			ref = domain.CatalogRef{ID: line.ProductID}
		} else {
			ref = domain.LocalAlias{LocalKey: line.LocalKey, Name: line.Name, UnitPrice: line.UnitPrice}
		}
		cart.Lines = append(cart.Lines, domain.CartLine{
			Ref:       ref,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
		})
	}
	return cart
}

var _ repositories.CartRepository = (*CartRepository)(nil)
