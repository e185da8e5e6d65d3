package firestore

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"cloud.google.com/go/firestore"
	"golang.org/x/text/cases"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const (
	productCollection = "products"
	// Firestore caps array-contains-any at 30 values.
	maxSearchTokens = 30
	searchLimit     = 50
)

// CatalogRepository serves the product lookups checkout needs from the products collection.
type CatalogRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{base: pfirestore.NewBaseRepository[productDocument](provider, productCollection)}, nil
}

// LookupByKey loads a product by its catalog id.
func (r *CatalogRepository) LookupByKey(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" || strings.Contains(productID, "/") {
		return domain.Product{}, pfirestore.NotFound(productCollection + ".get")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

// SearchByName returns active products sharing at least one name token with name.
func (r *CatalogRepository) SearchByName(ctx context.Context, name string) ([]domain.Product, error) {
	tokens := SearchTokens(name)
	if len(tokens) == 0 {
		return nil, nil
	}
	values := make([]any, 0, len(tokens))
	for _, token := range tokens {
		values = append(values, token)
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true).
			Where("searchTokens", "array-contains-any", values).
			Limit(searchLimit)
	})
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, decodeProduct(doc.ID, doc.Data))
	}
	return products, nil
}

// SearchTokens splits a product name into the case-folded tokens stored on product documents.
func SearchTokens(name string) []string {
	fields := strings.FieldsFunc(cases.Fold().String(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
		if len(tokens) == maxSearchTokens {
			break
		}
	}
	return tokens
}

type productDocument struct {
	Name         string   `firestore:"name"`
	UnitPrice    int64    `firestore:"unitPrice"`
	Currency     string   `firestore:"currency"`
	SellerID     string   `firestore:"sellerId"`
	Active       bool     `firestore:"active"`
	SearchTokens []string `firestore:"searchTokens,omitempty"`
}

func decodeProduct(id string, doc productDocument) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      doc.Name,
		UnitPrice: doc.UnitPrice,
		Currency:  doc.Currency,
		SellerID:  doc.SellerID,
		Active:    doc.Active,
	}
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
