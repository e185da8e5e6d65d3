package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// DefaultPriceTolerance is the unit price distance, in the smallest currency unit, accepted
// when several catalog products share a local alias name.
const DefaultPriceTolerance int64 = 1

// ProductResolverDeps bundles collaborators for the product resolver.
type ProductResolverDeps struct {
	Catalog        repositories.CatalogRepository
	PriceTolerance int64
}

type productResolver struct {
	catalog   repositories.CatalogRepository
	tolerance int64
}

var _ ProductResolver = (*productResolver)(nil)

// NewProductResolver constructs a resolver backed by the catalog.
func NewProductResolver(deps ProductResolverDeps) (ProductResolver, error) {
	if deps.Catalog == nil {
		return nil, errors.New("product resolver: catalog repository is required")
	}
	tolerance := deps.PriceTolerance
	if tolerance <= 0 {
		tolerance = DefaultPriceTolerance
	}
	return &productResolver{
		catalog:   deps.Catalog,
		tolerance: tolerance,
	}, nil
}

func (r *productResolver) Resolve(ctx context.Context, line CartLine) (ResolvedRef, error) {
	switch ref := line.Ref.(type) {
	case domain.CatalogRef:
		id := strings.TrimSpace(ref.ID)
		if id == "" {
			return ResolvedRef{}, fmt.Errorf("%w: empty product id", ErrProductNotFound)
		}
		return ResolvedRef{ProductID: id}, nil
	case domain.LocalAlias:
		return r.resolveAlias(ctx, ref, line)
	default:
		return ResolvedRef{}, fmt.Errorf("%w: unsupported product reference %T", ErrCheckoutInvalidInput, line.Ref)
	}
}

func (r *productResolver) resolveAlias(ctx context.Context, alias domain.LocalAlias, line CartLine) (ResolvedRef, error) {
	name := strings.TrimSpace(alias.Name)
	if name == "" {
		name = strings.TrimSpace(line.Name)
	}
	price := alias.UnitPrice
	if price <= 0 {
		price = line.UnitPrice
	}
	if name == "" {
		return ResolvedRef{}, fmt.Errorf("%w: local alias %q has no name", ErrProductNotFound, alias.LocalKey)
	}

	products, err := r.catalog.SearchByName(ctx, name)
	if err != nil {
		return ResolvedRef{}, fmt.Errorf("checkout: search catalog for %q: %w", name, err)
	}

	// Caser values carry state and are not shared across goroutines.
	fold := cases.Fold()
	want := fold.String(name)
	var exact, partial []domain.Product
	for _, product := range products {
		if !product.Active {
			continue
		}
		got := fold.String(strings.TrimSpace(product.Name))
		switch {
		case got == want:
			exact = append(exact, product)
		case strings.Contains(got, want):
			partial = append(partial, product)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = partial
	}
	switch len(candidates) {
	case 0:
		return ResolvedRef{}, fmt.Errorf("%w: no catalog match for %q", ErrProductNotFound, name)
	case 1:
		return ResolvedRef{ProductID: candidates[0].ID, Fallback: true}, nil
	}

	best, ok := nearestPrice(candidates, price, r.tolerance)
	if !ok {
		return ResolvedRef{}, fmt.Errorf("%w: %d products named %q, none priced near %d", ErrProductNotFound, len(candidates), name, price)
	}
	return ResolvedRef{ProductID: best.ID, Fallback: true}, nil
}

// nearestPrice returns the first candidate with the smallest price distance within tolerance.
func nearestPrice(candidates []domain.Product, price, tolerance int64) (domain.Product, bool) {
	var (
		best     domain.Product
		bestDiff int64 = -1
	)
	for _, product := range candidates {
		diff := product.UnitPrice - price
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			continue
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = product, diff
		}
	}
	return best, bestDiff >= 0
}
