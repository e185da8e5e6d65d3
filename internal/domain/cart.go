package domain

import "time"

// ProductRef identifies the product a cart line refers to. It is either a
// CatalogRef holding an authoritative catalog id or a LocalAlias carrying a
// client generated key that must be resolved against the catalog.
type ProductRef interface {
	productRef()
	// Key returns the raw identifier carried by the reference.
	Key() string
}

// CatalogRef is an authoritative catalog product id.
type CatalogRef struct {
	ID string
}

func (CatalogRef) productRef()   {}
func (r CatalogRef) Key() string { return r.ID }

// LocalAlias is a client-local product key with the name and price the
// client cached for it.
type LocalAlias struct {
	LocalKey  string
	Name      string
	UnitPrice int64
}

func (LocalAlias) productRef()   {}
func (r LocalAlias) Key() string { return r.LocalKey }

// CartLine is a single client-held cart entry awaiting materialization.
type CartLine struct {
	Ref       ProductRef
	Name      string
	UnitPrice int64
	Quantity  int
}

// CartSession carries the buyer's cart explicitly into checkout.
type CartSession struct {
	BuyerID         string
	Lines           []CartLine
	ShippingAddress Address
	CouponCode      string
	Currency        string
}

// Cart is the server-side cart representation used by the cart-sync path.
type Cart struct {
	BuyerID   string
	Currency  string
	Lines     []CartLine
	UpdatedAt time.Time
}

// Product is the catalog projection consumed by checkout.
type Product struct {
	ID        string
	Name      string
	UnitPrice int64
	Currency  string
	SellerID  string
	Active    bool
}

// ResolvedRef is the authoritative catalog id a cart line resolved to.
type ResolvedRef struct {
	ProductID string
	// Fallback is true when the id was found by name/price matching.
	Fallback bool
}
