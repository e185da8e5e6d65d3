package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/platform/pagination"
	"github.com/hanko-field/checkout/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository stores orders with their embedded status history in the orders collection.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)}, nil
}

// Insert creates the order document; a duplicate id is reported as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Create(ctx, order.ID, encodeOrder(order))
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// List returns a buyer's orders, newest first. The page token encodes the createdAt and id
// of the last order returned.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	startAfter, err := orderCursorValues(cursor)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if buyer := strings.TrimSpace(filter.BuyerID); buyer != "" {
			q = q.Where("buyerId", "==", buyer)
		}
		switch len(filter.Status) {
		case 0:
		case 1:
			q = q.Where("status", "==", string(filter.Status[0]))
		default:
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if startAfter != nil {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), pageSize))}
	for i, doc := range docs {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{last.CreatedAt.Format(time.RFC3339Nano), last.ID},
			})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

// Transition applies mutate inside a Firestore transaction. The version is bumped on every
// successful write so concurrent writers retry against the committed state.
func (r *OrderRepository) Transition(ctx context.Context, orderID string, mutate repositories.OrderMutation) (domain.Order, error) {
	if mutate == nil {
		return domain.Order{}, errors.New("order repository: mutation is required")
	}
	saved, err := r.base.Transact(ctx, orderID, func(current *orderDocument) (orderDocument, error) {
		if current == nil {
			return orderDocument{}, pfirestore.NotFound(orderCollection + ".transition")
		}
		order := decodeOrder(orderID, *current)
		if err := mutate(&order); err != nil {
			return orderDocument{}, err
		}
		order.Version = current.Version + 1
		return encodeOrder(order), nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(orderID, saved), nil
}

func orderCursorValues(cursor pagination.Cursor) ([]any, error) {
	if len(cursor.StartAfter) == 0 {
		return nil, nil
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: unexpected cursor shape", pagination.ErrInvalidPageToken)
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID {
		return nil, fmt.Errorf("%w: unexpected cursor values", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return []any{createdAt, id}, nil
}

type orderDocument struct {
	BuyerID           string               `firestore:"buyerId"`
	Items             []orderItemDocument  `firestore:"items"`
	Currency          string               `firestore:"currency"`
	Subtotal          int64                `firestore:"subtotal"`
	Discount          int64                `firestore:"discount"`
	Total             int64                `firestore:"total"`
	ShippingAddress   addressDocument      `firestore:"shippingAddress"`
	CouponCode        *string              `firestore:"couponCode,omitempty"`
	Status            string               `firestore:"status"`
	TrackingNumber    *string              `firestore:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time           `firestore:"estimatedDelivery,omitempty"`
	StatusHistory     []transitionDocument `firestore:"statusHistory"`
	CreatedAt         time.Time            `firestore:"createdAt"`
	UpdatedAt         time.Time            `firestore:"updatedAt"`
	Version           int64                `firestore:"version"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Price     int64  `firestore:"price"`
	Quantity  int    `firestore:"quantity"`
	SellerID  string `firestore:"sellerId"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type transitionDocument struct {
	Status    string    `firestore:"status"`
	ChangedAt time.Time `firestore:"changedAt"`
	Notes     *string   `firestore:"notes,omitempty"`
	ActorKind string    `firestore:"actorKind"`
	ActorID   string    `firestore:"actorId,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		BuyerID:           order.BuyerID,
		Items:             make([]orderItemDocument, 0, len(order.Items)),
		Currency:          order.Currency,
		Subtotal:          order.Subtotal,
		Discount:          order.Discount,
		Total:             order.Total,
		ShippingAddress:   addressDocument(order.ShippingAddress),
		CouponCode:        order.CouponCode,
		Status:            string(order.Status),
		TrackingNumber:    order.TrackingNumber,
		EstimatedDelivery: order.EstimatedDelivery,
		StatusHistory:     make([]transitionDocument, 0, len(order.StatusHistory)),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		Version:           order.Version,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	for _, tr := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, transitionDocument{
			Status:    string(tr.Status),
			ChangedAt: tr.ChangedAt.UTC(),
			Notes:     tr.Notes,
			ActorKind: string(tr.Actor.Kind),
			ActorID:   tr.Actor.ID,
		})
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:                id,
		BuyerID:           doc.BuyerID,
		Items:             make([]domain.OrderItem, 0, len(doc.Items)),
		Currency:          doc.Currency,
		Subtotal:          doc.Subtotal,
		Discount:          doc.Discount,
		Total:             doc.Total,
		ShippingAddress:   domain.Address(doc.ShippingAddress),
		CouponCode:        doc.CouponCode,
		Status:            domain.OrderStatus(doc.Status),
		TrackingNumber:    doc.TrackingNumber,
		EstimatedDelivery: doc.EstimatedDelivery,
		StatusHistory:     make([]domain.StatusTransition, 0, len(doc.StatusHistory)),
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
		Version:           doc.Version,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	for _, tr := range doc.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusTransition{
			Status:    domain.OrderStatus(tr.Status),
			ChangedAt: tr.ChangedAt.UTC(),
			Notes:     tr.Notes,
			Actor:     domain.Actor{Kind: domain.ActorKind(tr.ActorKind), ID: tr.ActorID},
		})
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
