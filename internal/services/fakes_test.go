package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/payments"
	"github.com/hanko-field/checkout/internal/repositories"
)

type testRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *testRepoError) Error() string       { return e.msg }
func (e *testRepoError) IsNotFound() bool    { return e.notFound }
func (e *testRepoError) IsConflict() bool    { return e.conflict }
func (e *testRepoError) IsUnavailable() bool { return e.unavailable }

func errNotFound(what string) error { return &testRepoError{msg: what + " not found", notFound: true} }
func errConflict(what string) error { return &testRepoError{msg: what + " exists", conflict: true} }
func errUnavailable() error         { return &testRepoError{msg: "backend unavailable", unavailable: true} }

var _ repositories.RepositoryError = (*testRepoError)(nil)

func fixedClock() func() time.Time {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func sequenceIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	insertErr error
	inserts   int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[string]domain.Order{}}
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	order.StatusHistory = slices.Clone(order.StatusHistory)
	return order
}

func (r *memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.orders[order.ID]; ok {
		return errConflict(order.ID)
	}
	r.inserts++
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errNotFound(orderID)
	}
	return cloneOrder(order), nil
}

func (r *memOrderRepo) List(_ context.Context, filter domain.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var page domain.CursorPage[domain.Order]
	for _, order := range r.orders {
		if filter.BuyerID != "" && order.BuyerID != filter.BuyerID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		page.Items = append(page.Items, cloneOrder(order))
	}
	slices.SortFunc(page.Items, func(a, b domain.Order) int { return strings.Compare(b.ID, a.ID) })
	return page, nil
}

func (r *memOrderRepo) Transition(_ context.Context, orderID string, mutate repositories.OrderMutation) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errNotFound(orderID)
	}
	next := cloneOrder(current)
	if err := mutate(&next); err != nil {
		return domain.Order{}, err
	}
	next.Version = current.Version + 1
	r.orders[orderID] = cloneOrder(next)
	return next, nil
}

func (r *memOrderRepo) get(orderID string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneOrder(r.orders[orderID])
}

type memIntentRepo struct {
	mu      sync.Mutex
	intents map[string]domain.PaymentIntent
}

func newMemIntentRepo() *memIntentRepo {
	return &memIntentRepo{intents: map[string]domain.PaymentIntent{}}
}

func (r *memIntentRepo) Create(_ context.Context, intent domain.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.intents[intent.OrderID]; ok {
		return errConflict(intent.OrderID)
	}
	r.intents[intent.OrderID] = intent
	return nil
}

func (r *memIntentRepo) FindByOrderID(_ context.Context, orderID string) (domain.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	intent, ok := r.intents[orderID]
	if !ok {
		return domain.PaymentIntent{}, errNotFound(orderID)
	}
	intent.History = slices.Clone(intent.History)
	return intent, nil
}

func (r *memIntentRepo) FindByProviderRef(_ context.Context, providerRef string) (domain.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, intent := range r.intents {
		if intent.ProviderRef == providerRef {
			return intent, nil
		}
		for _, attempt := range intent.History {
			if attempt.ProviderRef == providerRef {
				return intent, nil
			}
		}
	}
	return domain.PaymentIntent{}, errNotFound(providerRef)
}

func (r *memIntentRepo) Update(_ context.Context, orderID string, mutate repositories.PaymentIntentMutation) (domain.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.intents[orderID]
	if !ok {
		return domain.PaymentIntent{}, errNotFound(orderID)
	}
	current.History = slices.Clone(current.History)
	if err := mutate(&current); err != nil {
		return domain.PaymentIntent{}, err
	}
	r.intents[orderID] = current
	return current, nil
}

func (r *memIntentRepo) get(orderID string) domain.PaymentIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intents[orderID]
}

type memCouponRepo struct {
	coupons map[string]domain.Coupon
	err     error
}

func (r *memCouponRepo) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	if r.err != nil {
		return domain.Coupon{}, r.err
	}
	coupon, ok := r.coupons[code]
	if !ok {
		return domain.Coupon{}, errNotFound(code)
	}
	return coupon, nil
}

type memCatalog struct {
	products  []domain.Product
	searchErr error
	lookupErr error
	searches  int
}

func (c *memCatalog) LookupByKey(_ context.Context, productID string) (domain.Product, error) {
	if c.lookupErr != nil {
		return domain.Product{}, c.lookupErr
	}
	for _, product := range c.products {
		if product.ID == productID {
			return product, nil
		}
	}
	return domain.Product{}, errNotFound(productID)
}

func (c *memCatalog) SearchByName(_ context.Context, name string) ([]domain.Product, error) {
	c.searches++
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	var out []domain.Product
	for _, product := range c.products {
		if strings.Contains(strings.ToLower(product.Name), strings.ToLower(name)) {
			out = append(out, product)
		}
	}
	return out, nil
}

type memCartRepo struct {
	mu       sync.Mutex
	carts    map[string]domain.Cart
	cleared  []string
	replaced int
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: map[string]domain.Cart{}}
}

func (r *memCartRepo) GetCart(_ context.Context, buyerID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[buyerID]
	if !ok {
		return domain.Cart{BuyerID: buyerID}, nil
	}
	return cart, nil
}

func (r *memCartRepo) ReplaceLines(_ context.Context, buyerID string, currency string, lines []domain.CartLine) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaced++
	cart := domain.Cart{BuyerID: buyerID, Currency: currency, Lines: slices.Clone(lines)}
	r.carts[buyerID] = cart
	return cart, nil
}

func (r *memCartRepo) Clear(_ context.Context, buyerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, buyerID)
	r.cleared = append(r.cleared, buyerID)
	return nil
}

type fakeGateway struct {
	mu        sync.Mutex
	created   []payments.CreateIntentRequest
	statuses  map[string]domain.PaymentIntentStatus
	createErr error
	statusErr error
	statusFn  func(ctx context.Context, id string) (domain.PaymentIntentStatus, error)
	cancelled []string
	queries   int
	getErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]domain.PaymentIntentStatus{}}
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payments.CreateIntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return payments.Intent{}, g.createErr
	}
	g.created = append(g.created, req)
	id := fmt.Sprintf("pi_test_%d", len(g.created))
	g.statuses[id] = domain.PaymentIntentRequiresPayment
	return payments.Intent{
		Provider:     "stripe",
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       domain.PaymentIntentRequiresPayment,
		Amount:       req.Amount,
		Currency:     req.Currency,
	}, nil
}

func (g *fakeGateway) GetIntentStatus(ctx context.Context, _ string, id string) (domain.PaymentIntentStatus, error) {
	g.mu.Lock()
	g.queries++
	fn := g.statusFn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return "", g.statusErr
	}
	status, ok := g.statuses[id]
	if !ok {
		return "", payments.ErrIntentNotFound
	}
	return status, nil
}

func (g *fakeGateway) GetIntent(_ context.Context, _ string, id string) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return payments.Intent{}, g.getErr
	}
	status, ok := g.statuses[id]
	if !ok {
		return payments.Intent{}, payments.ErrIntentNotFound
	}
	return payments.Intent{Provider: "stripe", ID: id, ClientSecret: id + "_secret", Status: status}, nil
}

func (g *fakeGateway) CancelIntent(_ context.Context, _ string, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	g.statuses[id] = domain.PaymentIntentCanceled
	return nil
}

func (g *fakeGateway) setStatus(id string, status domain.PaymentIntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = status
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type recordedLog struct {
	event  string
	fields map[string]any
}

type logRecorder struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (l *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedLog{event: event, fields: fields})
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

func int64Ptr(v int64) *int64 { return &v }
