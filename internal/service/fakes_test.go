package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

// memoryStore is an OrderStore, CatalogStore and AdminStore backed by maps.
type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]*models.Order
	items     map[int64][]models.OrderItem
	history   map[int64][]models.OrderStatusHistory
	products  map[int64]*models.Product
	ribbons   map[int64]*models.Ribbon
	appliques map[int64]*models.Applique
	admins    map[int64]*models.AdminUser

	createCalls  int
	mutations    int
	deleted      []int64
	touchedLogin []int64
	sessionErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:    make(map[int64]*models.Order),
		items:     make(map[int64][]models.OrderItem),
		history:   make(map[int64][]models.OrderStatusHistory),
		products:  make(map[int64]*models.Product),
		ribbons:   make(map[int64]*models.Ribbon),
		appliques: make(map[int64]*models.Applique),
		admins:    make(map[int64]*models.AdminUser),
	}
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) CreateOrder(_ context.Context, order *models.Order, items []models.OrderItem, first *models.OrderStatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	for _, o := range m.orders {
		if o.OrderNumber == order.OrderNumber {
			return store.ErrDuplicateOrderNumber
		}
		if order.IdempotencyKey != nil && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
			return store.ErrDuplicateIdempotencyKey
		}
	}

	now := time.Now()
	order.ID = m.id()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range items {
		items[i].ID = m.id()
		items[i].OrderID = order.ID
		items[i].CreatedAt = now
	}
	first.ID = m.id()
	first.OrderID = order.ID
	first.CreatedAt = now

	stored := *order
	m.orders[order.ID] = &stored
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	m.history[order.ID] = []models.OrderStatusHistory{*first}
	order.Items = items
	return nil
}

func (m *memoryStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", store.ErrNotFound, id)
	}
	c := *o
	return &c, nil
}

func (m *memoryStore) GetOrderByNumber(_ context.Context, number string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o := m.byNumber(number); o != nil {
		c := *o
		return &c, nil
	}
	return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, number)
}

func (m *memoryStore) byNumber(number string) *models.Order {
	for _, o := range m.orders {
		if o.OrderNumber == number {
			return o
		}
	}
	return nil
}

func (m *memoryStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			c := *o
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memoryStore) GetOrderHistory(_ context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[orderID]
	out := make([]models.OrderStatusHistory, len(h))
	for i := range h {
		out[len(h)-1-i] = h[i]
	}
	return out, nil
}

func (m *memoryStore) SetPaymentSession(_ context.Context, orderID int64, preferenceID, checkoutURL, sandboxURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionErr != nil {
		return m.sessionErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.PaymentPreferenceID = models.StringPtr(preferenceID)
	o.CheckoutURL = models.StringPtr(checkoutURL)
	o.SandboxCheckoutURL = models.StringPtr(sandboxURL)
	return nil
}

func (m *memoryStore) DeleteOrder(_ context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return store.ErrNotFound
	}
	delete(m.orders, orderID)
	delete(m.items, orderID)
	delete(m.history, orderID)
	m.deleted = append(m.deleted, orderID)
	return nil
}

func (m *memoryStore) MutateOrderByID(_ context.Context, id int64, fn store.OrderMutation) (*models.Order, *models.OrderStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: order %d", store.ErrNotFound, id)
	}
	return m.mutate(o, fn)
}

func (m *memoryStore) MutateOrderByNumber(_ context.Context, number string, fn store.OrderMutation) (*models.Order, *models.OrderStatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.byNumber(number)
	if o == nil {
		return nil, nil, fmt.Errorf("%w: order %s", store.ErrNotFound, number)
	}
	return m.mutate(o, fn)
}

func (m *memoryStore) mutate(current *models.Order, fn store.OrderMutation) (*models.Order, *models.OrderStatusHistory, error) {
	working := *current
	entry, err := fn(&working)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return &working, nil, nil
	}

	m.mutations++
	working.UpdatedAt = time.Now()
	entry.ID = m.id()
	entry.OrderID = working.ID
	entry.CreatedAt = working.UpdatedAt
	stored := working
	m.orders[working.ID] = &stored
	m.history[working.ID] = append(m.history[working.ID], *entry)
	return &working, entry, nil
}

func (m *memoryStore) ListOrders(_ context.Context, status models.OrderStatus) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryStore) GetStats(_ context.Context) (*models.OrderStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.OrderStats{}
	for _, o := range m.orders {
		stats.TotalOrders++
		switch o.Status {
		case models.OrderStatusPending:
			stats.PendingOrders++
		case models.OrderStatusConfirmed:
			stats.ConfirmedOrders++
		}
		if o.PaymentStatus == models.PaymentStatusPaid {
			stats.Revenue += o.Total
		}
	}
	return stats, nil
}

func (m *memoryStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	if p, ok := m.products[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
}

func (m *memoryStore) GetRibbonByID(_ context.Context, id int64) (*models.Ribbon, error) {
	if r, ok := m.ribbons[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: ribbon %d", store.ErrNotFound, id)
}

func (m *memoryStore) GetAppliqueByID(_ context.Context, id int64) (*models.Applique, error) {
	if a, ok := m.appliques[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: applique %d", store.ErrNotFound, id)
}

func (m *memoryStore) GetAdminByEmail(_ context.Context, email string) (*models.AdminUser, error) {
	for _, a := range m.admins {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: admin %s", store.ErrNotFound, email)
}

func (m *memoryStore) GetAdminByID(_ context.Context, id int64) (*models.AdminUser, error) {
	if a, ok := m.admins[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: admin %d", store.ErrNotFound, id)
}

func (m *memoryStore) TouchAdminLogin(_ context.Context, id int64) error {
	m.touchedLogin = append(m.touchedLogin, id)
	return nil
}

func (m *memoryStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memoryStore) historyOf(orderID int64) []models.OrderStatusHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderStatusHistory(nil), m.history[orderID]...)
}

// fakeProvider records session requests and serves canned payments.
type fakeProvider struct {
	mu         sync.Mutex
	sessionErr error
	requests   []payment.SessionRequest
	payments   map[string]payment.Payment
	lookupErr  error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{payments: make(map[string]payment.Payment)}
}

func (f *fakeProvider) Name() string { return payment.ProviderMercadoPago }

func (f *fakeProvider) CreatePaymentSession(_ context.Context, req payment.SessionRequest) (payment.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.sessionErr != nil {
		return payment.Session{}, f.sessionErr
	}
	id := fmt.Sprintf("pref-%d", len(f.requests))
	return payment.Session{
		ID:                 id,
		RedirectURL:        "https://pay.example.com/checkout/" + id,
		SandboxRedirectURL: "https://sandbox.pay.example.com/checkout/" + id,
	}, nil
}

func (f *fakeProvider) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return payment.Payment{}, f.lookupErr
	}
	p, ok := f.payments[id]
	if !ok {
		return payment.Payment{}, payment.ErrPaymentNotFound
	}
	return p, nil
}

func (f *fakeProvider) setPayment(id, status, reference string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[id] = payment.Payment{ID: id, Status: status, ExternalReference: reference}
}

func (f *fakeProvider) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	changed []*models.OrderStatusChangedEvent
	err     error
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, event *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, event)
	return p.err
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, event *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return p.err
}

// memoryLocker is a single-process Locker.
type memoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: make(map[string]bool)}
}

func (l *memoryLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memoryLocker) ReleaseLock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

var errBoom = errors.New("boom")
