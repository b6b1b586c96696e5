package service

import (
	"context"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
)

// OrderStore is the persistence the order lifecycle needs. *store.Store implements it.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem, first *models.OrderStatusHistory) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error)
	SetPaymentSession(ctx context.Context, orderID int64, preferenceID, checkoutURL, sandboxURL string) error
	DeleteOrder(ctx context.Context, orderID int64) error
	MutateOrderByID(ctx context.Context, id int64, fn store.OrderMutation) (*models.Order, *models.OrderStatusHistory, error)
	MutateOrderByNumber(ctx context.Context, number string, fn store.OrderMutation) (*models.Order, *models.OrderStatusHistory, error)
	ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	GetStats(ctx context.Context) (*models.OrderStats, error)
}

// CatalogStore resolves the products and options a cart may reference.
type CatalogStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetRibbonByID(ctx context.Context, id int64) (*models.Ribbon, error)
	GetAppliqueByID(ctx context.Context, id int64) (*models.Applique, error)
}

// AdminStore resolves admin accounts.
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	GetAdminByID(ctx context.Context, id int64) (*models.AdminUser, error)
	TouchAdminLogin(ctx context.Context, id int64) error
}

// EventPublisher emits order domain events. *broker.EventPublisher implements it.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// Locker guards a checkout idempotency key across instances. *redisclient.Client implements it.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

var (
	_ OrderStore   = (*store.Store)(nil)
	_ CatalogStore = (*store.Store)(nil)
	_ AdminStore   = (*store.Store)(nil)
)
