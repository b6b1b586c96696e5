package store

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, order_number, customer_name, customer_email, customer_phone,
	shipping_address, shipping_city, shipping_province, shipping_postal_code, shipping_notes,
	subtotal, shipping_cost, total, status, payment_status, payment_provider,
	payment_preference_id, payment_id, checkout_url, sandbox_checkout_url, cart_id, idempotency_key,
	created_at, updated_at, paid_at, shipped_at, delivered_at`

const itemColumns = `id, order_id, product_id, product_name, product_slug, ribbon_id, ribbon_name,
	applique_id, applique_name, custom_text_name, custom_text_description,
	unit_price, quantity, subtotal, product_image_path, created_at`

// OrderMutation inspects a locked order and mutates its status fields in place.
// Returning a nil history entry leaves the order untouched.
type OrderMutation func(order *models.Order) (*models.OrderStatusHistory, error)

// CreateOrder persists the order, its items and the first history entry in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem, first *models.OrderStatusHistory) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (order_number, customer_name, customer_email, customer_phone,
			shipping_address, shipping_city, shipping_province, shipping_postal_code, shipping_notes,
			subtotal, shipping_cost, total, status, payment_status, payment_provider, cart_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	err = tx.GetContext(ctx, order, query,
		order.OrderNumber, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.ShippingAddress, order.ShippingCity, order.ShippingProvince, order.ShippingPostalCode, order.ShippingNotes,
		order.Subtotal, order.ShippingCost, order.Total, order.Status, order.PaymentStatus, order.PaymentProvider,
		order.CartID, order.IdempotencyKey)
	switch {
	case isUniqueViolation(err, "orders_order_number_key"):
		return ErrDuplicateOrderNumber
	case isUniqueViolation(err, "orders_idempotency_key_key"):
		return ErrDuplicateIdempotencyKey
	case err != nil:
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := insertOrderItem(ctx, tx, &items[i]); err != nil {
			return err
		}
	}

	first.OrderID = order.ID
	if err := insertHistory(ctx, tx, first); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	order.Items = items
	return nil
}

func insertOrderItem(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, product_slug, ribbon_id, ribbon_name,
			applique_id, applique_name, custom_text_name, custom_text_description,
			unit_price, quantity, subtotal, product_image_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`

	err := tx.GetContext(ctx, item, query,
		item.OrderID, item.ProductID, item.ProductName, item.ProductSlug, item.RibbonID, item.RibbonName,
		item.AppliqueID, item.AppliqueName, item.CustomTextName, item.CustomTextDescription,
		item.UnitPrice, item.Quantity, item.Subtotal, item.ProductImagePath)
	if err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *models.OrderStatusHistory) error {
	query := `
		INSERT INTO order_status_history (order_id, from_status, to_status, changed_by_admin_id, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := tx.GetContext(ctx, entry, query,
		entry.OrderID, entry.FromStatus, entry.ToStatus, entry.ChangedByAdminID, entry.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order %d", id)
	}
	return &order, nil
}

// GetOrderByNumber retrieves an order by its public order number
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE order_number = $1", number)
	if err != nil {
		return nil, notFound(err, "order %s", number)
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, nil when absent
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	order, err := s.getOrderWhere(ctx, "idempotency_key", key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return order, err
}

func (s *Store) getOrderWhere(ctx context.Context, column, value string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE "+column+" = $1", value)
	if err != nil {
		return nil, notFound(err, "order %s=%s", column, value)
	}
	return &order, nil
}

// ListOrders returns orders newest first with their items; an empty status lists all
func (s *Store) ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	var orders []models.Order
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC")
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders WHERE status = $1 ORDER BY created_at DESC", status)
	}
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}

	query, args, err := sqlx.In("SELECT "+itemColumns+" FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}

	byOrder := make(map[int64][]models.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return orders, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT "+itemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrderHistory retrieves the status history newest first
func (s *Store) GetOrderHistory(ctx context.Context, orderID int64) ([]models.OrderStatusHistory, error) {
	var history []models.OrderStatusHistory
	err := s.db.SelectContext(ctx, &history, `
		SELECT h.id, h.order_id, h.from_status, h.to_status, h.changed_by_admin_id,
		       a.name AS changed_by_name, h.notes, h.created_at
		FROM order_status_history h
		LEFT JOIN admin_users a ON a.id = h.changed_by_admin_id
		WHERE h.order_id = $1
		ORDER BY h.created_at DESC, h.id DESC`, orderID)
	return history, err
}

// SetPaymentSession stores the processor session reference on the order
func (s *Store) SetPaymentSession(ctx context.Context, orderID int64, preferenceID, checkoutURL, sandboxURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_preference_id = $1, checkout_url = $2, sandbox_checkout_url = $3, updated_at = NOW()
		WHERE id = $4`,
		preferenceID, checkoutURL, sandboxURL, orderID)
	if err != nil {
		return err
	}
	return requireAffected(res, "order %d", orderID)
}

// DeleteOrder removes an order; items and history cascade
func (s *Store) DeleteOrder(ctx context.Context, orderID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID)
	if err != nil {
		return err
	}
	return requireAffected(res, "order %d", orderID)
}

// MutateOrderByID locks the order by ID and applies fn atomically
func (s *Store) MutateOrderByID(ctx context.Context, id int64, fn OrderMutation) (*models.Order, *models.OrderStatusHistory, error) {
	return s.mutateOrder(ctx, "id", id, fn)
}

// MutateOrderByNumber locks the order by order number and applies fn atomically
func (s *Store) MutateOrderByNumber(ctx context.Context, number string, fn OrderMutation) (*models.Order, *models.OrderStatusHistory, error) {
	return s.mutateOrder(ctx, "order_number", number, fn)
}

// mutateOrder serializes writers on the order row (SELECT ... FOR UPDATE) so the
// status fields and their history entry commit together.
func (s *Store) mutateOrder(ctx context.Context, column string, key interface{}, fn OrderMutation) (*models.Order, *models.OrderStatusHistory, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE "+column+" = $1 FOR UPDATE", key)
	if err != nil {
		return nil, nil, notFound(err, "order %s=%v", column, key)
	}

	entry, err := fn(&order)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return &order, nil, tx.Commit()
	}

	err = tx.GetContext(ctx, &order, `
		UPDATE orders
		SET status = $1, payment_status = $2, payment_id = $3,
		    paid_at = $4, shipped_at = $5, delivered_at = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at`,
		order.Status, order.PaymentStatus, order.PaymentID,
		order.PaidAt, order.ShippedAt, order.DeliveredAt, order.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update order status: %w", err)
	}

	entry.OrderID = order.ID
	if err := insertHistory(ctx, tx, entry); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit status change: %w", err)
	}
	return &order, entry, nil
}

// GetStats aggregates dashboard counters
func (s *Store) GetStats(ctx context.Context) (*models.OrderStats, error) {
	var stats models.OrderStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT COUNT(*) AS total_orders,
		       COUNT(*) FILTER (WHERE status = 'pending') AS pending_orders,
		       COUNT(*) FILTER (WHERE status = 'confirmed') AS confirmed_orders,
		       COALESCE(SUM(total) FILTER (WHERE payment_status = 'paid'), 0) AS revenue
		FROM orders`)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireAffected(res rowsAffecter, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return nil
}
