package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// Sources of a status change
const (
	ChangeSourceWebhook = "webhook"
	ChangeSourceAdmin   = "admin"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Total       int64           `json:"total"`
	CartID      string          `json:"cart_id,omitempty"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published after every status mutation
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID       int64         `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	FromStatus    OrderStatus   `json:"from_status"`
	ToStatus      OrderStatus   `json:"to_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Source        string        `json:"source"`
	ChangedBy     *int64        `json:"changed_by,omitempty"`
	CartID        string        `json:"cart_id,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
