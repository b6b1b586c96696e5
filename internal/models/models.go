package models

import "time"

// Product represents a customizable product in the catalog
type Product struct {
	ID                      int64     `db:"id" json:"id"`
	Slug                    string    `db:"slug" json:"slug"`
	Name                    string    `db:"name" json:"name"`
	BasePrice               int64     `db:"base_price" json:"base_price"`
	SupportsRibbon          bool      `db:"supports_ribbon" json:"supports_ribbon"`
	SupportsApplique        bool      `db:"supports_applique" json:"supports_applique"`
	TextNameMaxChars        int       `db:"text_name_max_chars" json:"text_name_max_chars"`
	TextDescriptionMaxChars int       `db:"text_description_max_chars" json:"text_description_max_chars"`
	ImagePath               *string   `db:"image_path" json:"image_path,omitempty"`
	IsActive                bool      `db:"is_active" json:"is_active"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
}

// Ribbon is a ribbon colour option
type Ribbon struct {
	ID          int64  `db:"id" json:"id"`
	Slug        string `db:"slug" json:"slug"`
	Name        string `db:"name" json:"name"`
	DisplayName string `db:"display_name" json:"display_name"`
	IsActive    bool   `db:"is_active" json:"is_active"`
}

// Applique is a decorative applique option
type Applique struct {
	ID          int64  `db:"id" json:"id"`
	Slug        string `db:"slug" json:"slug"`
	Name        string `db:"name" json:"name"`
	DisplayName string `db:"display_name" json:"display_name"`
	IsActive    bool   `db:"is_active" json:"is_active"`
}

// Order represents a customer order
type Order struct {
	ID                  int64         `db:"id" json:"id"`
	OrderNumber         string        `db:"order_number" json:"order_number"`
	CustomerName        string        `db:"customer_name" json:"customer_name"`
	CustomerEmail       string        `db:"customer_email" json:"customer_email"`
	CustomerPhone       string        `db:"customer_phone" json:"customer_phone"`
	ShippingAddress     string        `db:"shipping_address" json:"shipping_address"`
	ShippingCity        string        `db:"shipping_city" json:"shipping_city"`
	ShippingProvince    string        `db:"shipping_province" json:"shipping_province"`
	ShippingPostalCode  *string       `db:"shipping_postal_code" json:"shipping_postal_code,omitempty"`
	ShippingNotes       *string       `db:"shipping_notes" json:"shipping_notes,omitempty"`
	Subtotal            int64         `db:"subtotal" json:"subtotal"`
	ShippingCost        int64         `db:"shipping_cost" json:"shipping_cost"`
	Total               int64         `db:"total" json:"total"`
	Status              OrderStatus   `db:"status" json:"status"`
	PaymentStatus       PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentProvider     string        `db:"payment_provider" json:"payment_provider"`
	PaymentPreferenceID *string       `db:"payment_preference_id" json:"payment_preference_id,omitempty"`
	PaymentID           *string       `db:"payment_id" json:"payment_id,omitempty"`
	CheckoutURL         *string       `db:"checkout_url" json:"-"`
	SandboxCheckoutURL  *string       `db:"sandbox_checkout_url" json:"-"`
	CartID              *string       `db:"cart_id" json:"-"`
	IdempotencyKey      *string       `db:"idempotency_key" json:"-"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
	PaidAt              *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	ShippedAt           *time.Time    `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt         *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`

	Items []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem is an immutable snapshot of a cart line item taken at order creation
type OrderItem struct {
	ID                    int64     `db:"id" json:"id"`
	OrderID               int64     `db:"order_id" json:"order_id"`
	ProductID             int64     `db:"product_id" json:"product_id"`
	ProductName           string    `db:"product_name" json:"product_name"`
	ProductSlug           string    `db:"product_slug" json:"product_slug"`
	RibbonID              *int64    `db:"ribbon_id" json:"ribbon_id,omitempty"`
	RibbonName            *string   `db:"ribbon_name" json:"ribbon_name,omitempty"`
	AppliqueID            *int64    `db:"applique_id" json:"applique_id,omitempty"`
	AppliqueName          *string   `db:"applique_name" json:"applique_name,omitempty"`
	CustomTextName        *string   `db:"custom_text_name" json:"custom_text_name,omitempty"`
	CustomTextDescription *string   `db:"custom_text_description" json:"custom_text_description,omitempty"`
	UnitPrice             int64     `db:"unit_price" json:"unit_price"`
	Quantity              int       `db:"quantity" json:"quantity"`
	Subtotal              int64     `db:"subtotal" json:"subtotal"`
	ProductImagePath      *string   `db:"product_image_path" json:"product_image_path,omitempty"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// OrderStatusHistory is one append-only entry of the order audit trail
type OrderStatusHistory struct {
	ID               int64        `db:"id" json:"id"`
	OrderID          int64        `db:"order_id" json:"order_id"`
	FromStatus       *OrderStatus `db:"from_status" json:"from_status"`
	ToStatus         OrderStatus  `db:"to_status" json:"to_status"`
	ChangedByAdminID *int64       `db:"changed_by_admin_id" json:"changed_by_admin_id,omitempty"`
	ChangedByName    *string      `db:"changed_by_name" json:"changed_by_name,omitempty"`
	Notes            *string      `db:"notes" json:"notes,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
}

// AdminUser is an operator allowed into the admin panel
type AdminUser struct {
	ID           int64      `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	Name         string     `db:"name" json:"name"`
	Role         string     `db:"role" json:"role"`
	PasswordHash string     `db:"password_hash" json:"-"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Admin roles
const (
	AdminRoleAdmin      = "admin"
	AdminRoleSuperAdmin = "super_admin"
)

// Actor identifies the authenticated admin performing a manual change
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// OrderStats feeds the admin dashboard
type OrderStats struct {
	TotalOrders     int64 `db:"total_orders" json:"total_orders"`
	PendingOrders   int64 `db:"pending_orders" json:"pending_orders"`
	ConfirmedOrders int64 `db:"confirmed_orders" json:"confirmed_orders"`
	Revenue         int64 `db:"revenue" json:"revenue"`
}

// StringPtr returns nil for an empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences s, returning "" for nil
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
