// Package cart holds the customer's working set of configured products.
//
// A Cart is a plain state container: every mutation computes the next
// collection, persists it through a Storage and only then replaces the
// in-memory state, so a failed write leaves the cart untouched.
package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	// MaxQuantity is the largest quantity a single line item may hold.
	MaxQuantity = 150

	// StorageNamespace prefixes every persisted cart key.
	StorageNamespace = "sengge-cart-storage"
)

var (
	ErrQuantityExceedsMax = fmt.Errorf("cart: quantity exceeds maximum of %d", MaxQuantity)
	ErrInvalidQuantity    = errors.New("cart: quantity must be at least 1")
	ErrInvalidPrice       = errors.New("cart: unit price must not be negative")
	ErrMissingProduct     = errors.New("cart: product reference is required")
)

// Candidate is a line item before it enters the cart: no identity, no subtotal.
type Candidate struct {
	ProductID             int64
	ProductSlug           string
	ProductName           string
	RibbonID              *int64
	RibbonName            string
	AppliqueID            *int64
	AppliqueName          string
	CustomTextName        string
	CustomTextDescription string
	Quantity              int
	UnitPrice             int64
	ImagePath             string
}

// LineItem is one configured-product selection held by the cart.
type LineItem struct {
	ID                    string `json:"id"`
	ProductID             int64  `json:"product_id"`
	ProductSlug           string `json:"product_slug"`
	ProductName           string `json:"product_name"`
	RibbonID              *int64 `json:"ribbon_id,omitempty"`
	RibbonName            string `json:"ribbon_name,omitempty"`
	AppliqueID            *int64 `json:"applique_id,omitempty"`
	AppliqueName          string `json:"applique_name,omitempty"`
	CustomTextName        string `json:"custom_text_name,omitempty"`
	CustomTextDescription string `json:"custom_text_description,omitempty"`
	Quantity              int    `json:"quantity"`
	UnitPrice             int64  `json:"unit_price"`
	Subtotal              int64  `json:"subtotal"`
	ImagePath             string `json:"image_path,omitempty"`
}

// sameConfiguration is the merge-identity rule.
func (li LineItem) sameConfiguration(c Candidate) bool {
	return li.ProductID == c.ProductID &&
		sameRef(li.RibbonID, c.RibbonID) &&
		sameRef(li.AppliqueID, c.AppliqueID) &&
		li.CustomTextName == c.CustomTextName &&
		li.CustomTextDescription == c.CustomTextDescription
}

func (li *LineItem) setQuantity(q int) {
	li.Quantity = q
	li.Subtotal = li.UnitPrice * int64(q)
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// StorageKey returns the persisted key for a client's cart.
func StorageKey(cartID string) string {
	return StorageNamespace + ":" + cartID
}

// Option configures a Cart.
type Option func(*Cart)

// WithIDGenerator overrides how line item identities are generated.
func WithIDGenerator(fn func() string) Option {
	return func(c *Cart) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// Cart is the client-scoped collection of line items.
type Cart struct {
	key     string
	items   []LineItem
	storage Storage
	newID   func() string
}

// Load restores the cart stored under cartID, or an empty cart when none exists.
func Load(ctx context.Context, storage Storage, cartID string, opts ...Option) (*Cart, error) {
	c := &Cart{
		key:     StorageKey(cartID),
		storage: storage,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	items, err := storage.Load(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	for i := range items {
		items[i].setQuantity(items[i].Quantity)
	}
	c.items = items
	return c, nil
}

// AddItem merges the candidate into a matching line item or appends a new one.
// Merged quantities are clamped to MaxQuantity.
func (c *Cart) AddItem(ctx context.Context, candidate Candidate) (LineItem, error) {
	if candidate.ProductID == 0 {
		return LineItem{}, ErrMissingProduct
	}
	if candidate.Quantity < 1 {
		return LineItem{}, ErrInvalidQuantity
	}
	if candidate.UnitPrice < 0 {
		return LineItem{}, ErrInvalidPrice
	}

	next := c.cloneItems()
	for i := range next {
		if next[i].sameConfiguration(candidate) {
			next[i].setQuantity(clamp(next[i].Quantity + candidate.Quantity))
			if err := c.commit(ctx, next); err != nil {
				return LineItem{}, err
			}
			return next[i], nil
		}
	}

	item := LineItem{
		ID:                    c.newID(),
		ProductID:             candidate.ProductID,
		ProductSlug:           candidate.ProductSlug,
		ProductName:           candidate.ProductName,
		RibbonID:              candidate.RibbonID,
		RibbonName:            candidate.RibbonName,
		AppliqueID:            candidate.AppliqueID,
		AppliqueName:          candidate.AppliqueName,
		CustomTextName:        candidate.CustomTextName,
		CustomTextDescription: candidate.CustomTextDescription,
		UnitPrice:             candidate.UnitPrice,
		ImagePath:             candidate.ImagePath,
	}
	item.setQuantity(clamp(candidate.Quantity))

	next = append(next, item)
	if err := c.commit(ctx, next); err != nil {
		return LineItem{}, err
	}
	return item, nil
}

// RemoveItem deletes the line item with the given id. Unknown ids are a no-op.
func (c *Cart) RemoveItem(ctx context.Context, id string) error {
	next := make([]LineItem, 0, len(c.items))
	for _, item := range c.items {
		if item.ID != id {
			next = append(next, item)
		}
	}
	if len(next) == len(c.items) {
		return nil
	}
	return c.commit(ctx, next)
}

// UpdateQuantity sets the quantity of a line item. Quantities below 1 remove
// the item; quantities above MaxQuantity are rejected with ErrQuantityExceedsMax
// and leave the cart unchanged.
func (c *Cart) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	if quantity < 1 {
		return c.RemoveItem(ctx, id)
	}
	if quantity > MaxQuantity {
		return ErrQuantityExceedsMax
	}

	next := c.cloneItems()
	for i := range next {
		if next[i].ID == id {
			next[i].setQuantity(quantity)
			return c.commit(ctx, next)
		}
	}
	return nil
}

// Clear empties the cart.
func (c *Cart) Clear(ctx context.Context) error {
	if err := c.storage.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	c.items = nil
	return nil
}

// Items returns a copy of the line items.
func (c *Cart) Items() []LineItem {
	return c.cloneItems()
}

// Item looks up a line item by id.
func (c *Cart) Item(id string) (LineItem, bool) {
	for _, item := range c.items {
		if item.ID == id {
			return item, true
		}
	}
	return LineItem{}, false
}

// TotalItems is the sum of quantities.
func (c *Cart) TotalItems() int {
	total := 0
	for _, item := range c.items {
		total += item.Quantity
	}
	return total
}

// TotalPrice is the sum of subtotals.
func (c *Cart) TotalPrice() int64 {
	var total int64
	for _, item := range c.items {
		total += item.Subtotal
	}
	return total
}

// ItemCount is the number of distinct line items.
func (c *Cart) ItemCount() int {
	return len(c.items)
}

// IsEmpty reports whether the cart holds no line items.
func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

func (c *Cart) commit(ctx context.Context, next []LineItem) error {
	if err := c.storage.Save(ctx, c.key, next); err != nil {
		return fmt.Errorf("failed to persist cart: %w", err)
	}
	c.items = next
	return nil
}

func (c *Cart) cloneItems() []LineItem {
	out := make([]LineItem, len(c.items))
	copy(out, c.items)
	return out
}

func clamp(q int) int {
	if q > MaxQuantity {
		return MaxQuantity
	}
	return q
}
