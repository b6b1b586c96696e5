package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CartService validates cart candidates against the catalog and applies them
// to the client's persisted cart
type CartService struct {
	catalog CatalogStore
	storage cart.Storage
	logger  *zap.Logger
	opts    []cart.Option
}

// NewCartService creates a new cart service
func NewCartService(catalog CatalogStore, storage cart.Storage, opts ...cart.Option) *CartService {
	return &CartService{
		catalog: catalog,
		storage: storage,
		logger:  util.GetLogger(),
		opts:    opts,
	}
}

// AddItemRequest is a customer's product configuration
type AddItemRequest struct {
	ProductID             int64  `json:"product_id" binding:"required"`
	RibbonID              *int64 `json:"ribbon_id,omitempty"`
	AppliqueID            *int64 `json:"applique_id,omitempty"`
	CustomTextName        string `json:"custom_text_name,omitempty"`
	CustomTextDescription string `json:"custom_text_description,omitempty"`
	Quantity              int    `json:"quantity" binding:"required,min=1"`
}

// Open loads the cart held under cartID
func (s *CartService) Open(ctx context.Context, cartID string) (*cart.Cart, error) {
	return cart.Load(ctx, s.storage, cartID, s.opts...)
}

// AddItem resolves the configuration against the catalog and merges it into the cart
func (s *CartService) AddItem(ctx context.Context, cartID string, req AddItemRequest) (*cart.Cart, cart.LineItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	candidate, err := s.BuildCandidate(ctx, req)
	if err != nil {
		return nil, cart.LineItem{}, err
	}

	c, err := s.Open(ctx, cartID)
	if err != nil {
		return nil, cart.LineItem{}, err
	}
	item, err := c.AddItem(ctx, candidate)
	if err != nil {
		return nil, cart.LineItem{}, cartError(err)
	}

	util.CartOperationsTotal.WithLabelValues("add").Inc()
	return c, item, nil
}

// UpdateQuantity sets a line item's quantity. Above cart.MaxQuantity the cart is
// returned unchanged together with cart.ErrQuantityExceedsMax.
func (s *CartService) UpdateQuantity(ctx context.Context, cartID, itemID string, quantity int) (*cart.Cart, error) {
	c, err := s.Open(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if _, ok := c.Item(itemID); !ok {
		return c, ErrCartItemNotFound
	}

	if err := c.UpdateQuantity(ctx, itemID, quantity); err != nil {
		if errors.Is(err, cart.ErrQuantityExceedsMax) {
			util.CartOperationsTotal.WithLabelValues("update_rejected").Inc()
			return c, err
		}
		return nil, err
	}

	util.CartOperationsTotal.WithLabelValues("update").Inc()
	return c, nil
}

// RemoveItem drops a line item; unknown ids leave the cart as is
func (s *CartService) RemoveItem(ctx context.Context, cartID, itemID string) (*cart.Cart, error) {
	c, err := s.Open(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := c.RemoveItem(ctx, itemID); err != nil {
		return nil, err
	}
	util.CartOperationsTotal.WithLabelValues("remove").Inc()
	return c, nil
}

// Clear empties the cart
func (s *CartService) Clear(ctx context.Context, cartID string) error {
	c, err := s.Open(ctx, cartID)
	if err != nil {
		return err
	}
	if err := c.Clear(ctx); err != nil {
		return err
	}
	util.CartOperationsTotal.WithLabelValues("clear").Inc()
	return nil
}

// Snapshot prices a list of configurations without touching any stored cart.
// Identical configurations are merged the same way the cart merges them.
func (s *CartService) Snapshot(ctx context.Context, reqs []AddItemRequest) ([]cart.LineItem, error) {
	scratch, err := cart.Load(ctx, cart.NewMemoryStorage(), "snapshot", s.opts...)
	if err != nil {
		return nil, err
	}

	v := &ValidationError{}
	for i, req := range reqs {
		candidate, err := s.BuildCandidate(ctx, req)
		if err != nil {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				return nil, err
			}
			for _, f := range ve.Fields {
				v.add(fmt.Sprintf("items[%d].%s", i, f.Field), "%s", f.Message)
			}
			continue
		}
		if _, err := scratch.AddItem(ctx, candidate); err != nil {
			return nil, cartError(err)
		}
	}
	if err := v.orNil(); err != nil {
		return nil, err
	}
	return scratch.Items(), nil
}

// BuildCandidate checks a configuration against the catalog and prices it
func (s *CartService) BuildCandidate(ctx context.Context, req AddItemRequest) (cart.Candidate, error) {
	v := &ValidationError{}
	if req.Quantity < 1 {
		v.add("quantity", "must be at least 1")
	}

	product, err := s.catalog.GetProductByID(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return cart.Candidate{}, newValidationError("product_id", "product %d does not exist", req.ProductID)
		}
		return cart.Candidate{}, err
	}
	if !product.IsActive {
		return cart.Candidate{}, newValidationError("product_id", "product %s is not available", product.Slug)
	}

	name := strings.TrimSpace(req.CustomTextName)
	description := strings.TrimSpace(req.CustomTextDescription)
	if n := utf8.RuneCountInString(name); n > product.TextNameMaxChars {
		v.add("custom_text_name", "must be at most %d characters", product.TextNameMaxChars)
	}
	if n := utf8.RuneCountInString(description); n > product.TextDescriptionMaxChars {
		v.add("custom_text_description", "must be at most %d characters", product.TextDescriptionMaxChars)
	}

	candidate := cart.Candidate{
		ProductID:             product.ID,
		ProductSlug:           product.Slug,
		ProductName:           product.Name,
		CustomTextName:        name,
		CustomTextDescription: description,
		Quantity:              req.Quantity,
		UnitPrice:             product.BasePrice,
		ImagePath:             models.StringValue(product.ImagePath),
	}

	if req.RibbonID != nil {
		if !product.SupportsRibbon {
			v.add("ribbon_id", "product %s does not take a ribbon", product.Slug)
		} else if ribbon, err := s.catalog.GetRibbonByID(ctx, *req.RibbonID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return cart.Candidate{}, err
			}
			v.add("ribbon_id", "ribbon %d does not exist", *req.RibbonID)
		} else if !ribbon.IsActive {
			v.add("ribbon_id", "ribbon %s is not available", ribbon.Slug)
		} else {
			candidate.RibbonID = &ribbon.ID
			candidate.RibbonName = ribbon.DisplayName
		}
	}

	if req.AppliqueID != nil {
		if !product.SupportsApplique {
			v.add("applique_id", "product %s does not take an applique", product.Slug)
		} else if applique, err := s.catalog.GetAppliqueByID(ctx, *req.AppliqueID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return cart.Candidate{}, err
			}
			v.add("applique_id", "applique %d does not exist", *req.AppliqueID)
		} else if !applique.IsActive {
			v.add("applique_id", "applique %s is not available", applique.Slug)
		} else {
			candidate.AppliqueID = &applique.ID
			candidate.AppliqueName = applique.DisplayName
		}
	}

	if err := v.orNil(); err != nil {
		return cart.Candidate{}, err
	}
	return candidate, nil
}

// ClearByID empties a cart after its order was confirmed. Used by the cart worker.
func (s *CartService) ClearByID(ctx context.Context, cartID, orderNumber string) error {
	if err := s.storage.Delete(ctx, cart.StorageKey(cartID)); err != nil {
		return fmt.Errorf("failed to clear cart %s: %w", cartID, err)
	}
	util.CartOperationsTotal.WithLabelValues("clear_on_confirm").Inc()
	s.logger.Info("Cart cleared after order confirmation",
		zap.String("cart_id", cartID),
		zap.String("order_number", orderNumber))
	return nil
}

func cartError(err error) error {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		return newValidationError("quantity", "must be at least 1")
	case errors.Is(err, cart.ErrInvalidPrice):
		return newValidationError("unit_price", "must not be negative")
	case errors.Is(err, cart.ErrMissingProduct):
		return newValidationError("product_id", "is required")
	}
	return err
}
