package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	cartCookie       = "cart_id"
	cartHeader       = "X-Cart-ID"
	idempotencyKeyHd = "Idempotency-Key"
)

// existingCartID returns the caller's cart id, or "" when it has none
func existingCartID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(cartHeader)); id != "" {
		return id
	}
	if id, err := c.Cookie(cartCookie); err == nil {
		return strings.TrimSpace(id)
	}
	return ""
}

// cartID returns the caller's cart id, issuing a new one on first use
func (h *Handler) cartID(c *gin.Context) string {
	if id := existingCartID(c); id != "" {
		return id
	}
	id := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cartCookie, id, int(h.opts.CartTTL/time.Second), "/", "", h.opts.SecureCookies, true)
	c.Header(cartHeader, id)
	return id
}

type cartView struct {
	CartID     string          `json:"cart_id"`
	Items      []cart.LineItem `json:"items"`
	TotalItems int             `json:"total_items"`
	TotalPrice int64           `json:"total_price"`
	ItemCount  int             `json:"item_count"`
	Warning    string          `json:"warning,omitempty"`
}

func newCartView(cartID string, c *cart.Cart) cartView {
	return cartView{
		CartID:     cartID,
		Items:      c.Items(),
		TotalItems: c.TotalItems(),
		TotalPrice: c.TotalPrice(),
		ItemCount:  c.ItemCount(),
	}
}

func (h *Handler) getCart(c *gin.Context) {
	id := h.cartID(c)
	crt, err := h.carts.Open(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartView(id, crt))
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id := h.cartID(c)
	crt, item, err := h.carts.AddItem(c.Request.Context(), id, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item": item,
		"cart": newCartView(id, crt),
	})
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req updateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id := h.cartID(c)
	crt, err := h.carts.UpdateQuantity(c.Request.Context(), id, c.Param("id"), *req.Quantity)
	if errors.Is(err, cart.ErrQuantityExceedsMax) && crt != nil {
		view := newCartView(id, crt)
		view.Warning = err.Error()
		c.JSON(http.StatusOK, view)
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartView(id, crt))
}

func (h *Handler) removeCartItem(c *gin.Context) {
	id := h.cartID(c)
	crt, err := h.carts.RemoveItem(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartView(id, crt))
}

func (h *Handler) clearCart(c *gin.Context) {
	id := h.cartID(c)
	if err := h.carts.Clear(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type checkoutRequest struct {
	Customer service.Customer         `json:"customer"`
	Items    []service.AddItemRequest `json:"items"`
}

// checkout prices the submitted configurations (or the caller's cart) against
// the catalog and creates the order
func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	cartID := existingCartID(c)

	var items []cart.LineItem
	if len(req.Items) > 0 {
		snapshot, err := h.carts.Snapshot(ctx, req.Items)
		if err != nil {
			h.writeError(c, err)
			return
		}
		items = snapshot
	} else if cartID != "" {
		crt, err := h.carts.Open(ctx, cartID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		items = crt.Items()
	}

	result, err := h.orders.CreateOrder(ctx, &service.CreateOrderRequest{
		Customer:       req.Customer,
		Items:          items,
		CartID:         cartID,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(idempotencyKeyHd)),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// publicOrder is what the checkout landing pages may show without a session
type publicOrder struct {
	OrderNumber   string               `json:"order_number"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Subtotal      int64                `json:"subtotal"`
	ShippingCost  int64                `json:"shipping_cost"`
	Total         int64                `json:"total"`
	Items         []models.OrderItem   `json:"items"`
	CreatedAt     time.Time            `json:"created_at"`
	PaidAt        *time.Time           `json:"paid_at,omitempty"`
}

func (h *Handler) getPublicOrder(c *gin.Context) {
	order, err := h.orders.GetOrderByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, publicOrder{
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Subtotal:      order.Subtotal,
		ShippingCost:  order.ShippingCost,
		Total:         order.Total,
		Items:         order.Items,
		CreatedAt:     order.CreatedAt,
		PaidAt:        order.PaidAt,
	})
}
