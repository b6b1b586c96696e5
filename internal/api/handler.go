package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderAPI is the order lifecycle as the HTTP layer sees it
type OrderAPI interface {
	CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*service.CheckoutResult, error)
	GetOrder(ctx context.Context, orderID int64) (*service.OrderDetail, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	ListOrders(ctx context.Context, status string) ([]models.Order, error)
	Stats(ctx context.Context) (*models.OrderStats, error)
	UpdateStatusManually(ctx context.Context, orderID int64, to models.OrderStatus, note string, actor models.Actor) (*models.Order, error)
}

// PaymentReconciler applies processor notifications
type PaymentReconciler interface {
	ReconcilePayment(ctx context.Context, paymentID string) (*service.ReconcileResult, error)
}

// CartAPI is the server-held cart
type CartAPI interface {
	Open(ctx context.Context, cartID string) (*cart.Cart, error)
	AddItem(ctx context.Context, cartID string, req service.AddItemRequest) (*cart.Cart, cart.LineItem, error)
	UpdateQuantity(ctx context.Context, cartID, itemID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, cartID, itemID string) (*cart.Cart, error)
	Clear(ctx context.Context, cartID string) error
	Snapshot(ctx context.Context, reqs []service.AddItemRequest) ([]cart.LineItem, error)
}

// Authenticator issues and checks admin sessions
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, *models.AdminUser, error)
	ParseToken(token string) (*service.SessionClaims, error)
	CurrentAdmin(ctx context.Context, claims *service.SessionClaims) (*models.AdminUser, error)
}

// WebhookVerifier authenticates a signed processor notification and returns
// the payment id it refers to. *payment.Stripe implements it.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (string, error)
}

var (
	_ OrderAPI          = (*service.OrderService)(nil)
	_ PaymentReconciler = (*service.PaymentService)(nil)
	_ CartAPI           = (*service.CartService)(nil)
	_ Authenticator     = (*service.AuthService)(nil)
	_ WebhookVerifier   = (*payment.Stripe)(nil)
)

// ReadinessCheck reports whether a dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Options tunes cookies and readiness
type Options struct {
	SessionTTL    time.Duration
	CartTTL       time.Duration
	SecureCookies bool
	Readiness     map[string]ReadinessCheck
}

// Handler contains HTTP handlers
type Handler struct {
	orders   OrderAPI
	payments PaymentReconciler
	carts    CartAPI
	auth     Authenticator
	stripe   WebhookVerifier
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler. stripe may be nil when Stripe is not
// the configured processor.
func NewHandler(orders OrderAPI, payments PaymentReconciler, carts CartAPI, auth Authenticator, stripe WebhookVerifier, opts Options) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		carts:    carts,
		auth:     auth,
		stripe:   stripe,
		opts:     opts,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/checkout", h.checkout)
		v1.GET("/orders/:number", h.getPublicOrder)

		v1.GET("/webhooks/mercadopago", h.webhookVerification)
		v1.POST("/webhooks/mercadopago", h.mercadoPagoWebhook)
		v1.POST("/webhooks/stripe", h.stripeWebhook)

		v1.POST("/admin/login", h.adminLogin)
		v1.POST("/admin/logout", h.adminLogout)

		admin := v1.Group("/admin", h.requireAdmin())
		{
			admin.GET("/me", h.adminMe)
			admin.GET("/orders", h.adminListOrders)
			admin.GET("/orders/:id", h.adminGetOrder)
			admin.PATCH("/orders/:id", h.adminUpdateOrder)
			admin.GET("/stats", h.adminStats)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every registered dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.opts.Readiness {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"checks": failed,
			"time":   time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeError maps service errors onto HTTP answers
func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": ve.Fields})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, service.ErrCartItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "cart item not found"})
	case errors.Is(err, payment.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUpstream):
		h.logger.Error("Payment processor request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment processor unavailable"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
