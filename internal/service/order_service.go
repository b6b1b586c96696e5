package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	orderNumberPrefix   = "SS-"
	orderNumberAttempts = 5
	checkoutLockTTL     = 30 * time.Second
	orderCreatedNote    = "order created"
)

// OrderConfig holds the checkout policy.
type OrderConfig struct {
	ShippingCost             int64
	RollbackOnPaymentFailure bool
	PublicBaseURL            string
	Currency                 string
	StatementDescriptor      string
}

// OrderService handles order creation, lookup and manual status changes
type OrderService struct {
	store          OrderStore
	provider       payment.Provider
	eventPublisher EventPublisher
	locker         Locker
	cfg            OrderConfig
	logger         *zap.Logger
	now            func() time.Time
	newOrderNumber func(time.Time) (string, error)
}

// NewOrderService creates a new order service. locker may be nil.
func NewOrderService(
	store OrderStore,
	provider payment.Provider,
	eventPublisher EventPublisher,
	locker Locker,
	cfg OrderConfig,
) *OrderService {
	return &OrderService{
		store:          store,
		provider:       provider,
		eventPublisher: eventPublisher,
		locker:         locker,
		cfg:            cfg,
		logger:         util.GetLogger(),
		now:            time.Now,
		newOrderNumber: GenerateOrderNumber,
	}
}

// Customer is the contact and shipping block of a checkout.
type Customer struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// CreateOrderRequest is a checkout: the customer plus an immutable line item snapshot
type CreateOrderRequest struct {
	Customer       Customer
	Items          []cart.LineItem
	CartID         string
	IdempotencyKey string
}

// CheckoutResult is what the customer needs to continue to the processor
type CheckoutResult struct {
	OrderID            int64  `json:"-"`
	OrderNumber        string `json:"order_number"`
	RedirectURL        string `json:"redirect_url"`
	SandboxRedirectURL string `json:"sandbox_redirect_url,omitempty"`
	Replayed           bool   `json:"replayed,omitempty"`
}

// OrderDetail is an order with its items and its history, newest entry first
type OrderDetail struct {
	*models.Order
	History []models.OrderStatusHistory `json:"history"`
}

// CreateOrder persists a pending order and requests a payment session for it
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validateCheckout(req); err != nil {
		util.CheckoutFailuresTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if s.locker != nil {
			release, err := s.lockCheckout(ctx, req.IdempotencyKey)
			if err != nil {
				return nil, err
			}
			defer release()
		}

		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate checkout request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_number", existing.OrderNumber))
			return s.replayCheckout(ctx, existing)
		}
	}

	order, items := s.buildOrder(req)
	first := &models.OrderStatusHistory{
		ToStatus: models.OrderStatusPending,
		Notes:    models.StringPtr(orderCreatedNote),
	}

	if err := s.persistOrder(ctx, order, items, first); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return s.replayCheckout(ctx, existing)
			}
		}
		util.CheckoutFailuresTotal.WithLabelValues("db_error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	span.SetAttributes(attribute.String("order_number", order.OrderNumber))
	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.Total),
		zap.Int("items", len(items)))

	s.publishOrderCreated(ctx, order, items)

	result, err := s.startPayment(ctx, order, items)
	if err != nil {
		util.RecordError(span, err)
		s.handlePaymentFailure(ctx, order, err)
		return nil, err
	}
	return result, nil
}

func (s *OrderService) lockCheckout(ctx context.Context, key string) (func(), error) {
	lockKey := "checkout:" + key
	ok, err := s.locker.AcquireLock(ctx, lockKey, checkoutLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire checkout lock: %w", err)
	}
	if !ok {
		return nil, ErrCheckoutInProgress
	}
	return func() {
		if err := s.locker.ReleaseLock(context.Background(), lockKey); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.String("key", lockKey), zap.Error(err))
		}
	}, nil
}

// replayCheckout answers a repeated idempotency key. An order retained after a
// failed payment session gets a fresh session attempt.
func (s *OrderService) replayCheckout(ctx context.Context, order *models.Order) (*CheckoutResult, error) {
	if order.CheckoutURL != nil {
		return &CheckoutResult{
			OrderID:            order.ID,
			OrderNumber:        order.OrderNumber,
			RedirectURL:        *order.CheckoutURL,
			SandboxRedirectURL: models.StringValue(order.SandboxCheckoutURL),
			Replayed:           true,
		}, nil
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %s is %s", ErrCheckoutInProgress, order.OrderNumber, order.Status)
	}

	items, err := s.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	result, err := s.startPayment(ctx, order, items)
	if err != nil {
		return nil, err
	}
	result.Replayed = true
	return result, nil
}

func (s *OrderService) buildOrder(req *CreateOrderRequest) (*models.Order, []models.OrderItem) {
	items := make([]models.OrderItem, 0, len(req.Items))
	var subtotal int64
	for _, li := range req.Items {
		lineSubtotal := li.UnitPrice * int64(li.Quantity)
		subtotal += lineSubtotal
		items = append(items, models.OrderItem{
			ProductID:             li.ProductID,
			ProductName:           li.ProductName,
			ProductSlug:           li.ProductSlug,
			RibbonID:              li.RibbonID,
			RibbonName:            models.StringPtr(li.RibbonName),
			AppliqueID:            li.AppliqueID,
			AppliqueName:          models.StringPtr(li.AppliqueName),
			CustomTextName:        models.StringPtr(li.CustomTextName),
			CustomTextDescription: models.StringPtr(li.CustomTextDescription),
			UnitPrice:             li.UnitPrice,
			Quantity:              li.Quantity,
			Subtotal:              lineSubtotal,
			ProductImagePath:      models.StringPtr(li.ImagePath),
		})
	}

	c := req.Customer
	order := &models.Order{
		CustomerName:       strings.TrimSpace(c.Name),
		CustomerEmail:      strings.ToLower(strings.TrimSpace(c.Email)),
		CustomerPhone:      strings.TrimSpace(c.Phone),
		ShippingAddress:    strings.TrimSpace(c.Address),
		ShippingCity:       strings.TrimSpace(c.City),
		ShippingProvince:   strings.TrimSpace(c.Province),
		ShippingPostalCode: models.StringPtr(strings.TrimSpace(c.PostalCode)),
		ShippingNotes:      models.StringPtr(strings.TrimSpace(c.Notes)),
		Subtotal:           subtotal,
		ShippingCost:       s.cfg.ShippingCost,
		Total:              subtotal + s.cfg.ShippingCost,
		Status:             models.OrderStatusPending,
		PaymentStatus:      models.PaymentStatusPending,
		PaymentProvider:    s.provider.Name(),
		CartID:             models.StringPtr(req.CartID),
		IdempotencyKey:     models.StringPtr(req.IdempotencyKey),
	}
	return order, items
}

// persistOrder retries with a fresh order number when the generated one collides
func (s *OrderService) persistOrder(ctx context.Context, order *models.Order, items []models.OrderItem, first *models.OrderStatusHistory) error {
	for attempt := 1; ; attempt++ {
		number, err := s.newOrderNumber(s.now())
		if err != nil {
			return err
		}
		order.OrderNumber = number

		err = s.store.CreateOrder(ctx, order, items, first)
		if !errors.Is(err, store.ErrDuplicateOrderNumber) || attempt == orderNumberAttempts {
			return err
		}
		s.logger.Warn("Order number collision, retrying",
			zap.String("order_number", number),
			zap.Int("attempt", attempt))
	}
}

func (s *OrderService) startPayment(ctx context.Context, order *models.Order, items []models.OrderItem) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.startPayment",
		attribute.String("provider", s.provider.Name()),
		attribute.String("order_number", order.OrderNumber))
	defer span.End()

	req := s.sessionRequest(order, items)

	start := time.Now()
	session, err := s.provider.CreatePaymentSession(ctx, req)
	util.PaymentSessionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := s.store.SetPaymentSession(ctx, order.ID, session.ID, session.RedirectURL, session.SandboxRedirectURL); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to store payment session: %w", err)
	}
	order.PaymentPreferenceID = models.StringPtr(session.ID)
	order.CheckoutURL = models.StringPtr(session.RedirectURL)
	order.SandboxCheckoutURL = models.StringPtr(session.SandboxRedirectURL)

	return &CheckoutResult{
		OrderID:            order.ID,
		OrderNumber:        order.OrderNumber,
		RedirectURL:        session.RedirectURL,
		SandboxRedirectURL: session.SandboxRedirectURL,
	}, nil
}

func (s *OrderService) sessionRequest(order *models.Order, items []models.OrderItem) payment.SessionRequest {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	public := payment.IsPublicURL(base)

	req := payment.SessionRequest{
		Payer: payment.Payer{
			Name:       order.CustomerName,
			Email:      order.CustomerEmail,
			Phone:      order.CustomerPhone,
			Address:    order.ShippingAddress,
			PostalCode: models.StringValue(order.ShippingPostalCode),
		},
		ExternalReference:   order.OrderNumber,
		Currency:            s.cfg.Currency,
		StatementDescriptor: s.cfg.StatementDescriptor,
		IdempotencyKey:      models.StringValue(order.IdempotencyKey),
	}

	for _, item := range items {
		li := payment.LineItem{
			ID:          processorItemID(item),
			Title:       item.ProductName,
			Description: processorItemDescription(item),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		}
		if public && item.ProductImagePath != nil {
			li.ImageURL = base + "/" + strings.TrimLeft(*item.ProductImagePath, "/")
		}
		req.Items = append(req.Items, li)
	}

	if public {
		back := base + "/checkout/%s?order=" + order.OrderNumber
		req.Callbacks = &payment.CallbackURLs{
			Success:      fmt.Sprintf(back, "success"),
			Failure:      fmt.Sprintf(back, "failure"),
			Pending:      fmt.Sprintf(back, "pending"),
			Notification: base + "/api/v1/webhooks/" + s.provider.Name(),
		}
	}
	return req
}

func processorItemID(item models.OrderItem) string {
	ribbon := models.StringValue(item.RibbonName)
	if ribbon == "" {
		ribbon = "default"
	}
	applique := models.StringValue(item.AppliqueName)
	if applique == "" {
		applique = "default"
	}
	return item.ProductSlug + "-" + ribbon + "-" + applique
}

func processorItemDescription(item models.OrderItem) string {
	var parts []string
	if v := models.StringValue(item.RibbonName); v != "" {
		parts = append(parts, "Cinta: "+v)
	}
	if v := models.StringValue(item.AppliqueName); v != "" {
		parts = append(parts, "Aplique: "+v)
	}
	if v := models.StringValue(item.CustomTextName); v != "" {
		parts = append(parts, "Texto: "+strconv.Quote(v))
	}
	if len(parts) == 0 {
		return "Producto personalizado"
	}
	return strings.Join(parts, " | ")
}

func (s *OrderService) handlePaymentFailure(ctx context.Context, order *models.Order, cause error) {
	util.CheckoutFailuresTotal.WithLabelValues("payment_session").Inc()

	if !s.cfg.RollbackOnPaymentFailure {
		s.logger.Error("Payment session failed, pending order retained",
			zap.String("order_number", order.OrderNumber),
			zap.Error(cause))
		return
	}

	if err := s.store.DeleteOrder(ctx, order.ID); err != nil {
		s.logger.Error("Payment session failed and rollback failed",
			zap.String("order_number", order.OrderNumber),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	s.logger.Warn("Payment session failed, order rolled back",
		zap.String("order_number", order.OrderNumber),
		zap.Error(cause))
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, len(items))
	for i, item := range items {
		data[i] = models.OrderItemData{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: s.now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Total:       order.Total,
		CartID:      models.StringValue(order.CartID),
		Items:       data,
	}

	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// GetOrder retrieves an order with its items and history
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if order.Items, err = s.store.GetOrderItems(ctx, orderID); err != nil {
		return nil, err
	}
	history, err := s.store.GetOrderHistory(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, History: history}, nil
}

// GetOrderByNumber retrieves an order and its items by public order number
func (s *OrderService) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrderByNumber")
	defer span.End()

	order, err := s.store.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if order.Items, err = s.store.GetOrderItems(ctx, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders lists orders newest first, optionally filtered by status
func (s *OrderService) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	filter := models.OrderStatus(strings.TrimSpace(status))
	if filter != "" && !filter.Valid() {
		return nil, newValidationError("status", "unknown status %q", status)
	}
	return s.store.ListOrders(ctx, filter)
}

// Stats returns dashboard counters
func (s *OrderService) Stats(ctx context.Context) (*models.OrderStats, error) {
	return s.store.GetStats(ctx)
}

// UpdateStatusManually moves an order along the admin transition table and
// records the acting admin in the history.
func (s *OrderService) UpdateStatusManually(ctx context.Context, orderID int64, to models.OrderStatus, note string, actor models.Actor) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatusManually",
		attribute.Int64("order_id", orderID),
		attribute.String("to", string(to)))
	defer span.End()

	if !to.Valid() {
		return nil, newValidationError("status", "unknown status %q", to)
	}

	var from models.OrderStatus
	order, entry, err := s.store.MutateOrderByID(ctx, orderID, func(o *models.Order) (*models.OrderStatusHistory, error) {
		from = o.Status
		if !models.CanTransition(from, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		now := s.now()
		o.Status = to
		switch to {
		case models.OrderStatusShipped:
			o.ShippedAt = &now
		case models.OrderStatusDelivered:
			o.DeliveredAt = &now
		}

		actorID := actor.ID
		return &models.OrderStatusHistory{
			FromStatus:       &from,
			ToStatus:         to,
			ChangedByAdminID: &actorID,
			Notes:            models.StringPtr(strings.TrimSpace(note)),
		}, nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, mapNotFound(err)
	}

	util.OrderStatusChangesTotal.WithLabelValues(models.ChangeSourceAdmin, string(to)).Inc()
	s.logger.Info("Order status updated manually",
		zap.String("order_number", order.OrderNumber),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("admin_id", actor.ID),
		zap.String("admin_name", actor.Name))

	publishStatusChanged(ctx, s.eventPublisher, s.logger, order, from, models.ChangeSourceAdmin, entry.ChangedByAdminID, s.now())
	return order, nil
}

func publishStatusChanged(ctx context.Context, publisher EventPublisher, logger *zap.Logger, order *models.Order, from models.OrderStatus, source string, changedBy *int64, at time.Time) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: at,
		},
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		FromStatus:    from,
		ToStatus:      order.Status,
		PaymentStatus: order.PaymentStatus,
		Source:        source,
		ChangedBy:     changedBy,
		CartID:        models.StringValue(order.CartID),
	}

	if err := publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		logger.Error("Failed to publish OrderStatusChanged event",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return err
}

func validateCheckout(req *CreateOrderRequest) error {
	v := &ValidationError{}
	c := req.Customer

	required := []struct {
		field, value string
	}{
		{"customer.name", c.Name},
		{"customer.email", c.Email},
		{"customer.phone", c.Phone},
		{"customer.address", c.Address},
		{"customer.city", c.City},
		{"customer.province", c.Province},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			v.add(r.field, "is required")
		}
	}
	if email := strings.TrimSpace(c.Email); email != "" {
		if !strings.Contains(email, "@") || strings.ContainsAny(email, " <>") {
			v.add("customer.email", "is not a valid e-mail address")
		}
	}

	if len(req.Items) == 0 {
		v.add("items", "at least one item is required")
	}
	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		if item.ProductID == 0 {
			v.add(field+".product_id", "is required")
		}
		if item.Quantity < 1 || item.Quantity > cart.MaxQuantity {
			v.add(field+".quantity", "must be between 1 and %d", cart.MaxQuantity)
		}
		if item.UnitPrice < 0 {
			v.add(field+".unit_price", "must not be negative")
		}
	}
	return v.orNil()
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateOrderNumber returns SS-<base36 millis>-<4 random base36 chars>.
func GenerateOrderNumber(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	radix := big.NewInt(int64(len(base36)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, radix)
		if err != nil {
			return "", fmt.Errorf("failed to generate order number: %w", err)
		}
		suffix[i] = base36[n.Int64()]
	}
	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return orderNumberPrefix + stamp + "-" + string(suffix), nil
}
