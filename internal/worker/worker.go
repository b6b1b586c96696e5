package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CartClearer empties a customer's cart. *service.CartService implements it.
type CartClearer interface {
	ClearByID(ctx context.Context, cartID, orderNumber string) error
}

// CartWorker clears the originating cart once its order is confirmed
type CartWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	carts        CartClearer
	logger       *zap.Logger
}

// NewCartWorker creates a new cart worker
func NewCartWorker(consumer *broker.Consumer, carts CartClearer) *CartWorker {
	w := &CartWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		carts:        carts,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderStatusChanged(w.HandleStatusChanged)
	return w
}

// Start starts the worker
func (w *CartWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cart worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CartWorker) Stop() error {
	w.logger.Info("Stopping cart worker")
	return w.consumer.Close()
}

// HandleStatusChanged clears the cart of an order that just became confirmed
func (w *CartWorker) HandleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	if event.ToStatus != models.OrderStatusConfirmed || event.FromStatus == models.OrderStatusConfirmed {
		return nil
	}
	if event.CartID == "" {
		return nil
	}

	ctx, span := util.StartSpan(ctx, "CartWorker.HandleStatusChanged")
	defer span.End()

	if err := w.carts.ClearByID(ctx, event.CartID, event.OrderNumber); err != nil {
		util.RecordError(span, err)
		return err
	}
	return nil
}
