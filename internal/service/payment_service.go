package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Reconciliation outcomes, used as metric labels
const (
	OutcomeApplied       = "applied"
	OutcomeDuplicate     = "duplicate"
	OutcomeOrderNotFound = "order_not_found"
	OutcomeLookupFailed  = "lookup_failed"
	OutcomeNoReference   = "no_reference"
)

// PaymentService reconciles orders with asynchronous processor notifications
type PaymentService struct {
	store          OrderStore
	provider       payment.Provider
	eventPublisher EventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(store OrderStore, provider payment.Provider, eventPublisher EventPublisher) *PaymentService {
	return &PaymentService{
		store:          store,
		provider:       provider,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		now:            time.Now,
	}
}

// ReconcileResult describes what a notification did to its order
type ReconcileResult struct {
	OrderNumber     string               `json:"order_number"`
	ProcessorStatus string               `json:"processor_status"`
	FromStatus      models.OrderStatus   `json:"from_status"`
	ToStatus        models.OrderStatus   `json:"to_status"`
	PaymentStatus   models.PaymentStatus `json:"payment_status"`
	Applied         bool                 `json:"applied"`
}

// ReconcilePayment looks the payment up at the processor and applies the
// mapped (payment, order) statuses to the referenced order. A notification
// that would not change the order for the same payment id appends nothing.
func (ps *PaymentService) ReconcilePayment(ctx context.Context, paymentID string) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ReconcilePayment",
		attribute.String("payment_id", paymentID),
		attribute.String("provider", ps.provider.Name()))
	defer span.End()

	p, err := ps.provider.GetPayment(ctx, paymentID)
	if err != nil {
		util.PaymentReconciliationsTotal.WithLabelValues("unknown", OutcomeLookupFailed).Inc()
		util.RecordError(span, err)
		if errors.Is(err, payment.ErrPaymentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if p.ExternalReference == "" {
		util.PaymentReconciliationsTotal.WithLabelValues(statusLabel(p.Status), OutcomeNoReference).Inc()
		return nil, fmt.Errorf("%w: payment %s", ErrMissingReference, paymentID)
	}
	if p.ID == "" {
		p.ID = paymentID
	}

	pair := models.MapProcessorStatus(p.Status)
	result := &ReconcileResult{
		OrderNumber:     p.ExternalReference,
		ProcessorStatus: p.Status,
		ToStatus:        pair.Order,
		PaymentStatus:   pair.Payment,
	}

	order, entry, err := ps.store.MutateOrderByNumber(ctx, p.ExternalReference, func(o *models.Order) (*models.OrderStatusHistory, error) {
		result.FromStatus = o.Status
		if o.Status == pair.Order && o.PaymentStatus == pair.Payment && models.StringValue(o.PaymentID) == p.ID {
			return nil, nil
		}

		from := o.Status
		o.Status = pair.Order
		o.PaymentStatus = pair.Payment
		o.PaymentID = models.StringPtr(p.ID)
		if p.Status == models.ProcessorStatusApproved && o.PaidAt == nil {
			now := ps.now()
			o.PaidAt = &now
		}

		note := fmt.Sprintf("payment %s via %s, payment id %s", p.Status, ps.provider.Name(), p.ID)
		return &models.OrderStatusHistory{
			FromStatus: &from,
			ToStatus:   pair.Order,
			Notes:      &note,
		}, nil
	})
	if err != nil {
		err = mapNotFound(err)
		if errors.Is(err, ErrOrderNotFound) {
			util.PaymentReconciliationsTotal.WithLabelValues(statusLabel(p.Status), OutcomeOrderNotFound).Inc()
		}
		util.RecordError(span, err)
		return nil, err
	}

	if entry == nil {
		util.PaymentReconciliationsTotal.WithLabelValues(statusLabel(p.Status), OutcomeDuplicate).Inc()
		ps.logger.Info("Payment notification already applied",
			zap.String("order_number", order.OrderNumber),
			zap.String("payment_id", p.ID),
			zap.String("processor_status", p.Status))
		return result, nil
	}

	result.Applied = true
	util.PaymentReconciliationsTotal.WithLabelValues(statusLabel(p.Status), OutcomeApplied).Inc()
	util.OrderStatusChangesTotal.WithLabelValues(models.ChangeSourceWebhook, string(order.Status)).Inc()
	ps.logger.Info("Order reconciled with payment",
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_id", p.ID),
		zap.String("processor_status", p.Status),
		zap.String("from", string(result.FromStatus)),
		zap.String("to", string(order.Status)),
		zap.String("payment_status", string(order.PaymentStatus)))

	publishStatusChanged(ctx, ps.eventPublisher, ps.logger, order, result.FromStatus, models.ChangeSourceWebhook, nil, ps.now())
	return result, nil
}

// statusLabel bounds metric cardinality to the known processor vocabulary.
func statusLabel(status string) string {
	switch status {
	case models.ProcessorStatusApproved, models.ProcessorStatusPending, models.ProcessorStatusInProcess,
		models.ProcessorStatusRejected, models.ProcessorStatusCancelled, models.ProcessorStatusRefunded:
		return status
	}
	return "other"
}
