package service

import (
	"context"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	*orderFixture
	payments *PaymentService
	clock    time.Time
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		orderFixture: newOrderFixture(t, OrderConfig{}),
		clock:        time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC),
	}
	f.payments = NewPaymentService(f.store, f.provider, f.publisher)
	f.payments.now = func() time.Time { return f.clock }
	return f
}

func TestReconcileApprovedPaymentConfirmsOrder(t *testing.T) {
	f := newPaymentFixture(t)
	order := createdOrder(t, f.orderFixture)
	f.provider.setPayment("pay-1", models.ProcessorStatusApproved, order.OrderNumber)

	result, err := f.payments.ReconcilePayment(context.Background(), "pay-1")
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.Equal(t, models.OrderStatusPending, result.FromStatus)
	assert.Equal(t, models.OrderStatusConfirmed, result.ToStatus)

	stored, _ := f.store.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, "pay-1", models.StringValue(stored.PaymentID))
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, f.clock, *stored.PaidAt)

	history := f.store.historyOf(order.ID)
	require.Len(t, history, 2)
	assert.Equal(t, models.OrderStatusPending, *history[1].FromStatus)
	assert.Equal(t, models.OrderStatusConfirmed, history[1].ToStatus)
	assert.Nil(t, history[1].ChangedByAdminID)
	assert.Contains(t, models.StringValue(history[1].Notes), "pay-1")

	require.Len(t, f.publisher.changed, 1)
	event := f.publisher.changed[0]
	assert.Equal(t, models.ChangeSourceWebhook, event.Source)
	assert.Equal(t, models.OrderStatusConfirmed, event.ToStatus)
	assert.Equal(t, "cart-123", event.CartID)
}

func TestReconcileStatusMapping(t *testing.T) {
	tests := []struct {
		processor string
		order     models.OrderStatus
		payment   models.PaymentStatus
		paid      bool
	}{
		{models.ProcessorStatusRejected, models.OrderStatusCancelled, models.PaymentStatusFailed, false},
		{models.ProcessorStatusCancelled, models.OrderStatusCancelled, models.PaymentStatusFailed, false},
		{models.ProcessorStatusInProcess, models.OrderStatusPending, models.PaymentStatusPending, false},
		{models.ProcessorStatusRefunded, models.OrderStatusRefunded, models.PaymentStatusRefunded, false},
		{"charged_back", models.OrderStatusPending, models.PaymentStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.processor, func(t *testing.T) {
			f := newPaymentFixture(t)
			order := createdOrder(t, f.orderFixture)
			f.provider.setPayment("pay-x", tt.processor, order.OrderNumber)

			_, err := f.payments.ReconcilePayment(context.Background(), "pay-x")
			require.NoError(t, err)

			stored, _ := f.store.GetOrderByID(context.Background(), order.ID)
			assert.Equal(t, tt.order, stored.Status)
			assert.Equal(t, tt.payment, stored.PaymentStatus)
			assert.Equal(t, tt.paid, stored.PaidAt != nil)
		})
	}
}

func TestReconcileDuplicateNotificationAppendsNothing(t *testing.T) {
	f := newPaymentFixture(t)
	order := createdOrder(t, f.orderFixture)
	f.provider.setPayment("pay-1", models.ProcessorStatusApproved, order.OrderNumber)

	_, err := f.payments.ReconcilePayment(context.Background(), "pay-1")
	require.NoError(t, err)
	result, err := f.payments.ReconcilePayment(context.Background(), "pay-1")
	require.NoError(t, err)

	assert.False(t, result.Applied)
	assert.Len(t, f.store.historyOf(order.ID), 2)
	assert.Equal(t, 1, f.store.mutations)
	assert.Len(t, f.publisher.changed, 1)
}

func TestReconcileKeepsFirstPaidAt(t *testing.T) {
	f := newPaymentFixture(t)
	order := createdOrder(t, f.orderFixture)
	f.provider.setPayment("pay-1", models.ProcessorStatusApproved, order.OrderNumber)

	_, err := f.payments.ReconcilePayment(context.Background(), "pay-1")
	require.NoError(t, err)
	firstPaid := f.clock

	f.clock = f.clock.Add(48 * time.Hour)
	f.provider.setPayment("pay-1", models.ProcessorStatusRefunded, order.OrderNumber)
	_, err = f.payments.ReconcilePayment(context.Background(), "pay-1")
	require.NoError(t, err)

	stored, _ := f.store.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusRefunded, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, firstPaid, *stored.PaidAt)
	assert.Len(t, f.store.historyOf(order.ID), 3)
}

func TestReconcileApprovedAfterRejection(t *testing.T) {
	f := newPaymentFixture(t)
	order := createdOrder(t, f.orderFixture)

	f.provider.setPayment("pay-1", models.ProcessorStatusRejected, order.OrderNumber)
	_, err := f.payments.ReconcilePayment(context.Background(), "pay-1")
	require.NoError(t, err)

	f.provider.setPayment("pay-2", models.ProcessorStatusApproved, order.OrderNumber)
	_, err = f.payments.ReconcilePayment(context.Background(), "pay-2")
	require.NoError(t, err)

	stored, _ := f.store.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, "pay-2", models.StringValue(stored.PaymentID))
	assert.NotNil(t, stored.PaidAt)
}

func TestReconcileUnknownOrderReference(t *testing.T) {
	f := newPaymentFixture(t)
	f.provider.setPayment("pay-1", models.ProcessorStatusApproved, "SS-GHOST-0000")

	_, err := f.payments.ReconcilePayment(context.Background(), "pay-1")

	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, 0, f.store.mutations)
	assert.Empty(t, f.publisher.changed)
}

func TestReconcileLookupFailures(t *testing.T) {
	t.Run("unknown payment", func(t *testing.T) {
		f := newPaymentFixture(t)
		_, err := f.payments.ReconcilePayment(context.Background(), "missing")
		assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
	})

	t.Run("processor unavailable", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.provider.lookupErr = errBoom
		_, err := f.payments.ReconcilePayment(context.Background(), "pay-1")
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("payment without reference", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.provider.setPayment("pay-1", models.ProcessorStatusApproved, "")
		_, err := f.payments.ReconcilePayment(context.Background(), "pay-1")
		assert.ErrorIs(t, err, ErrMissingReference)
		assert.Equal(t, 0, f.store.mutations)
	})
}

func TestStatsCountRevenueFromPaidOrders(t *testing.T) {
	f := newPaymentFixture(t)
	paid := createdOrder(t, f.orderFixture)
	createdOrder(t, f.orderFixture)
	f.provider.setPayment("pay-1", models.ProcessorStatusApproved, paid.OrderNumber)
	_, err := f.payments.ReconcilePayment(context.Background(), "pay-1")
	require.NoError(t, err)

	stats, err := f.svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalOrders)
	assert.Equal(t, int64(1), stats.PendingOrders)
	assert.Equal(t, int64(1), stats.ConfirmedOrders)
	assert.Equal(t, paid.Total, stats.Revenue)
}
