package models

// OrderStatus is the fulfilment axis of an order.
type OrderStatus string

// Order statuses. OrderStatusRefunded is only reachable through payment
// reconciliation; the admin panel never offers it.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// PaymentStatus is the payment axis of an order.
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Processor status vocabulary reported by the payment collaborator.
const (
	ProcessorStatusApproved  = "approved"
	ProcessorStatusPending   = "pending"
	ProcessorStatusInProcess = "in_process"
	ProcessorStatusRejected  = "rejected"
	ProcessorStatusCancelled = "cancelled"
	ProcessorStatusRefunded  = "refunded"
)

// StatusPair is the (payment, order) tuple a processor status maps to.
type StatusPair struct {
	Payment PaymentStatus
	Order   OrderStatus
}

// processorStatusMap is the single source of truth for reconciliation.
var processorStatusMap = map[string]StatusPair{
	ProcessorStatusApproved:  {Payment: PaymentStatusPaid, Order: OrderStatusConfirmed},
	ProcessorStatusPending:   {Payment: PaymentStatusPending, Order: OrderStatusPending},
	ProcessorStatusInProcess: {Payment: PaymentStatusPending, Order: OrderStatusPending},
	ProcessorStatusRejected:  {Payment: PaymentStatusFailed, Order: OrderStatusCancelled},
	ProcessorStatusCancelled: {Payment: PaymentStatusFailed, Order: OrderStatusCancelled},
	ProcessorStatusRefunded:  {Payment: PaymentStatusRefunded, Order: OrderStatusRefunded},
}

// MapProcessorStatus resolves a processor status; unknown values map to pending/pending.
func MapProcessorStatus(processorStatus string) StatusPair {
	if pair, ok := processorStatusMap[processorStatus]; ok {
		return pair
	}
	return StatusPair{Payment: PaymentStatusPending, Order: OrderStatusPending}
}

// manualTransitions lists the targets an admin may move an order to.
var manualTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusCancelled},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no manual transition leaves s.
func (s OrderStatus) Terminal() bool {
	return len(manualTransitions[s]) == 0
}

// CanTransition reports whether an admin may move an order from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range manualTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
