package domain

import (
	"encoding/json"
)

// Order event types
const (
	OrderPlaced    = "OrderPlaced"
	OrderPaid      = "OrderPaid"
	OrderShipped   = "OrderShipped"
	OrderCancelled = "OrderCancelled"
)

// Order statuses
const (
	OrderStatusPlaced    = "placed"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusCancelled = "cancelled"
)

// OrderItem is a single line item on an order
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// OrderPlacedEvent is emitted when a customer places an order
type OrderPlacedEvent struct {
	CustomerID string      `json:"customer_id"`
	Items      []OrderItem `json:"items"`
	Total      float64     `json:"total"`
}

func (OrderPlacedEvent) EventType() string { return OrderPlaced }

// OrderPaidEvent is emitted when payment is confirmed
type OrderPaidEvent struct {
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
}

func (OrderPaidEvent) EventType() string { return OrderPaid }

// OrderShippedEvent is emitted when the order leaves the warehouse
type OrderShippedEvent struct {
	TrackingCode string `json:"tracking_code"`
}

func (OrderShippedEvent) EventType() string { return OrderShipped }

// OrderCancelledEvent is emitted when an order is cancelled
type OrderCancelledEvent struct {
	Reason string `json:"reason"`
}

func (OrderCancelledEvent) EventType() string { return OrderCancelled }

// OrderState holds the internal state of an order aggregate
type OrderState struct {
	CustomerID   string      `json:"customer_id"`
	Items        []OrderItem `json:"items"`
	Total        float64     `json:"total"`
	Status       string      `json:"status"`
	PaymentID    string      `json:"payment_id"`
	TrackingCode string      `json:"tracking_code"`
}

// OrderAggregate is the aggregate for a customer order.
// Status transitions: placed -> paid -> shipped, with cancellation
// allowed from placed or paid only.
type OrderAggregate struct {
	*AggregateBase
	State OrderState
}

// NewOrderAggregate creates an empty order aggregate ready for folding
func NewOrderAggregate(id string) *OrderAggregate {
	aggregate := &OrderAggregate{}
	aggregate.AggregateBase = NewAggregateBase(id, OrderAggregateType, aggregate.applyEvent)
	return aggregate
}

// PlaceOrder creates a new order aggregate with an OrderPlaced event at version 1
func PlaceOrder(id, customerID string, items []OrderItem, meta Metadata) (*OrderAggregate, error) {
	if customerID == "" {
		return nil, NewValidationError("customer_id", "must not be empty")
	}
	if len(items) == 0 {
		return nil, NewValidationError("items", "order must contain at least one item")
	}

	var total float64
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, NewValidationError("items", "item quantity must be positive")
		}
		if item.UnitPrice < 0 {
			return nil, NewValidationError("items", "item price must not be negative")
		}
		total += float64(item.Quantity) * item.UnitPrice
	}

	aggregate := NewOrderAggregate(id)
	err := aggregate.Record(OrderPlacedEvent{CustomerID: customerID, Items: items, Total: total}, meta)
	if err != nil {
		return nil, err
	}
	return aggregate, nil
}

// Pay records payment confirmation. Paying an already-paid order is a no-op.
func (a *OrderAggregate) Pay(paymentID string, amount float64, meta Metadata) error {
	switch a.State.Status {
	case OrderStatusPaid, OrderStatusShipped:
		return nil
	case OrderStatusCancelled:
		return NewBusinessRuleViolation("order-open", "cannot pay a cancelled order")
	}
	if amount != a.State.Total {
		return NewValidationError("amount", "payment amount does not match order total")
	}

	return a.Record(OrderPaidEvent{PaymentID: paymentID, Amount: amount}, meta)
}

// Ship marks the order as shipped. Requires a paid order;
// shipping twice is a no-op.
func (a *OrderAggregate) Ship(trackingCode string, meta Metadata) error {
	switch a.State.Status {
	case OrderStatusShipped:
		return nil
	case OrderStatusPlaced:
		return NewBusinessRuleViolation("order-paid", "cannot ship an unpaid order")
	case OrderStatusCancelled:
		return NewBusinessRuleViolation("order-open", "cannot ship a cancelled order")
	}

	return a.Record(OrderShippedEvent{TrackingCode: trackingCode}, meta)
}

// Cancel cancels the order. Allowed from placed or paid;
// cancelling twice is a no-op.
func (a *OrderAggregate) Cancel(reason string, meta Metadata) error {
	switch a.State.Status {
	case OrderStatusCancelled:
		return nil
	case OrderStatusShipped:
		return NewBusinessRuleViolation("order-cancellable", "cannot cancel a shipped order")
	}

	return a.Record(OrderCancelledEvent{Reason: reason}, meta)
}

// applyEvent applies an event to the order aggregate
func (a *OrderAggregate) applyEvent(eventType string, data []byte) error {
	switch eventType {
	case OrderPlaced:
		var e OrderPlacedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		a.State.CustomerID = e.CustomerID
		a.State.Items = e.Items
		a.State.Total = e.Total
		a.State.Status = OrderStatusPlaced

	case OrderPaid:
		var e OrderPaidEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		a.State.PaymentID = e.PaymentID
		a.State.Status = OrderStatusPaid

	case OrderShipped:
		var e OrderShippedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		a.State.TrackingCode = e.TrackingCode
		a.State.Status = OrderStatusShipped

	case OrderCancelled:
		a.State.Status = OrderStatusCancelled

	default:
		return ErrUnknownEventType
	}

	return nil
}

// SnapshotState serializes the aggregate state for snapshotting
func (a *OrderAggregate) SnapshotState() ([]byte, error) {
	return json.Marshal(a.State)
}

// RestoreSnapshot restores the aggregate state from a snapshot
func (a *OrderAggregate) RestoreSnapshot(version int, state []byte) error {
	var restored OrderState
	if err := json.Unmarshal(state, &restored); err != nil {
		return err
	}
	a.State = restored
	a.RestoreVersion(version)
	return nil
}
