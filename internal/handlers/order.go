package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/semyenov/graphql-microservices-sub001/internal/bus"
	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/repository"
)

// Order command types
const (
	PlaceOrderCommand  = "PlaceOrder"
	PayOrderCommand    = "PayOrder"
	ShipOrderCommand   = "ShipOrder"
	CancelOrderCommand = "CancelOrder"
)

// PlaceOrder creates a new customer order.
// OrderID is generated when empty.
type PlaceOrder struct {
	OrderID    string             `json:"order_id"`
	CustomerID string             `json:"customer_id"`
	Items      []domain.OrderItem `json:"items"`
	Metadata   domain.Metadata    `json:"metadata"`
}

func (PlaceOrder) CommandType() string { return PlaceOrderCommand }

func (c PlaceOrder) Validate() error {
	if c.CustomerID == "" {
		return domain.NewValidationError("customer_id", "must not be empty")
	}
	return nil
}

// PayOrder records payment confirmation for an order
type PayOrder struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    float64         `json:"amount"`
	Metadata  domain.Metadata `json:"metadata"`
}

func (PayOrder) CommandType() string { return PayOrderCommand }

func (c PayOrder) Validate() error {
	if c.OrderID == "" {
		return domain.NewValidationError("order_id", "must not be empty")
	}
	if c.PaymentID == "" {
		return domain.NewValidationError("payment_id", "must not be empty")
	}
	return nil
}

// ShipOrder marks an order as shipped
type ShipOrder struct {
	OrderID      string          `json:"order_id"`
	TrackingCode string          `json:"tracking_code"`
	Metadata     domain.Metadata `json:"metadata"`
}

func (ShipOrder) CommandType() string { return ShipOrderCommand }

func (c ShipOrder) Validate() error {
	if c.OrderID == "" {
		return domain.NewValidationError("order_id", "must not be empty")
	}
	return nil
}

// CancelOrder cancels an open order
type CancelOrder struct {
	OrderID  string          `json:"order_id"`
	Reason   string          `json:"reason"`
	Metadata domain.Metadata `json:"metadata"`
}

func (CancelOrder) CommandType() string { return CancelOrderCommand }

func (c CancelOrder) Validate() error {
	if c.OrderID == "" {
		return domain.NewValidationError("order_id", "must not be empty")
	}
	return nil
}

// OrderCommandHandler executes order commands against the write model
type OrderCommandHandler struct {
	repo *repository.AggregateRepository
}

// NewOrderCommandHandler creates a new order command handler
func NewOrderCommandHandler(repo *repository.AggregateRepository) *OrderCommandHandler {
	return &OrderCommandHandler{repo: repo}
}

// HandlePlace handles PlaceOrder
func (h *OrderCommandHandler) HandlePlace(ctx context.Context, cmd bus.Command) error {
	c := cmd.(PlaceOrder)
	if c.OrderID == "" {
		c.OrderID = uuid.New().String()
	}

	aggregate, err := domain.PlaceOrder(c.OrderID, c.CustomerID, c.Items, c.Metadata)
	if err != nil {
		return err
	}

	if err := h.repo.Save(ctx, aggregate, RoutingKeyOrders); err != nil {
		return err
	}

	log.Info().
		Str("orderID", c.OrderID).
		Str("customerID", c.CustomerID).
		Int("items", len(c.Items)).
		Msg("Order placed")
	return nil
}

// HandlePay handles PayOrder
func (h *OrderCommandHandler) HandlePay(ctx context.Context, cmd bus.Command) error {
	c := cmd.(PayOrder)

	return withConflictRetry(ctx, func(ctx context.Context) error {
		aggregate := domain.NewOrderAggregate(c.OrderID)
		if err := h.repo.Load(ctx, aggregate); err != nil {
			return err
		}
		if err := aggregate.Pay(c.PaymentID, c.Amount, c.Metadata); err != nil {
			return err
		}
		return h.repo.Save(ctx, aggregate, RoutingKeyOrders)
	})
}

// HandleShip handles ShipOrder
func (h *OrderCommandHandler) HandleShip(ctx context.Context, cmd bus.Command) error {
	c := cmd.(ShipOrder)

	return withConflictRetry(ctx, func(ctx context.Context) error {
		aggregate := domain.NewOrderAggregate(c.OrderID)
		if err := h.repo.Load(ctx, aggregate); err != nil {
			return err
		}
		if err := aggregate.Ship(c.TrackingCode, c.Metadata); err != nil {
			return err
		}
		return h.repo.Save(ctx, aggregate, RoutingKeyOrders)
	})
}

// HandleCancel handles CancelOrder
func (h *OrderCommandHandler) HandleCancel(ctx context.Context, cmd bus.Command) error {
	c := cmd.(CancelOrder)

	return withConflictRetry(ctx, func(ctx context.Context) error {
		aggregate := domain.NewOrderAggregate(c.OrderID)
		if err := h.repo.Load(ctx, aggregate); err != nil {
			return err
		}
		if err := aggregate.Cancel(c.Reason, c.Metadata); err != nil {
			return err
		}
		return h.repo.Save(ctx, aggregate, RoutingKeyOrders)
	})
}
