package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

// OrderProjectionName is the checkpoint name of the order read model
const OrderProjectionName = "order-readmodel"

// OrderProjection builds the order read model
type OrderProjection struct {
	db *gorm.DB
}

// NewOrderProjection creates a new order projection
func NewOrderProjection(db *gorm.DB) *OrderProjection {
	return &OrderProjection{db: db}
}

// Name returns the projection name
func (p *OrderProjection) Name() string { return OrderProjectionName }

// EventTypes returns the order event types this projection consumes
func (p *OrderProjection) EventTypes() []string {
	return []string{domain.OrderPlaced, domain.OrderPaid, domain.OrderShipped, domain.OrderCancelled}
}

// Handle applies a batch of order events to the read model
func (p *OrderProjection) Handle(ctx context.Context, events []domain.Event) error {
	for _, event := range events {
		if err := p.apply(ctx, event); err != nil {
			return fmt.Errorf("order projection failed at position %d: %w", event.GlobalPosition, err)
		}
	}
	return nil
}

// apply applies a single event, skipping versions already applied
func (p *OrderProjection) apply(ctx context.Context, event domain.Event) error {
	var record models.OrderRecord
	err := p.db.WithContext(ctx).
		Where("order_id = ?", event.AggregateID).
		First(&record).Error
	exists := err == nil
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to load order record: %w", err)
	}

	if exists && record.Version >= event.Version {
		return nil
	}

	switch event.Type {
	case domain.OrderPlaced:
		var data domain.OrderPlacedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		items, err := json.Marshal(data.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal order items: %w", err)
		}
		record = models.OrderRecord{
			OrderID:    event.AggregateID,
			CustomerID: data.CustomerID,
			Status:     domain.OrderStatusPlaced,
			Total:      data.Total,
			Items:      items,
			Version:    event.Version,
			CreatedAt:  event.OccurredAt,
			UpdatedAt:  event.OccurredAt,
		}
		if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create order record: %w", err)
		}

	case domain.OrderPaid:
		return p.updateStatus(ctx, event, domain.OrderStatusPaid)

	case domain.OrderShipped:
		return p.updateStatus(ctx, event, domain.OrderStatusShipped)

	case domain.OrderCancelled:
		return p.updateStatus(ctx, event, domain.OrderStatusCancelled)
	}

	return nil
}

// updateStatus moves an order record to a new status
func (p *OrderProjection) updateStatus(ctx context.Context, event domain.Event, status string) error {
	err := p.db.WithContext(ctx).
		Model(&models.OrderRecord{}).
		Where("order_id = ?", event.AggregateID).
		Updates(map[string]interface{}{
			"status":     status,
			"version":    event.Version,
			"updated_at": event.OccurredAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update order record: %w", err)
	}
	return nil
}
