package domain

import (
	"encoding/json"
	"strings"
)

// Product event types
const (
	ProductCreated       = "ProductCreated"
	ProductPriceChanged  = "ProductPriceChanged"
	ProductStockAdjusted = "ProductStockAdjusted"
	ProductDiscontinued  = "ProductDiscontinued"
)

// ProductCreatedEvent is emitted when a product enters the catalog
type ProductCreatedEvent struct {
	SKU   string  `json:"sku"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

func (ProductCreatedEvent) EventType() string { return ProductCreated }

// ProductPriceChangedEvent is emitted when a product price changes
type ProductPriceChangedEvent struct {
	OldPrice float64 `json:"old_price"`
	NewPrice float64 `json:"new_price"`
}

func (ProductPriceChangedEvent) EventType() string { return ProductPriceChanged }

// ProductStockAdjustedEvent is emitted when stock is added or removed
type ProductStockAdjustedEvent struct {
	Delta    int `json:"delta"`
	NewStock int `json:"new_stock"`
}

func (ProductStockAdjustedEvent) EventType() string { return ProductStockAdjusted }

// ProductDiscontinuedEvent is emitted when a product is withdrawn
type ProductDiscontinuedEvent struct {
	Reason string `json:"reason"`
}

func (ProductDiscontinuedEvent) EventType() string { return ProductDiscontinued }

// ProductState holds the internal state of a product aggregate
type ProductState struct {
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Stock        int     `json:"stock"`
	Discontinued bool    `json:"discontinued"`
}

// ProductAggregate is the aggregate for a catalog product
type ProductAggregate struct {
	*AggregateBase
	State ProductState
}

// NewProductAggregate creates an empty product aggregate ready for folding
func NewProductAggregate(id string) *ProductAggregate {
	aggregate := &ProductAggregate{}
	aggregate.AggregateBase = NewAggregateBase(id, ProductAggregateType, aggregate.applyEvent)
	return aggregate
}

// CreateProduct creates a new product aggregate with a ProductCreated event at version 1
func CreateProduct(id, sku, name string, price float64, stock int, meta Metadata) (*ProductAggregate, error) {
	if strings.TrimSpace(sku) == "" {
		return nil, NewValidationError("sku", "must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return nil, NewValidationError("name", "must not be empty")
	}
	if price <= 0 {
		return nil, NewValidationError("price", "must be positive")
	}
	if stock < 0 {
		return nil, NewValidationError("stock", "must not be negative")
	}

	aggregate := NewProductAggregate(id)
	err := aggregate.Record(ProductCreatedEvent{SKU: sku, Name: name, Price: price, Stock: stock}, meta)
	if err != nil {
		return nil, err
	}
	return aggregate, nil
}

// ChangePrice sets a new price. Changing to the current price is a no-op.
func (a *ProductAggregate) ChangePrice(newPrice float64, meta Metadata) error {
	if a.State.Discontinued {
		return NewBusinessRuleViolation("product-active", "cannot change price of a discontinued product")
	}
	if newPrice <= 0 {
		return NewValidationError("price", "must be positive")
	}
	if a.State.Price == newPrice {
		return nil
	}

	return a.Record(ProductPriceChangedEvent{OldPrice: a.State.Price, NewPrice: newPrice}, meta)
}

// AdjustStock adds or removes stock. Stock can never go negative,
// and a zero delta is a no-op.
func (a *ProductAggregate) AdjustStock(delta int, meta Metadata) error {
	if a.State.Discontinued {
		return NewBusinessRuleViolation("product-active", "cannot adjust stock of a discontinued product")
	}
	if delta == 0 {
		return nil
	}
	newStock := a.State.Stock + delta
	if newStock < 0 {
		return NewBusinessRuleViolation("stock-non-negative", "stock cannot go below zero")
	}

	return a.Record(ProductStockAdjustedEvent{Delta: delta, NewStock: newStock}, meta)
}

// Discontinue withdraws the product. Discontinuing twice is a no-op.
func (a *ProductAggregate) Discontinue(reason string, meta Metadata) error {
	if a.State.Discontinued {
		return nil
	}

	return a.Record(ProductDiscontinuedEvent{Reason: reason}, meta)
}

// applyEvent applies an event to the product aggregate
func (a *ProductAggregate) applyEvent(eventType string, data []byte) error {
	switch eventType {
	case ProductCreated:
		var e ProductCreatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		a.State.SKU = e.SKU
		a.State.Name = e.Name
		a.State.Price = e.Price
		a.State.Stock = e.Stock

	case ProductPriceChanged:
		var e ProductPriceChangedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		a.State.Price = e.NewPrice

	case ProductStockAdjusted:
		var e ProductStockAdjustedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		a.State.Stock = e.NewStock

	case ProductDiscontinued:
		a.State.Discontinued = true

	default:
		return ErrUnknownEventType
	}

	return nil
}

// SnapshotState serializes the aggregate state for snapshotting
func (a *ProductAggregate) SnapshotState() ([]byte, error) {
	return json.Marshal(a.State)
}

// RestoreSnapshot restores the aggregate state from a snapshot
func (a *ProductAggregate) RestoreSnapshot(version int, state []byte) error {
	var restored ProductState
	if err := json.Unmarshal(state, &restored); err != nil {
		return err
	}
	a.State = restored
	a.RestoreVersion(version)
	return nil
}
