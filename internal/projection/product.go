package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

// ProductProjectionName is the checkpoint name of the product catalog
const ProductProjectionName = "product-catalog"

// ProductsIndex is the search index for the product catalog
const ProductsIndex = "products"

// SearchIndexer is the subset of the search client used by projections
type SearchIndexer interface {
	IndexDocument(ctx context.Context, index, documentID string, doc interface{}) error
}

// ProductProjection builds the product read model and mirrors it into
// the search index. The indexer may be nil when search is disabled.
type ProductProjection struct {
	db      *gorm.DB
	indexer SearchIndexer
}

// NewProductProjection creates a new product projection
func NewProductProjection(db *gorm.DB, indexer SearchIndexer) *ProductProjection {
	return &ProductProjection{db: db, indexer: indexer}
}

// Name returns the projection name
func (p *ProductProjection) Name() string { return ProductProjectionName }

// EventTypes returns the product event types this projection consumes
func (p *ProductProjection) EventTypes() []string {
	return []string{
		domain.ProductCreated,
		domain.ProductPriceChanged,
		domain.ProductStockAdjusted,
		domain.ProductDiscontinued,
	}
}

// Handle applies a batch of product events to the read model
func (p *ProductProjection) Handle(ctx context.Context, events []domain.Event) error {
	for _, event := range events {
		if err := p.apply(ctx, event); err != nil {
			return fmt.Errorf("product projection failed at position %d: %w", event.GlobalPosition, err)
		}
	}
	return nil
}

// apply applies a single event, skipping versions already applied
func (p *ProductProjection) apply(ctx context.Context, event domain.Event) error {
	var record models.ProductRecord
	err := p.db.WithContext(ctx).
		Where("product_id = ?", event.AggregateID).
		First(&record).Error
	exists := err == nil
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to load product record: %w", err)
	}

	if exists && record.Version >= event.Version {
		return nil
	}

	switch event.Type {
	case domain.ProductCreated:
		var data domain.ProductCreatedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		record = models.ProductRecord{
			ProductID: event.AggregateID,
			SKU:       data.SKU,
			Name:      data.Name,
			Price:     data.Price,
			Stock:     data.Stock,
			Version:   event.Version,
			CreatedAt: event.OccurredAt,
			UpdatedAt: event.OccurredAt,
		}
		if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create product record: %w", err)
		}

	case domain.ProductPriceChanged:
		var data domain.ProductPriceChangedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		record.Price = data.NewPrice
		if err := p.updateRecord(ctx, event, map[string]interface{}{"price": data.NewPrice}); err != nil {
			return err
		}

	case domain.ProductStockAdjusted:
		var data domain.ProductStockAdjustedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		record.Stock = data.NewStock
		if err := p.updateRecord(ctx, event, map[string]interface{}{"stock": data.NewStock}); err != nil {
			return err
		}

	case domain.ProductDiscontinued:
		record.Discontinued = true
		if err := p.updateRecord(ctx, event, map[string]interface{}{"discontinued": true}); err != nil {
			return err
		}
	}

	record.Version = event.Version
	return p.indexProduct(ctx, record)
}

// updateRecord applies field changes together with the version guard fields
func (p *ProductProjection) updateRecord(ctx context.Context, event domain.Event, changes map[string]interface{}) error {
	changes["version"] = event.Version
	changes["updated_at"] = event.OccurredAt

	err := p.db.WithContext(ctx).
		Model(&models.ProductRecord{}).
		Where("product_id = ?", event.AggregateID).
		Updates(changes).Error
	if err != nil {
		return fmt.Errorf("failed to update product record: %w", err)
	}
	return nil
}

// indexProduct mirrors the record into the search index
func (p *ProductProjection) indexProduct(ctx context.Context, record models.ProductRecord) error {
	if p.indexer == nil {
		return nil
	}

	doc := map[string]interface{}{
		"product_id":   record.ProductID,
		"sku":          record.SKU,
		"name":         record.Name,
		"price":        record.Price,
		"stock":        record.Stock,
		"discontinued": record.Discontinued,
		"version":      record.Version,
	}

	if err := p.indexer.IndexDocument(ctx, ProductsIndex, record.ProductID, doc); err != nil {
		return fmt.Errorf("failed to index product: %w", err)
	}
	return nil
}
