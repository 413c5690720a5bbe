package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/semyenov/graphql-microservices-sub001/internal/bus"
	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/repository"
)

// Product command types
const (
	CreateProductCommand      = "CreateProduct"
	ChangeProductPriceCommand = "ChangeProductPrice"
	AdjustProductStockCommand = "AdjustProductStock"
	DiscontinueProductCommand = "DiscontinueProduct"
)

// CreateProduct adds a product to the catalog.
// ProductID is generated when empty.
type CreateProduct struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     float64         `json:"price"`
	Stock     int             `json:"stock"`
	Metadata  domain.Metadata `json:"metadata"`
}

func (CreateProduct) CommandType() string { return CreateProductCommand }

func (c CreateProduct) Validate() error {
	if c.SKU == "" {
		return domain.NewValidationError("sku", "must not be empty")
	}
	return nil
}

// ChangeProductPrice sets a new product price
type ChangeProductPrice struct {
	ProductID string          `json:"product_id"`
	NewPrice  float64         `json:"new_price"`
	Metadata  domain.Metadata `json:"metadata"`
}

func (ChangeProductPrice) CommandType() string { return ChangeProductPriceCommand }

func (c ChangeProductPrice) Validate() error {
	if c.ProductID == "" {
		return domain.NewValidationError("product_id", "must not be empty")
	}
	return nil
}

// AdjustProductStock adds or removes stock
type AdjustProductStock struct {
	ProductID string          `json:"product_id"`
	Delta     int             `json:"delta"`
	Metadata  domain.Metadata `json:"metadata"`
}

func (AdjustProductStock) CommandType() string { return AdjustProductStockCommand }

func (c AdjustProductStock) Validate() error {
	if c.ProductID == "" {
		return domain.NewValidationError("product_id", "must not be empty")
	}
	return nil
}

// DiscontinueProduct withdraws a product from the catalog
type DiscontinueProduct struct {
	ProductID string          `json:"product_id"`
	Reason    string          `json:"reason"`
	Metadata  domain.Metadata `json:"metadata"`
}

func (DiscontinueProduct) CommandType() string { return DiscontinueProductCommand }

func (c DiscontinueProduct) Validate() error {
	if c.ProductID == "" {
		return domain.NewValidationError("product_id", "must not be empty")
	}
	return nil
}

// ProductCommandHandler executes product commands against the write model
type ProductCommandHandler struct {
	repo *repository.AggregateRepository
}

// NewProductCommandHandler creates a new product command handler
func NewProductCommandHandler(repo *repository.AggregateRepository) *ProductCommandHandler {
	return &ProductCommandHandler{repo: repo}
}

// HandleCreate handles CreateProduct
func (h *ProductCommandHandler) HandleCreate(ctx context.Context, cmd bus.Command) error {
	c := cmd.(CreateProduct)
	if c.ProductID == "" {
		c.ProductID = uuid.New().String()
	}

	aggregate, err := domain.CreateProduct(c.ProductID, c.SKU, c.Name, c.Price, c.Stock, c.Metadata)
	if err != nil {
		return err
	}

	if err := h.repo.Save(ctx, aggregate, RoutingKeyProducts); err != nil {
		return err
	}

	log.Info().Str("productID", c.ProductID).Str("sku", c.SKU).Msg("Product created")
	return nil
}

// HandleChangePrice handles ChangeProductPrice
func (h *ProductCommandHandler) HandleChangePrice(ctx context.Context, cmd bus.Command) error {
	c := cmd.(ChangeProductPrice)

	return withConflictRetry(ctx, func(ctx context.Context) error {
		aggregate := domain.NewProductAggregate(c.ProductID)
		if err := h.repo.Load(ctx, aggregate); err != nil {
			return err
		}
		if err := aggregate.ChangePrice(c.NewPrice, c.Metadata); err != nil {
			return err
		}
		return h.repo.Save(ctx, aggregate, RoutingKeyProducts)
	})
}

// HandleAdjustStock handles AdjustProductStock
func (h *ProductCommandHandler) HandleAdjustStock(ctx context.Context, cmd bus.Command) error {
	c := cmd.(AdjustProductStock)

	return withConflictRetry(ctx, func(ctx context.Context) error {
		aggregate := domain.NewProductAggregate(c.ProductID)
		if err := h.repo.Load(ctx, aggregate); err != nil {
			return err
		}
		if err := aggregate.AdjustStock(c.Delta, c.Metadata); err != nil {
			return err
		}
		return h.repo.Save(ctx, aggregate, RoutingKeyProducts)
	})
}

// HandleDiscontinue handles DiscontinueProduct
func (h *ProductCommandHandler) HandleDiscontinue(ctx context.Context, cmd bus.Command) error {
	c := cmd.(DiscontinueProduct)

	return withConflictRetry(ctx, func(ctx context.Context) error {
		aggregate := domain.NewProductAggregate(c.ProductID)
		if err := h.repo.Load(ctx, aggregate); err != nil {
			return err
		}
		if err := aggregate.Discontinue(c.Reason, c.Metadata); err != nil {
			return err
		}
		return h.repo.Save(ctx, aggregate, RoutingKeyProducts)
	})
}
