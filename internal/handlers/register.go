package handlers

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/internal/bus"
	"github.com/semyenov/graphql-microservices-sub001/internal/cache"
	"github.com/semyenov/graphql-microservices-sub001/internal/eventstore"
	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
	"github.com/semyenov/graphql-microservices-sub001/internal/repository"
)

// Outbox routing keys, one topic per aggregate type
const (
	RoutingKeyUsers    = "user.events"
	RoutingKeyProducts = "product.events"
	RoutingKeyOrders   = "order.events"
)

// conflictRetries bounds reload-and-reapply attempts after a
// concurrency conflict
const conflictRetries = 3

// queryCacheTTL keeps cached query results short-lived so eventually
// consistent reads converge quickly
const queryCacheTTL = 30 * time.Second

// withConflictRetry runs fn, reloading and reapplying on concurrency
// conflicts. fn must rebuild the aggregate from scratch on every call.
func withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		if err = fn(ctx); !errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}

// RegisterCommandHandlers builds the command routing table.
// Called once at startup; registration failures are programming errors.
func RegisterCommandHandlers(commandBus *bus.CommandBus, repo *repository.AggregateRepository) error {
	users := NewUserCommandHandler(repo)
	products := NewProductCommandHandler(repo)
	orders := NewOrderCommandHandler(repo)

	routes := map[string]bus.CommandHandler{
		RegisterUserCommand:      users.HandleRegister,
		UpdateUserProfileCommand: users.HandleUpdateProfile,
		DeactivateUserCommand:    users.HandleDeactivate,

		CreateProductCommand:      products.HandleCreate,
		ChangeProductPriceCommand: products.HandleChangePrice,
		AdjustProductStockCommand: products.HandleAdjustStock,
		DiscontinueProductCommand: products.HandleDiscontinue,

		PlaceOrderCommand:  orders.HandlePlace,
		PayOrderCommand:    orders.HandlePay,
		ShipOrderCommand:   orders.HandleShip,
		CancelOrderCommand: orders.HandleCancel,
	}

	for commandType, handler := range routes {
		if err := commandBus.Register(commandType, handler); err != nil {
			return err
		}
	}
	return nil
}

// RegisterQueryHandlers builds the query routing table, wrapping
// single-entity queries with the read-through cache decorator.
func RegisterQueryHandlers(queryBus *bus.QueryBus, db *gorm.DB, redisCache *cache.RedisCache, collector *metrics.Metrics) error {
	queries := NewQueryHandlers(db)

	routes := map[string]bus.QueryHandler{
		GetUserQuery: bus.WithCache(redisCache, collector, queryCacheTTL,
			func() interface{} { return &models.UserRecord{} }, queries.HandleGetUser),
		GetProductQuery: bus.WithCache(redisCache, collector, queryCacheTTL,
			func() interface{} { return &models.ProductRecord{} }, queries.HandleGetProduct),
		GetOrderQuery: bus.WithCache(redisCache, collector, queryCacheTTL,
			func() interface{} { return &OrderView{} }, queries.HandleGetOrder),
		ListOrdersByCustomerQuery: queries.HandleListOrdersByCustomer,
	}

	for queryType, handler := range routes {
		if err := queryBus.Register(queryType, handler); err != nil {
			return err
		}
	}
	return nil
}
