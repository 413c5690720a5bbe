package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/semyenov/graphql-microservices-sub001/internal/cache"
	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
)

// ErrUnknownQuery indicates no handler is registered for the query type
var ErrUnknownQuery = errors.New("unknown query type")

// Query is an immutable read request.
// CacheKey may return empty to mark a query uncacheable.
type Query interface {
	QueryType() string
	CacheKey() string
	Validate() error
}

// QueryHandler serves one query type from the read models
type QueryHandler func(ctx context.Context, query Query) (interface{}, error)

// QueryBus routes queries to their single registered handler
type QueryBus struct {
	handlers map[string]QueryHandler
	metrics  *metrics.Metrics
}

// NewQueryBus creates an empty query bus
func NewQueryBus(collector *metrics.Metrics) *QueryBus {
	return &QueryBus{
		handlers: make(map[string]QueryHandler),
		metrics:  collector,
	}
}

// Register adds a handler for a query type
func (b *QueryBus) Register(queryType string, handler QueryHandler) error {
	if _, exists := b.handlers[queryType]; exists {
		return errors.Wrap(ErrHandlerRegistered, queryType)
	}
	b.handlers[queryType] = handler
	return nil
}

// Ask validates a query and executes its handler
func (b *QueryBus) Ask(ctx context.Context, query Query) (interface{}, error) {
	handler, exists := b.handlers[query.QueryType()]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuery, query.QueryType())
	}

	if err := query.Validate(); err != nil {
		return nil, err
	}

	b.metrics.IncrementCounter(metrics.QueriesServed)
	return handler(ctx, query)
}

// WithCache decorates a query handler with read-through caching.
// newResult must return a pointer to the handler's result type so
// cached values can be unmarshalled. Shared behavior is composed as a
// decorator instead of inherited from a handler base.
func WithCache(redisCache *cache.RedisCache, collector *metrics.Metrics, ttl time.Duration, newResult func() interface{}, handler QueryHandler) QueryHandler {
	return func(ctx context.Context, query Query) (interface{}, error) {
		key := query.CacheKey()
		if key == "" || !redisCache.Enabled() {
			return handler(ctx, query)
		}

		cacheKey := cache.QueryCacheKey(query.QueryType(), key)
		result := newResult()
		if err := redisCache.Get(ctx, cacheKey, result); err == nil {
			collector.IncrementCounter(metrics.QueryCacheHits)
			return result, nil
		}

		result, err := handler(ctx, query)
		if err != nil {
			return nil, err
		}

		if err := redisCache.Set(ctx, cacheKey, result, ttl); err != nil {
			log.Warn().Err(err).Str("query", query.QueryType()).Msg("Failed to cache query result")
		}

		return result, nil
	}
}
