package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/semyenov/graphql-microservices-sub001/config"
	"github.com/semyenov/graphql-microservices-sub001/internal/cache"
	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
	"github.com/semyenov/graphql-microservices-sub001/internal/tracing"
)

type testCommand struct {
	id      string
	invalid bool
}

func (testCommand) CommandType() string { return "TestCommand" }

func (c testCommand) Validate() error {
	if c.invalid {
		return domain.NewValidationError("id", "must not be empty")
	}
	return nil
}

type testQuery struct {
	key string
}

func (testQuery) QueryType() string  { return "TestQuery" }
func (q testQuery) CacheKey() string { return q.key }
func (testQuery) Validate() error    { return nil }

func newNoopTracer(t *testing.T) tracing.Tracer {
	t.Helper()
	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)
	return tracer
}

func TestCommandBusRouting(t *testing.T) {
	commandBus := NewCommandBus(newNoopTracer(t), metrics.NewMetrics())

	var dispatched []string
	require.NoError(t, commandBus.Register("TestCommand", func(ctx context.Context, cmd Command) error {
		dispatched = append(dispatched, cmd.(testCommand).id)
		return nil
	}))

	require.NoError(t, commandBus.Dispatch(context.Background(), testCommand{id: "a"}))
	require.Equal(t, []string{"a"}, dispatched)
}

func TestCommandBusUnknownType(t *testing.T) {
	commandBus := NewCommandBus(newNoopTracer(t), metrics.NewMetrics())

	err := commandBus.Dispatch(context.Background(), testCommand{id: "a"})
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestCommandBusDuplicateRegistration(t *testing.T) {
	commandBus := NewCommandBus(newNoopTracer(t), metrics.NewMetrics())

	handler := func(ctx context.Context, cmd Command) error { return nil }
	require.NoError(t, commandBus.Register("TestCommand", handler))
	require.ErrorIs(t, commandBus.Register("TestCommand", handler), ErrHandlerRegistered)
}

// Validation failures short-circuit before the handler runs
func TestCommandBusValidation(t *testing.T) {
	commandBus := NewCommandBus(newNoopTracer(t), metrics.NewMetrics())

	handlerCalled := false
	require.NoError(t, commandBus.Register("TestCommand", func(ctx context.Context, cmd Command) error {
		handlerCalled = true
		return nil
	}))

	err := commandBus.Dispatch(context.Background(), testCommand{invalid: true})
	require.True(t, domain.IsValidationError(err))
	require.False(t, handlerCalled)
}

func TestQueryBusRouting(t *testing.T) {
	queryBus := NewQueryBus(metrics.NewMetrics())

	handler := func(ctx context.Context, query Query) (interface{}, error) {
		return "result:" + query.(testQuery).key, nil
	}
	require.NoError(t, queryBus.Register("TestQuery", handler))
	require.ErrorIs(t, queryBus.Register("TestQuery", handler), ErrHandlerRegistered)

	result, err := queryBus.Ask(context.Background(), testQuery{key: "k1"})
	require.NoError(t, err)
	require.Equal(t, "result:k1", result)
}

func TestQueryBusUnknownType(t *testing.T) {
	queryBus := NewQueryBus(metrics.NewMetrics())

	_, err := queryBus.Ask(context.Background(), testQuery{key: "k1"})
	require.ErrorIs(t, err, ErrUnknownQuery)
}

// With the cache disabled the decorator is a transparent passthrough
func TestWithCacheDisabledPassthrough(t *testing.T) {
	disabledCache, err := cache.NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)

	calls := 0
	handler := WithCache(disabledCache, metrics.NewMetrics(), time.Minute,
		func() interface{} { return new(string) },
		func(ctx context.Context, query Query) (interface{}, error) {
			calls++
			return "fresh", nil
		})

	for i := 0; i < 2; i++ {
		result, err := handler(context.Background(), testQuery{key: "k1"})
		require.NoError(t, err)
		require.Equal(t, "fresh", result)
	}
	require.Equal(t, 2, calls)
}

// An empty cache key marks the query uncacheable
func TestWithCacheUncacheableQuery(t *testing.T) {
	disabledCache, err := cache.NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)

	calls := 0
	handler := WithCache(disabledCache, metrics.NewMetrics(), time.Minute,
		func() interface{} { return new(string) },
		func(ctx context.Context, query Query) (interface{}, error) {
			calls++
			return "fresh", nil
		})

	_, err = handler(context.Background(), testQuery{key: ""})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
