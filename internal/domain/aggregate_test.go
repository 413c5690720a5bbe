package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testMeta() Metadata {
	return Metadata{CorrelationID: uuid.New().String(), Source: "test"}
}

// Registering a user records one event at version 1 and applies state
func TestRegisterUser(t *testing.T) {
	user, err := RegisterUser("user-1", "jane@example.com", "Jane", testMeta())
	require.NoError(t, err)

	require.Equal(t, 1, user.GetVersion())
	require.Equal(t, "jane@example.com", user.State.Email)
	require.True(t, user.State.Active)

	events := user.UncommittedEvents()
	require.Len(t, events, 1)
	require.Equal(t, UserRegistered, events[0].Type)
	require.Equal(t, 1, events[0].Version)
	require.Equal(t, UserAggregateType, events[0].AggregateType)
}

func TestRegisterUserValidation(t *testing.T) {
	_, err := RegisterUser("user-1", "not-an-email", "Jane", testMeta())
	require.True(t, IsValidationError(err))

	_, err = RegisterUser("user-1", "jane@example.com", "  ", testMeta())
	require.True(t, IsValidationError(err))
}

// Updating the profile to its current values emits nothing
func TestUpdateProfileNoOp(t *testing.T) {
	user, err := RegisterUser("user-1", "jane@example.com", "Jane", testMeta())
	require.NoError(t, err)
	user.MarkCommitted()

	require.NoError(t, user.UpdateProfile("jane@example.com", "Jane", testMeta()))
	require.Empty(t, user.UncommittedEvents())
	require.Equal(t, 1, user.GetVersion())
}

func TestDeactivateIsIdempotent(t *testing.T) {
	user, err := RegisterUser("user-1", "jane@example.com", "Jane", testMeta())
	require.NoError(t, err)
	user.MarkCommitted()

	require.NoError(t, user.Deactivate("left", testMeta()))
	require.Equal(t, 2, user.GetVersion())
	user.MarkCommitted()

	// Second deactivation is a no-op
	require.NoError(t, user.Deactivate("left again", testMeta()))
	require.Empty(t, user.UncommittedEvents())
	require.Equal(t, 2, user.GetVersion())
}

func TestUpdateDeactivatedUserRejected(t *testing.T) {
	user, err := RegisterUser("user-1", "jane@example.com", "Jane", testMeta())
	require.NoError(t, err)
	require.NoError(t, user.Deactivate("left", testMeta()))

	err = user.UpdateProfile("new@example.com", "Jane", testMeta())
	require.True(t, IsBusinessRuleViolation(err))
}

// Folding the same event list always produces the same state and
// leaves no uncommitted events
func TestFoldIsDeterministic(t *testing.T) {
	source, err := RegisterUser("user-1", "jane@example.com", "Jane", testMeta())
	require.NoError(t, err)
	require.NoError(t, source.UpdateProfile("jane.d@example.com", "Jane Doe", testMeta()))
	history := source.UncommittedEvents()

	for i := 0; i < 3; i++ {
		user := NewUserAggregate("user-1")
		require.NoError(t, user.Fold(history))

		require.Equal(t, source.State, user.State)
		require.Equal(t, 2, user.GetVersion())
		require.Empty(t, user.UncommittedEvents())
	}
}

func TestFoldUnknownEventType(t *testing.T) {
	user := NewUserAggregate("user-1")
	err := user.Fold([]Event{{Type: "Bogus", Version: 1, Data: []byte("{}")}})
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestProductStockCannotGoNegative(t *testing.T) {
	product, err := CreateProduct("prod-1", "SKU-1", "Widget", 9.99, 5, testMeta())
	require.NoError(t, err)

	err = product.AdjustStock(-6, testMeta())
	require.True(t, IsBusinessRuleViolation(err))
	require.Equal(t, 5, product.State.Stock)

	require.NoError(t, product.AdjustStock(-5, testMeta()))
	require.Equal(t, 0, product.State.Stock)
}

func TestProductNoOpCommands(t *testing.T) {
	product, err := CreateProduct("prod-1", "SKU-1", "Widget", 9.99, 5, testMeta())
	require.NoError(t, err)
	product.MarkCommitted()

	// Same price and zero delta emit nothing
	require.NoError(t, product.ChangePrice(9.99, testMeta()))
	require.NoError(t, product.AdjustStock(0, testMeta()))
	require.Empty(t, product.UncommittedEvents())
	require.Equal(t, 1, product.GetVersion())
}

func TestDiscontinuedProductRejectsChanges(t *testing.T) {
	product, err := CreateProduct("prod-1", "SKU-1", "Widget", 9.99, 5, testMeta())
	require.NoError(t, err)
	require.NoError(t, product.Discontinue("obsolete", testMeta()))

	require.True(t, IsBusinessRuleViolation(product.ChangePrice(12.50, testMeta())))
	require.True(t, IsBusinessRuleViolation(product.AdjustStock(1, testMeta())))

	// Discontinuing again is a no-op
	product.MarkCommitted()
	require.NoError(t, product.Discontinue("again", testMeta()))
	require.Empty(t, product.UncommittedEvents())
}

func TestOrderLifecycle(t *testing.T) {
	items := []OrderItem{
		{ProductID: "prod-1", Quantity: 2, UnitPrice: 10},
		{ProductID: "prod-2", Quantity: 1, UnitPrice: 5},
	}

	order, err := PlaceOrder("order-1", "cust-1", items, testMeta())
	require.NoError(t, err)
	require.Equal(t, OrderStatusPlaced, order.State.Status)
	require.Equal(t, 25.0, order.State.Total)

	require.NoError(t, order.Pay("pay-1", 25, testMeta()))
	require.Equal(t, OrderStatusPaid, order.State.Status)

	require.NoError(t, order.Ship("TRACK-1", testMeta()))
	require.Equal(t, OrderStatusShipped, order.State.Status)
	require.Equal(t, 3, order.GetVersion())
}

func TestOrderTransitionGuards(t *testing.T) {
	items := []OrderItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 10}}

	// Shipping an unpaid order is rejected
	order, err := PlaceOrder("order-1", "cust-1", items, testMeta())
	require.NoError(t, err)
	require.True(t, IsBusinessRuleViolation(order.Ship("TRACK-1", testMeta())))

	// Paying the wrong amount is rejected
	require.True(t, IsValidationError(order.Pay("pay-1", 7, testMeta())))

	// Cancelling a shipped order is rejected
	require.NoError(t, order.Pay("pay-1", 10, testMeta()))
	require.NoError(t, order.Ship("TRACK-1", testMeta()))
	require.True(t, IsBusinessRuleViolation(order.Cancel("too late", testMeta())))

	// Paying or shipping a cancelled order is rejected
	cancelled, err := PlaceOrder("order-2", "cust-1", items, testMeta())
	require.NoError(t, err)
	require.NoError(t, cancelled.Cancel("changed mind", testMeta()))
	require.True(t, IsBusinessRuleViolation(cancelled.Pay("pay-2", 10, testMeta())))
	require.True(t, IsBusinessRuleViolation(cancelled.Ship("TRACK-2", testMeta())))
}

func TestOrderIdempotentTransitions(t *testing.T) {
	items := []OrderItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 10}}

	order, err := PlaceOrder("order-1", "cust-1", items, testMeta())
	require.NoError(t, err)
	require.NoError(t, order.Pay("pay-1", 10, testMeta()))
	order.MarkCommitted()

	// Paying twice is a no-op
	require.NoError(t, order.Pay("pay-1", 10, testMeta()))
	require.Empty(t, order.UncommittedEvents())

	// Shipping twice is a no-op
	require.NoError(t, order.Ship("TRACK-1", testMeta()))
	order.MarkCommitted()
	require.NoError(t, order.Ship("TRACK-1", testMeta()))
	require.Empty(t, order.UncommittedEvents())
}

func TestSnapshotRoundTrip(t *testing.T) {
	product, err := CreateProduct("prod-1", "SKU-1", "Widget", 9.99, 5, testMeta())
	require.NoError(t, err)
	require.NoError(t, product.ChangePrice(12.50, testMeta()))

	state, err := product.SnapshotState()
	require.NoError(t, err)

	restored := NewProductAggregate("prod-1")
	require.NoError(t, restored.RestoreSnapshot(product.GetVersion(), state))
	require.Equal(t, product.State, restored.State)
	require.Equal(t, product.GetVersion(), restored.GetVersion())
}

// A corrupt snapshot must leave the aggregate untouched so the caller
// can fall back to folding the full stream
func TestRestoreCorruptSnapshot(t *testing.T) {
	user := NewUserAggregate("user-1")
	err := user.RestoreSnapshot(5, []byte("{not json"))
	require.Error(t, err)
	require.Equal(t, 0, user.GetVersion())
	require.Equal(t, UserState{}, user.State)
}
