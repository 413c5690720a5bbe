package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))

	return db
}

func makeDomainEvents(aggregateID string, count int) []domain.Event {
	events := make([]domain.Event, count)
	for i := range events {
		events[i] = domain.Event{
			ID:            uuid.New().String(),
			AggregateID:   aggregateID,
			AggregateType: "order",
			Type:          "OrderPlaced",
			Data:          []byte(`{}`),
			Version:       i + 1,
		}
	}
	return events
}

func TestAddEventsAndClaim(t *testing.T) {
	store := NewGormOutboxStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.AddEvents(ctx, makeDomainEvents("agg-1", 3), "order.events"))

	claimed, err := store.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Claimed entries are out of the pending pool
	rest, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	empty, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

// Outbox entries written through a rolled-back transaction must vanish
// together with the events
func TestAddEventsRollsBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	store := NewGormOutboxStore(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := store.WithTx(tx).AddEvents(ctx, makeDomainEvents("agg-1", 2), "order.events"); err != nil {
			return err
		}
		return context.Canceled
	})
	require.Error(t, err)

	backlog, err := store.Backlog(ctx)
	require.NoError(t, err)
	require.Zero(t, backlog)
}

func TestRescheduledEntryNotDueYet(t *testing.T) {
	store := NewGormOutboxStore(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.AddEvents(ctx, makeDomainEvents("agg-1", 1), "order.events"))

	claimed, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Reschedule into the future, entry must not be claimable yet
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, store.Reschedule(ctx, claimed[0].ID, 1, future, "broker down"))

	empty, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, empty)

	// Once due, the entry is claimable again with its attempt count
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.Reschedule(ctx, claimed[0].ID, 1, past, "broker down"))

	again, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 1, again[0].Attempts)
	require.NotNil(t, again[0].LastError)
}

func TestReclaimStale(t *testing.T) {
	db := newTestDB(t)
	store := NewGormOutboxStore(db)
	ctx := context.Background()

	require.NoError(t, store.AddEvents(ctx, makeDomainEvents("agg-1", 1), "order.events"))
	claimed, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// A fresh claim is not stale
	reclaimed, err := store.ReclaimStale(ctx, time.Minute)
	require.NoError(t, err)
	require.Zero(t, reclaimed)

	// Backdate the claim to simulate a crashed processor
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&models.OutboxEntry{}).
		Where("id = ?", claimed[0].ID).
		Update("claimed_at", stale).Error)

	reclaimed, err = store.ReclaimStale(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), reclaimed)

	again, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
}

func TestBacklogAndCleanup(t *testing.T) {
	db := newTestDB(t)
	store := NewGormOutboxStore(db)
	ctx := context.Background()

	require.NoError(t, store.AddEvents(ctx, makeDomainEvents("agg-1", 3), "order.events"))

	claimed, err := store.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkPublished(ctx, claimed[0].ID))

	// Two pending remain after one publish
	backlog, err := store.Backlog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), backlog)

	// A failed entry leaves the backlog
	claimed, err = store.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, claimed[0].ID, 5, "gave up"))

	backlog, err = store.Backlog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), backlog)

	// Cleanup removes only published entries past retention
	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&models.OutboxEntry{}).
		Where("status = ?", models.OutboxStatusPublished).
		Update("published_at", old).Error)

	removed, err := store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	var total int64
	require.NoError(t, db.Model(&models.OutboxEntry{}).Count(&total).Error)
	require.Equal(t, int64(2), total)
}
