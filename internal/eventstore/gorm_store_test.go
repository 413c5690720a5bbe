package eventstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

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

// makeEvents builds a contiguous batch starting at fromVersion+1
func makeEvents(aggregateID, aggregateType, eventType string, fromVersion, count int) []domain.Event {
	events := make([]domain.Event, count)
	for i := range events {
		events[i] = domain.Event{
			ID:            uuid.New().String(),
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			Type:          eventType,
			Data:          []byte(fmt.Sprintf(`{"seq":%d}`, fromVersion+i+1)),
			Metadata:      domain.Metadata{Source: "test"},
			Version:       fromVersion + i + 1,
		}
	}
	return events
}

func TestAppendAndReadStream(t *testing.T) {
	store := NewGormEventStore(newTestDB(t))
	ctx := context.Background()

	newVersion, err := store.AppendToStream(ctx, "agg-1", 0, makeEvents("agg-1", "user", "UserRegistered", 0, 3))
	require.NoError(t, err)
	require.Equal(t, 3, newVersion)

	events, err := store.ReadStream(ctx, "agg-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, event := range events {
		require.Equal(t, i+1, event.Version)
		require.Equal(t, "test", event.Metadata.Source)
		require.Equal(t, int64(i+1), event.GlobalPosition)
	}

	// Tail read from a snapshot version
	tail, err := store.ReadStream(ctx, "agg-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, 3, tail[0].Version)
}

// A stale expected version must fail the whole batch atomically
func TestAppendConcurrencyConflict(t *testing.T) {
	store := NewGormEventStore(newTestDB(t))
	ctx := context.Background()

	_, err := store.AppendToStream(ctx, "agg-1", 0, makeEvents("agg-1", "user", "UserRegistered", 0, 1))
	require.NoError(t, err)

	// A second writer still at version 0 loses the race
	_, err = store.AppendToStream(ctx, "agg-1", 0, makeEvents("agg-1", "user", "UserRegistered", 0, 2))
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	// Nothing from the losing batch was written
	events, err := store.ReadStream(ctx, "agg-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	// An expected version ahead of the stream also conflicts
	_, err = store.AppendToStream(ctx, "agg-1", 5, makeEvents("agg-1", "user", "UserProfileUpdated", 5, 1))
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestAppendValidation(t *testing.T) {
	store := NewGormEventStore(newTestDB(t))
	ctx := context.Background()

	_, err := store.AppendToStream(ctx, "agg-1", 0, nil)
	require.ErrorIs(t, err, ErrNoEvents)

	// Non-contiguous versions are rejected
	events := makeEvents("agg-1", "user", "UserRegistered", 0, 2)
	events[1].Version = 5
	_, err = store.AppendToStream(ctx, "agg-1", 0, events)
	require.Error(t, err)

	stream, err := store.ReadStream(ctx, "agg-1", 0)
	require.NoError(t, err)
	require.Empty(t, stream)
}

// Paging the global log by lastPosition+1 visits every event exactly once
func TestReadAllEventsCursor(t *testing.T) {
	store := NewGormEventStore(newTestDB(t))
	ctx := context.Background()

	// Interleave writes from two aggregates
	_, err := store.AppendToStream(ctx, "agg-1", 0, makeEvents("agg-1", "user", "UserRegistered", 0, 2))
	require.NoError(t, err)
	_, err = store.AppendToStream(ctx, "agg-2", 0, makeEvents("agg-2", "order", "OrderPlaced", 0, 3))
	require.NoError(t, err)
	_, err = store.AppendToStream(ctx, "agg-1", 2, makeEvents("agg-1", "user", "UserDeactivated", 2, 1))
	require.NoError(t, err)

	var seen []int64
	cursor := int64(1)
	for {
		batch, err := store.ReadAllEvents(ctx, cursor, 2, ReadAllFilter{})
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, event := range batch {
			seen = append(seen, event.GlobalPosition)
		}
		cursor = batch[len(batch)-1].GlobalPosition + 1
	}

	require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, seen)
}

// Concurrent writers on different aggregates must leave a gap-free
// position sequence behind: a cursor paging the log afterwards sees
// every position exactly once, in order
func TestReadAllEventsCursorWithConcurrentWriters(t *testing.T) {
	db := newTestDB(t)
	store := NewGormEventStore(db)
	ctx := context.Background()

	// Funnel all writers through one connection so SQLite never
	// returns a busy error mid-test
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	const writers = 5
	const eventsPerWriter = 4

	var wg sync.WaitGroup
	appendErrs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			aggregateID := fmt.Sprintf("agg-%d", w)
			_, err := store.AppendToStream(ctx, aggregateID, 0,
				makeEvents(aggregateID, "user", "UserRegistered", 0, eventsPerWriter))
			appendErrs <- err
		}(w)
	}
	wg.Wait()
	close(appendErrs)
	for err := range appendErrs {
		require.NoError(t, err)
	}

	var seen []int64
	cursor := int64(1)
	for {
		batch, err := store.ReadAllEvents(ctx, cursor, 3, ReadAllFilter{})
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		for _, event := range batch {
			seen = append(seen, event.GlobalPosition)
		}
		cursor = batch[len(batch)-1].GlobalPosition + 1
	}

	require.Len(t, seen, writers*eventsPerWriter)
	for i, position := range seen {
		require.Equal(t, int64(i+1), position)
	}
}

func TestReadAllEventsFilter(t *testing.T) {
	store := NewGormEventStore(newTestDB(t))
	ctx := context.Background()

	_, err := store.AppendToStream(ctx, "agg-1", 0, makeEvents("agg-1", "user", "UserRegistered", 0, 2))
	require.NoError(t, err)
	_, err = store.AppendToStream(ctx, "agg-2", 0, makeEvents("agg-2", "order", "OrderPlaced", 0, 2))
	require.NoError(t, err)

	byType, err := store.ReadAllEvents(ctx, 1, 100, ReadAllFilter{EventTypes: []string{"OrderPlaced"}})
	require.NoError(t, err)
	require.Len(t, byType, 2)
	for _, event := range byType {
		require.Equal(t, "OrderPlaced", event.Type)
	}

	byAggregate, err := store.ReadAllEvents(ctx, 1, 100, ReadAllFilter{AggregateType: "user"})
	require.NoError(t, err)
	require.Len(t, byAggregate, 2)
}

func TestHeadPosition(t *testing.T) {
	store := NewGormEventStore(newTestDB(t))
	ctx := context.Background()

	head, err := store.HeadPosition(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), head)

	_, err = store.AppendToStream(ctx, "agg-1", 0, makeEvents("agg-1", "user", "UserRegistered", 0, 4))
	require.NoError(t, err)

	head, err = store.HeadPosition(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), head)
}

func TestSnapshots(t *testing.T) {
	store := NewGormEventStore(newTestDB(t))
	ctx := context.Background()

	_, err := store.ReadSnapshot(ctx, "agg-1")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, store.WriteSnapshot(ctx, Snapshot{
		AggregateID:   "agg-1",
		AggregateType: "user",
		Version:       10,
		State:         []byte(`{"active":true}`),
	}))

	snapshot, err := store.ReadSnapshot(ctx, "agg-1")
	require.NoError(t, err)
	require.Equal(t, 10, snapshot.Version)

	// A newer snapshot replaces the previous one
	require.NoError(t, store.WriteSnapshot(ctx, Snapshot{
		AggregateID:   "agg-1",
		AggregateType: "user",
		Version:       20,
		State:         []byte(`{"active":false}`),
	}))

	snapshot, err = store.ReadSnapshot(ctx, "agg-1")
	require.NoError(t, err)
	require.Equal(t, 20, snapshot.Version)
	require.JSONEq(t, `{"active":false}`, string(snapshot.State))
}
