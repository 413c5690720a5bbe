package repository

import (
	"context"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/eventstore"
	"github.com/semyenov/graphql-microservices-sub001/internal/metrics"
	"github.com/semyenov/graphql-microservices-sub001/internal/outbox"
)

// SnapshottingAggregate is an aggregate that can materialize and restore
// its internal state for snapshotting
type SnapshottingAggregate interface {
	domain.Aggregate
	SnapshotState() ([]byte, error)
	RestoreSnapshot(version int, state []byte) error
}

// AggregateRepository loads aggregates from the event store and saves
// their uncommitted events together with outbox entries in one
// database transaction
type AggregateRepository struct {
	db            *gorm.DB
	events        *eventstore.GormEventStore
	outbox        *outbox.GormOutboxStore
	metrics       *metrics.Metrics
	snapshotEvery int
}

// NewAggregateRepository creates a new aggregate repository.
// snapshotEvery <= 0 disables snapshotting.
func NewAggregateRepository(db *gorm.DB, events *eventstore.GormEventStore, outboxStore *outbox.GormOutboxStore, collector *metrics.Metrics, snapshotEvery int) *AggregateRepository {
	return &AggregateRepository{
		db:            db,
		events:        events,
		outbox:        outboxStore,
		metrics:       collector,
		snapshotEvery: snapshotEvery,
	}
}

// Load rebuilds an aggregate from its snapshot (if any) and the stream
// tail. Snapshot problems are never surfaced: the repository falls back
// to folding the full stream.
func (r *AggregateRepository) Load(ctx context.Context, aggregate SnapshottingAggregate) error {
	fromVersion := 0
	snapshot, err := r.events.ReadSnapshot(ctx, aggregate.GetID())
	if err == nil {
		if restoreErr := aggregate.RestoreSnapshot(snapshot.Version, snapshot.State); restoreErr == nil {
			fromVersion = snapshot.Version
		} else {
			log.Warn().Err(restoreErr).
				Str("aggregateID", aggregate.GetID()).
				Msg("Failed to restore snapshot, folding full stream")
		}
	}

	events, err := r.events.ReadStream(ctx, aggregate.GetID(), fromVersion)
	if err != nil {
		return err
	}

	if fromVersion == 0 && len(events) == 0 {
		return domain.ErrNotFound
	}

	return aggregate.Fold(events)
}

// Save appends the aggregate's uncommitted events and the matching
// outbox entries in a single transaction, then marks the aggregate
// committed. A ConcurrencyConflict means the caller must reload and
// reapply the business operation.
func (r *AggregateRepository) Save(ctx context.Context, aggregate SnapshottingAggregate, routingKey string) error {
	events := aggregate.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expectedVersion := aggregate.GetVersion() - len(events)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := r.events.WithTx(tx).AppendToStream(ctx, aggregate.GetID(), expectedVersion, events)
		if err != nil {
			return err
		}

		return r.outbox.WithTx(tx).AddEvents(ctx, events, routingKey)
	})
	if err != nil {
		return err
	}

	aggregate.MarkCommitted()
	r.metrics.IncrementCounterBy(metrics.EventsAppended, int64(len(events)))

	r.maybeSnapshot(ctx, aggregate)
	return nil
}

// maybeSnapshot writes a snapshot when enough events accumulated since
// the last one. Best-effort: failures are logged and ignored.
func (r *AggregateRepository) maybeSnapshot(ctx context.Context, aggregate SnapshottingAggregate) {
	if r.snapshotEvery <= 0 {
		return
	}

	lastVersion := 0
	if snapshot, err := r.events.ReadSnapshot(ctx, aggregate.GetID()); err == nil {
		lastVersion = snapshot.Version
	}

	if aggregate.GetVersion()-lastVersion < r.snapshotEvery {
		return
	}

	state, err := aggregate.SnapshotState()
	if err != nil {
		log.Warn().Err(err).Str("aggregateID", aggregate.GetID()).Msg("Failed to serialize snapshot state")
		return
	}

	err = r.events.WriteSnapshot(ctx, eventstore.Snapshot{
		AggregateID:   aggregate.GetID(),
		AggregateType: aggregate.GetType(),
		Version:       aggregate.GetVersion(),
		State:         state,
	})
	if err != nil {
		log.Warn().Err(err).Str("aggregateID", aggregate.GetID()).Msg("Failed to write snapshot")
		return
	}

	log.Debug().
		Str("aggregateID", aggregate.GetID()).
		Int("version", aggregate.GetVersion()).
		Msg("Snapshot written")
}
