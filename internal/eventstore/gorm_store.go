package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

// appendLockID keys the advisory lock that serializes appends on
// Postgres. Positions come from the autoincrement column, so without
// the lock two appends can commit out of position order and a reader
// paging by position would advance its cursor past a position still
// held by an uncommitted transaction, skipping that event forever.
const appendLockID int64 = 0x65766e74

// GormEventStore implements EventStore using GORM
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM event store
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// WithTx returns a store bound to an existing transaction.
// Used to append events and outbox entries in the same transaction.
func (s *GormEventStore) WithTx(tx *gorm.DB) *GormEventStore {
	return &GormEventStore{db: tx}
}

// AppendToStream atomically appends a batch of events for one aggregate
// under the expected-version guard
func (s *GormEventStore) AppendToStream(ctx context.Context, aggregateID string, expectedVersion int, events []domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, ErrNoEvents
	}

	newVersion := expectedVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Held until commit, releasing appends in position order.
		// SQLite is single-writer and needs no extra serialization.
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", appendLockID).Error; err != nil {
				return errors.Wrap(err, "failed to acquire append lock")
			}
		}

		// Optimistic concurrency check: no lock is held across the
		// business-logic step, so the current max version is compared
		// at write time inside the transaction.
		var currentVersion int
		err := tx.Model(&models.Event{}).
			Where("aggregate_id = ?", aggregateID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&currentVersion).Error
		if err != nil {
			return errors.Wrap(err, "failed to read current stream version")
		}

		if currentVersion != expectedVersion {
			return ErrConcurrencyConflict
		}

		for i, event := range events {
			if event.Version != expectedVersion+i+1 {
				return fmt.Errorf("event version %d is not contiguous with expected version %d", event.Version, expectedVersion)
			}

			metadata, err := json.Marshal(event.Metadata)
			if err != nil {
				return errors.Wrap(err, "failed to marshal event metadata")
			}

			dbEvent := models.Event{
				EventID:       event.ID,
				AggregateID:   aggregateID,
				AggregateType: event.AggregateType,
				EventType:     event.Type,
				Data:          event.Data,
				Metadata:      metadata,
				Version:       event.Version,
				OccurredAt:    event.OccurredAt,
			}

			if err := tx.Create(&dbEvent).Error; err != nil {
				// The unique index on (aggregate_id, version) is the
				// backstop against writers racing past the version check
				if isDuplicateKey(err) {
					return ErrConcurrencyConflict
				}
				return errors.Wrap(err, "failed to save event")
			}

			newVersion = event.Version

			log.Debug().
				Str("aggregateID", aggregateID).
				Str("eventType", event.Type).
				Int("version", event.Version).
				Int64("position", dbEvent.Position).
				Msg("Event appended")
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return newVersion, nil
}

// ReadStream returns an aggregate's events with version > fromVersion
func (s *GormEventStore) ReadStream(ctx context.Context, aggregateID string, fromVersion int) ([]domain.Event, error) {
	var dbEvents []models.Event
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version > ?", aggregateID, fromVersion).
		Order("version ASC").
		Find(&dbEvents).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to read stream")
	}

	return toDomainEvents(dbEvents), nil
}

// ReadAllEvents returns events from the global log starting at fromPosition
func (s *GormEventStore) ReadAllEvents(ctx context.Context, fromPosition int64, limit int, filter ReadAllFilter) ([]domain.Event, error) {
	query := s.db.WithContext(ctx).
		Where("position >= ?", fromPosition).
		Order("position ASC").
		Limit(limit)

	if len(filter.EventTypes) > 0 {
		query = query.Where("event_type IN ?", filter.EventTypes)
	}
	if filter.AggregateType != "" {
		query = query.Where("aggregate_type = ?", filter.AggregateType)
	}

	var dbEvents []models.Event
	if err := query.Find(&dbEvents).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read global event log")
	}

	return toDomainEvents(dbEvents), nil
}

// HeadPosition returns the highest assigned global position
func (s *GormEventStore) HeadPosition(ctx context.Context) (int64, error) {
	var head int64
	err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Select("COALESCE(MAX(position), 0)").
		Scan(&head).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to read head position")
	}

	return head, nil
}

// ReadSnapshot returns the latest snapshot for an aggregate
func (s *GormEventStore) ReadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var dbSnapshot models.Snapshot
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		First(&dbSnapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, errors.Wrap(err, "failed to read snapshot")
	}

	return &Snapshot{
		AggregateID:   dbSnapshot.AggregateID,
		AggregateType: dbSnapshot.AggregateType,
		Version:       dbSnapshot.Version,
		State:         dbSnapshot.State,
	}, nil
}

// WriteSnapshot stores a snapshot, replacing any previous one
func (s *GormEventStore) WriteSnapshot(ctx context.Context, snapshot Snapshot) error {
	result := s.db.WithContext(ctx).
		Model(&models.Snapshot{}).
		Where("aggregate_id = ?", snapshot.AggregateID).
		Updates(map[string]interface{}{
			"version":    snapshot.Version,
			"state":      snapshot.State,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update snapshot")
	}

	if result.RowsAffected == 0 {
		dbSnapshot := models.Snapshot{
			AggregateID:   snapshot.AggregateID,
			AggregateType: snapshot.AggregateType,
			Version:       snapshot.Version,
			State:         snapshot.State,
		}
		if err := s.db.WithContext(ctx).Create(&dbSnapshot).Error; err != nil {
			if isDuplicateKey(err) {
				// Concurrent snapshot writers are harmless; snapshots are caching
				return nil
			}
			return errors.Wrap(err, "failed to create snapshot")
		}
	}

	return nil
}

// toDomainEvents converts database rows to domain events
func toDomainEvents(dbEvents []models.Event) []domain.Event {
	events := make([]domain.Event, len(dbEvents))
	for i, dbEvent := range dbEvents {
		var metadata domain.Metadata
		if len(dbEvent.Metadata) > 0 {
			if err := json.Unmarshal(dbEvent.Metadata, &metadata); err != nil {
				log.Warn().Err(err).Str("event_id", dbEvent.EventID).Msg("Failed to unmarshal event metadata")
			}
		}

		events[i] = domain.Event{
			ID:             dbEvent.EventID,
			AggregateID:    dbEvent.AggregateID,
			AggregateType:  dbEvent.AggregateType,
			Type:           dbEvent.EventType,
			Data:           dbEvent.Data,
			Metadata:       metadata,
			Version:        dbEvent.Version,
			OccurredAt:     dbEvent.OccurredAt,
			GlobalPosition: dbEvent.Position,
		}
	}

	return events
}

// isDuplicateKey reports whether err is a unique constraint violation
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
