package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

// GormOutboxStore persists outbox entries using GORM
type GormOutboxStore struct {
	db *gorm.DB
}

// NewGormOutboxStore creates a new GORM outbox store
func NewGormOutboxStore(db *gorm.DB) *GormOutboxStore {
	return &GormOutboxStore{db: db}
}

// WithTx returns a store bound to an existing transaction.
// AddEvents must run in the same transaction as the event append,
// otherwise the "no event without an outbox record" guarantee is lost.
func (s *GormOutboxStore) WithTx(tx *gorm.DB) *GormOutboxStore {
	return &GormOutboxStore{db: tx}
}

// AddEvents writes one pending outbox entry per event
func (s *GormOutboxStore) AddEvents(ctx context.Context, events []domain.Event, routingKey string) error {
	if len(events) == 0 {
		return nil
	}

	now := time.Now().UTC()
	entries := make([]models.OutboxEntry, len(events))
	for i, event := range events {
		entries[i] = models.OutboxEntry{
			EventID:       event.ID,
			AggregateID:   event.AggregateID,
			AggregateType: event.AggregateType,
			EventType:     event.Type,
			Payload:       event.Data,
			RoutingKey:    routingKey,
			Status:        models.OutboxStatusPending,
			NextAttemptAt: now,
		}
	}

	if err := s.db.WithContext(ctx).Create(&entries).Error; err != nil {
		return errors.Wrap(err, "failed to add outbox entries")
	}

	return nil
}

// ClaimBatch claims up to limit due pending entries, marking them processing.
// Claimed entries are returned in insertion order.
func (s *GormOutboxStore) ClaimBatch(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	var claimed []models.OutboxEntry

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var entries []models.OutboxEntry
		err := tx.
			Where("status = ? AND next_attempt_at <= ?", models.OutboxStatusPending, now).
			Order("id ASC").
			Limit(limit).
			Find(&entries).Error
		if err != nil {
			return errors.Wrap(err, "failed to select pending outbox entries")
		}

		if len(entries) == 0 {
			return nil
		}

		ids := make([]uint, len(entries))
		for i, entry := range entries {
			ids[i] = entry.ID
		}

		err = tx.Model(&models.OutboxEntry{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     models.OutboxStatusProcessing,
				"claimed_at": now,
				"updated_at": now,
			}).Error
		if err != nil {
			return errors.Wrap(err, "failed to claim outbox entries")
		}

		claimed = entries
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// MarkPublished transitions an entry to published
func (s *GormOutboxStore) MarkPublished(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.OutboxStatusPublished,
			"published_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to mark outbox entry as published")
	}

	return nil
}

// Reschedule returns a failed attempt to pending with an updated
// attempt count and next attempt time
func (s *GormOutboxStore) Reschedule(ctx context.Context, id uint, attempts int, nextAttemptAt time.Time, lastErr string) error {
	err := s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.OutboxStatusPending,
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
			"last_error":      &lastErr,
			"updated_at":      time.Now().UTC(),
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to reschedule outbox entry")
	}

	return nil
}

// MarkFailed transitions an entry to the terminal failed state.
// Failed entries are operator-visible and never retried automatically.
func (s *GormOutboxStore) MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error {
	err := s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OutboxStatusFailed,
			"attempts":   attempts,
			"last_error": &lastErr,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to mark outbox entry as failed")
	}

	return nil
}

// ReclaimStale returns entries stuck in processing past the staleness
// threshold back to pending. Covers processors that crashed mid-batch.
func (s *GormOutboxStore) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	result := s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("status = ? AND claimed_at < ?", models.OutboxStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     models.OutboxStatusPending,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to reclaim stale outbox entries")
	}

	return result.RowsAffected, nil
}

// Backlog returns the number of entries not yet published or failed
func (s *GormOutboxStore) Backlog(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.OutboxEntry{}).
		Where("status IN ?", []string{models.OutboxStatusPending, models.OutboxStatusProcessing}).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count outbox backlog")
	}

	return count, nil
}

// Cleanup deletes published entries older than the retention window
func (s *GormOutboxStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("status = ? AND published_at < ?", models.OutboxStatusPublished, cutoff).
		Delete(&models.OutboxEntry{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to clean up outbox entries")
	}

	return result.RowsAffected, nil
}
