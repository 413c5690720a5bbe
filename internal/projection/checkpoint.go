package projection

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

// CheckpointStore is the durable replay cursor, one row per projection.
// Each row is mutated only by the runner that owns the projection name.
type CheckpointStore interface {
	// Load returns the last processed position, 0 if no checkpoint exists
	Load(ctx context.Context, projectionName string) (int64, error)

	// Save upserts the checkpoint after a successfully applied batch
	Save(ctx context.Context, projectionName string, position int64) error

	// Reset sets the checkpoint back to 0 for a full replay
	Reset(ctx context.Context, projectionName string) error

	// SetActive flags whether the projection's runner is currently running
	SetActive(ctx context.Context, projectionName string, active bool) error

	// List returns all checkpoint rows for health reporting
	List(ctx context.Context) ([]models.ProjectionCheckpoint, error)
}

// GormCheckpointStore implements CheckpointStore using GORM
type GormCheckpointStore struct {
	db *gorm.DB
}

// NewGormCheckpointStore creates a new GORM checkpoint store
func NewGormCheckpointStore(db *gorm.DB) *GormCheckpointStore {
	return &GormCheckpointStore{db: db}
}

// Load returns the last processed position, 0 if no checkpoint exists
func (s *GormCheckpointStore) Load(ctx context.Context, projectionName string) (int64, error) {
	var checkpoint models.ProjectionCheckpoint
	err := s.db.WithContext(ctx).
		Where("projection_name = ?", projectionName).
		First(&checkpoint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to load checkpoint")
	}

	return checkpoint.LastProcessedPosition, nil
}

// Save upserts the checkpoint after a successfully applied batch
func (s *GormCheckpointStore) Save(ctx context.Context, projectionName string, position int64) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.ProjectionCheckpoint{}).
		Where("projection_name = ?", projectionName).
		Updates(map[string]interface{}{
			"last_processed_position": position,
			"last_processed_at":       now,
			"updated_at":              now,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to save checkpoint")
	}

	if result.RowsAffected == 0 {
		checkpoint := models.ProjectionCheckpoint{
			ProjectionName:        projectionName,
			LastProcessedPosition: position,
			LastProcessedAt:       now,
			IsActive:              true,
		}
		if err := s.db.WithContext(ctx).Create(&checkpoint).Error; err != nil {
			return errors.Wrap(err, "failed to create checkpoint")
		}
	}

	return nil
}

// Reset sets the checkpoint back to 0 for a full replay
func (s *GormCheckpointStore) Reset(ctx context.Context, projectionName string) error {
	err := s.db.WithContext(ctx).
		Model(&models.ProjectionCheckpoint{}).
		Where("projection_name = ?", projectionName).
		Updates(map[string]interface{}{
			"last_processed_position": 0,
			"updated_at":              time.Now().UTC(),
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to reset checkpoint")
	}

	return nil
}

// SetActive flags whether the projection's runner is currently running
func (s *GormCheckpointStore) SetActive(ctx context.Context, projectionName string, active bool) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.ProjectionCheckpoint{}).
		Where("projection_name = ?", projectionName).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": now,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update checkpoint activity")
	}

	if result.RowsAffected == 0 {
		checkpoint := models.ProjectionCheckpoint{
			ProjectionName:  projectionName,
			LastProcessedAt: now,
			IsActive:        active,
		}
		if err := s.db.WithContext(ctx).Create(&checkpoint).Error; err != nil {
			return errors.Wrap(err, "failed to create checkpoint")
		}
	}

	return nil
}

// List returns all checkpoint rows for health reporting
func (s *GormCheckpointStore) List(ctx context.Context) ([]models.ProjectionCheckpoint, error) {
	var checkpoints []models.ProjectionCheckpoint
	err := s.db.WithContext(ctx).
		Order("projection_name ASC").
		Find(&checkpoints).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkpoints")
	}

	return checkpoints, nil
}
