package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

// UserProjectionName is the checkpoint name of the user read model
const UserProjectionName = "user-readmodel"

// UserProjection builds the user read model.
// Writes are upserts keyed by aggregate id and guarded by the event
// version, so replaying history against a populated read model is a no-op.
type UserProjection struct {
	db *gorm.DB
}

// NewUserProjection creates a new user projection
func NewUserProjection(db *gorm.DB) *UserProjection {
	return &UserProjection{db: db}
}

// Name returns the projection name
func (p *UserProjection) Name() string { return UserProjectionName }

// EventTypes returns the user event types this projection consumes
func (p *UserProjection) EventTypes() []string {
	return []string{domain.UserRegistered, domain.UserProfileUpdated, domain.UserDeactivated}
}

// Handle applies a batch of user events to the read model
func (p *UserProjection) Handle(ctx context.Context, events []domain.Event) error {
	for _, event := range events {
		if err := p.apply(ctx, event); err != nil {
			return fmt.Errorf("user projection failed at position %d: %w", event.GlobalPosition, err)
		}
	}
	return nil
}

// apply applies a single event, skipping versions already applied
func (p *UserProjection) apply(ctx context.Context, event domain.Event) error {
	var record models.UserRecord
	err := p.db.WithContext(ctx).
		Where("user_id = ?", event.AggregateID).
		First(&record).Error
	exists := err == nil
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to load user record: %w", err)
	}

	if exists && record.Version >= event.Version {
		return nil
	}

	switch event.Type {
	case domain.UserRegistered:
		var data domain.UserRegisteredEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		record = models.UserRecord{
			UserID:    event.AggregateID,
			Email:     data.Email,
			Name:      data.Name,
			Active:    true,
			Version:   event.Version,
			CreatedAt: event.OccurredAt,
			UpdatedAt: event.OccurredAt,
		}
		if err := p.db.WithContext(ctx).Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create user record: %w", err)
		}

	case domain.UserProfileUpdated:
		var data domain.UserProfileUpdatedEvent
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		err := p.db.WithContext(ctx).
			Model(&models.UserRecord{}).
			Where("user_id = ?", event.AggregateID).
			Updates(map[string]interface{}{
				"email":      data.Email,
				"name":       data.Name,
				"version":    event.Version,
				"updated_at": event.OccurredAt,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update user record: %w", err)
		}

	case domain.UserDeactivated:
		err := p.db.WithContext(ctx).
			Model(&models.UserRecord{}).
			Where("user_id = ?", event.AggregateID).
			Updates(map[string]interface{}{
				"active":     false,
				"version":    event.Version,
				"updated_at": event.OccurredAt,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to deactivate user record: %w", err)
		}
	}

	return nil
}

// isNotFound reports whether err is gorm's record-not-found
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
