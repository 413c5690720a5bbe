package domain

import (
	"encoding/json"
	"strings"
)

// User event types
const (
	UserRegistered     = "UserRegistered"
	UserProfileUpdated = "UserProfileUpdated"
	UserDeactivated    = "UserDeactivated"
)

// UserRegisteredEvent is emitted when a new user registers
type UserRegisteredEvent struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (UserRegisteredEvent) EventType() string { return UserRegistered }

// UserProfileUpdatedEvent is emitted when a user changes profile fields
type UserProfileUpdatedEvent struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (UserProfileUpdatedEvent) EventType() string { return UserProfileUpdated }

// UserDeactivatedEvent is emitted when a user account is deactivated
type UserDeactivatedEvent struct {
	Reason string `json:"reason"`
}

func (UserDeactivatedEvent) EventType() string { return UserDeactivated }

// UserState holds the internal state of a user aggregate
type UserState struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// UserAggregate is the aggregate for a user account
type UserAggregate struct {
	*AggregateBase
	State UserState
}

// NewUserAggregate creates an empty user aggregate ready for folding
func NewUserAggregate(id string) *UserAggregate {
	aggregate := &UserAggregate{}
	aggregate.AggregateBase = NewAggregateBase(id, UserAggregateType, aggregate.applyEvent)
	return aggregate
}

// RegisterUser creates a new user aggregate with a UserRegistered event at version 1
func RegisterUser(id, email, name string, meta Metadata) (*UserAggregate, error) {
	if !strings.Contains(email, "@") {
		return nil, NewValidationError("email", "must be a valid email address")
	}
	if strings.TrimSpace(name) == "" {
		return nil, NewValidationError("name", "must not be empty")
	}

	aggregate := NewUserAggregate(id)
	if err := aggregate.Record(UserRegisteredEvent{Email: email, Name: name}, meta); err != nil {
		return nil, err
	}
	return aggregate, nil
}

// UpdateProfile changes the user's name and email.
// Updating to the current values is a no-op and emits no event.
func (a *UserAggregate) UpdateProfile(email, name string, meta Metadata) error {
	if !a.State.Active {
		return NewBusinessRuleViolation("user-active", "cannot update a deactivated user")
	}
	if !strings.Contains(email, "@") {
		return NewValidationError("email", "must be a valid email address")
	}
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "must not be empty")
	}
	if a.State.Email == email && a.State.Name == name {
		return nil
	}

	return a.Record(UserProfileUpdatedEvent{Email: email, Name: name}, meta)
}

// Deactivate disables the user account. Deactivating twice is a no-op.
func (a *UserAggregate) Deactivate(reason string, meta Metadata) error {
	if !a.State.Active {
		return nil
	}

	return a.Record(UserDeactivatedEvent{Reason: reason}, meta)
}

// applyEvent applies an event to the user aggregate
func (a *UserAggregate) applyEvent(eventType string, data []byte) error {
	switch eventType {
	case UserRegistered:
		var e UserRegisteredEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		a.State.Email = e.Email
		a.State.Name = e.Name
		a.State.Active = true

	case UserProfileUpdated:
		var e UserProfileUpdatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		a.State.Email = e.Email
		a.State.Name = e.Name

	case UserDeactivated:
		a.State.Active = false

	default:
		return ErrUnknownEventType
	}

	return nil
}

// SnapshotState serializes the aggregate state for snapshotting
func (a *UserAggregate) SnapshotState() ([]byte, error) {
	return json.Marshal(a.State)
}

// RestoreSnapshot restores the aggregate state from a snapshot
func (a *UserAggregate) RestoreSnapshot(version int, state []byte) error {
	var restored UserState
	if err := json.Unmarshal(state, &restored); err != nil {
		return err
	}
	a.State = restored
	a.RestoreVersion(version)
	return nil
}
