package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Aggregate is the interface for all aggregates
type Aggregate interface {
	GetID() string
	GetType() string
	GetVersion() int
	UncommittedEvents() []Event
	MarkCommitted()
	Fold(events []Event) error
}

// AggregateBase provides common aggregate functionality.
// Concrete aggregates embed it and supply an applier that switches
// on the event type and mutates internal state.
type AggregateBase struct {
	id            string
	aggregateType string
	version       int
	uncommitted   []Event
	applier       func(eventType string, data []byte) error
}

// NewAggregateBase creates a new aggregate base
func NewAggregateBase(id, aggregateType string, applier func(string, []byte) error) *AggregateBase {
	return &AggregateBase{
		id:            id,
		aggregateType: aggregateType,
		version:       0,
		applier:       applier,
	}
}

// GetID returns the aggregate ID
func (a *AggregateBase) GetID() string {
	return a.id
}

// GetType returns the aggregate type
func (a *AggregateBase) GetType() string {
	return a.aggregateType
}

// GetVersion returns the current aggregate version
func (a *AggregateBase) GetVersion() int {
	return a.version
}

// UncommittedEvents returns a copy of the events recorded since the last commit
func (a *AggregateBase) UncommittedEvents() []Event {
	events := make([]Event, len(a.uncommitted))
	copy(events, a.uncommitted)
	return events
}

// MarkCommitted clears the uncommitted event list.
// Called by the persistence layer after a successful append.
func (a *AggregateBase) MarkCommitted() {
	a.uncommitted = nil
}

// Record applies a new event payload to the aggregate state and enqueues
// it as an uncommitted event at version+1
func (a *AggregateBase) Record(payload EventPayload, meta Metadata) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	if err := a.applier(payload.EventType(), data); err != nil {
		return fmt.Errorf("failed to apply event: %w", err)
	}

	a.version++
	a.uncommitted = append(a.uncommitted, Event{
		ID:            uuid.New().String(),
		AggregateID:   a.id,
		AggregateType: a.aggregateType,
		Type:          payload.EventType(),
		Data:          data,
		Metadata:      meta,
		Version:       a.version,
		OccurredAt:    time.Now().UTC(),
	})

	return nil
}

// Fold rebuilds the aggregate state from a historical event list.
// Events must be ordered by version ascending. The uncommitted list is
// cleared and the terminal version recorded.
func (a *AggregateBase) Fold(events []Event) error {
	for _, event := range events {
		if err := a.applier(event.Type, event.Data); err != nil {
			return fmt.Errorf("failed to apply event %s at version %d: %w", event.Type, event.Version, err)
		}
		a.version = event.Version
	}

	a.uncommitted = nil
	return nil
}

// RestoreVersion sets the version after loading state from a snapshot.
// Events after the snapshot version are folded on top as usual.
func (a *AggregateBase) RestoreVersion(version int) {
	a.version = version
}
