package domain

import (
	"encoding/json"
	"time"
)

// Aggregate type names
const (
	UserAggregateType    = "user"
	ProductAggregateType = "product"
	OrderAggregateType   = "order"
)

// Metadata carries contextual information attached to every event
type Metadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
	Source        string `json:"source,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

// Event represents a persisted or uncommitted domain event
type Event struct {
	ID             string          `json:"id"`
	AggregateID    string          `json:"aggregate_id"`
	AggregateType  string          `json:"aggregate_type"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	Metadata       Metadata        `json:"metadata"`
	Version        int             `json:"version"`
	OccurredAt     time.Time       `json:"occurred_at"`
	GlobalPosition int64           `json:"global_position"`
}

// EventPayload is implemented by every event payload struct.
// Payloads are a closed set per aggregate; appliers switch exhaustively
// on EventType so adding a payload is a compile-visible change.
type EventPayload interface {
	EventType() string
}
