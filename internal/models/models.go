package models

import (
	"time"

	"gorm.io/gorm"
)

// Outbox entry statuses
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusPublished  = "published"
	OutboxStatusFailed     = "failed"
)

// Event represents a domain event in the append-only log.
// Position is the global monotonic sequence across all aggregates;
// (aggregate_id, version) is unique and gap-free per aggregate.
type Event struct {
	Position      int64     `gorm:"primaryKey;autoIncrement" json:"position"`
	EventID       string    `gorm:"uniqueIndex;size:36" json:"event_id"`
	AggregateID   string    `gorm:"size:36;uniqueIndex:idx_events_aggregate_version" json:"aggregate_id"`
	Version       int       `gorm:"uniqueIndex:idx_events_aggregate_version" json:"version"`
	AggregateType string    `gorm:"index" json:"aggregate_type"`
	EventType     string    `gorm:"index" json:"event_type"`
	Data          []byte    `json:"data"`
	Metadata      []byte    `json:"metadata"`
	OccurredAt    time.Time `json:"occurred_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Snapshot is a point-in-time materialization of an aggregate's state.
// Snapshots are pure caching and may be deleted at any time.
type Snapshot struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AggregateID   string    `gorm:"uniqueIndex;size:36" json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	Version       int       `json:"version"`
	State         []byte    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OutboxEntry represents an event pending publication to the external bus.
// Entries are written in the same transaction as the event append.
type OutboxEntry struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	EventID       string     `gorm:"uniqueIndex;size:36" json:"event_id"`
	AggregateID   string     `gorm:"index;size:36" json:"aggregate_id"`
	AggregateType string     `json:"aggregate_type"`
	EventType     string     `json:"event_type"`
	Payload       []byte     `json:"payload"`
	RoutingKey    string     `json:"routing_key"`
	Status        string     `gorm:"index;default:pending" json:"status"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `gorm:"index" json:"next_attempt_at"`
	LastError     *string    `json:"last_error"`
	ClaimedAt     *time.Time `json:"claimed_at"`
	PublishedAt   *time.Time `json:"published_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ProjectionCheckpoint is the durable replay cursor for one named projection
type ProjectionCheckpoint struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	ProjectionName        string    `gorm:"uniqueIndex" json:"projection_name"`
	LastProcessedPosition int64     `json:"last_processed_position"`
	LastProcessedAt       time.Time `json:"last_processed_at"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// UserRecord is the user read model
type UserRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"uniqueIndex;size:36" json:"user_id"`
	Email     string    `gorm:"index" json:"email"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductRecord is the product read model
type ProductRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ProductID    string    `gorm:"uniqueIndex;size:36" json:"product_id"`
	SKU          string    `gorm:"index" json:"sku"`
	Name         string    `json:"name"`
	Price        float64   `json:"price"`
	Stock        int       `json:"stock"`
	Discontinued bool      `json:"discontinued"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OrderRecord is the order read model
type OrderRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OrderID    string    `gorm:"uniqueIndex;size:36" json:"order_id"`
	CustomerID string    `gorm:"index;size:36" json:"customer_id"`
	Status     string    `gorm:"index" json:"status"`
	Total      float64   `json:"total"`
	Items      []byte    `json:"items"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SetupModels runs migrations for all core tables
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Event{},
		&Snapshot{},
		&OutboxEntry{},
		&ProjectionCheckpoint{},
		&UserRecord{},
		&ProductRecord{},
		&OrderRecord{},
	)
}
