package eventstore

import (
	"context"
	"errors"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
)

var (
	// ErrConcurrencyConflict indicates the stream version changed between
	// load and append. Callers must reload the aggregate, reapply the
	// business operation and retry; the store never retries on its own.
	ErrConcurrencyConflict = errors.New("concurrency conflict: expected version mismatch")

	// ErrNoEvents indicates an attempt to append an empty batch
	ErrNoEvents = errors.New("no events to append")

	// ErrSnapshotNotFound indicates no snapshot exists for the aggregate.
	// Callers must fall back to a full stream fold.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Snapshot is a point-in-time materialization of an aggregate's state
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       int
	State         []byte
}

// ReadAllFilter narrows a global log read.
// Zero value means no filtering.
type ReadAllFilter struct {
	EventTypes    []string
	AggregateType string
}

// EventStore is the interface for the append-only event log
type EventStore interface {
	// AppendToStream atomically appends a batch of events for one aggregate.
	// Fails with ErrConcurrencyConflict if the stream's current version
	// differs from expectedVersion. Returns the new stream version.
	AppendToStream(ctx context.Context, aggregateID string, expectedVersion int, events []domain.Event) (int, error)

	// ReadStream returns an aggregate's events with version > fromVersion,
	// ordered by version ascending. An empty result means the aggregate
	// does not exist (pass fromVersion 0 for the full stream).
	ReadStream(ctx context.Context, aggregateID string, fromVersion int) ([]domain.Event, error)

	// ReadAllEvents returns events with globalPosition >= fromPosition in
	// ascending position order, up to limit. The cursor is stable under
	// concurrent writers: resuming at lastPosition+1 yields no duplicates
	// and no gaps.
	ReadAllEvents(ctx context.Context, fromPosition int64, limit int, filter ReadAllFilter) ([]domain.Event, error)

	// HeadPosition returns the highest assigned global position
	HeadPosition(ctx context.Context) (int64, error)

	// ReadSnapshot returns the latest snapshot for an aggregate,
	// or ErrSnapshotNotFound
	ReadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)

	// WriteSnapshot stores a snapshot, replacing any previous one
	WriteSnapshot(ctx context.Context, snapshot Snapshot) error
}
