// Package storage defines the persistence contracts for the event store and
// the snapshot store. All mutation goes through the event store's
// compare-and-append primitive; there is no cross-aggregate locking.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

var (
	// ErrNotFound indicates a missing stored record.
	ErrNotFound = errors.New(errors.CodeNotFound, "record not found")
	// ErrConcurrencyConflict indicates the aggregate head moved since load.
	ErrConcurrencyConflict = errors.New(errors.CodeConcurrencyConflict, "aggregate version conflict")
)

// Snapshot is the single latest materialization of aggregate state.
type Snapshot struct {
	AggregateID string
	Version     uint64
	State       json.RawMessage
	TakenAt     time.Time
}

// EventStore persists ordered event logs keyed by aggregate id.
type EventStore interface {
	// Append appends events conditioned on the current head version for the
	// aggregate id matching expected. On mismatch it fails with
	// ErrConcurrencyConflict and persists nothing. Returned events carry
	// their assigned sequence numbers.
	Append(ctx context.Context, aggregateID string, expected uint64, events []event.Event) ([]event.Event, error)
	// List returns events with sequence greater than afterSeq, in strictly
	// increasing order, up to limit (no limit when limit <= 0).
	List(ctx context.Context, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error)
	// Head returns the current head sequence for the aggregate id, zero when
	// no events exist.
	Head(ctx context.Context, aggregateID string) (uint64, error)
}

// SnapshotStore persists the latest snapshot per aggregate id. Older
// snapshots may be discarded.
type SnapshotStore interface {
	// Latest returns the newest snapshot, or ErrNotFound.
	Latest(ctx context.Context, aggregateID string) (Snapshot, error)
	// Save persists a snapshot, replacing any older one for the same id.
	Save(ctx context.Context, snapshot Snapshot) error
}
