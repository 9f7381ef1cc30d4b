// Package memory provides in-memory event and snapshot stores, used by
// tests and as the default runtime backend.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
	"github.com/chronicle-sh/chronicle/internal/storage"
)

// ErrAggregateIDRequired indicates a missing aggregate id.
var ErrAggregateIDRequired = errors.New(errors.CodeValidation, "aggregate id is required")

// EventStore stores event logs in memory with compare-and-append semantics.
type EventStore struct {
	mu   sync.Mutex
	logs map[string][]event.Event
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{logs: make(map[string][]event.Event)}
}

// Append implements storage.EventStore.
func (s *EventStore) Append(ctx context.Context, aggregateID string, expected uint64, events []event.Event) ([]event.Event, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if s == nil {
		return nil, errors.New(errors.CodeValidation, "event store is required")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, ErrAggregateIDRequired
	}
	if len(events) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[aggregateID]
	head := uint64(len(log))
	if head != expected {
		return nil, storage.ErrConcurrencyConflict
	}

	appended := make([]event.Event, 0, len(events))
	for i, evt := range events {
		evt.AggregateID = aggregateID
		evt.Seq = head + uint64(i) + 1
		appended = append(appended, evt)
	}
	s.logs[aggregateID] = append(log, appended...)
	return appended, nil
}

// List implements storage.EventStore.
func (s *EventStore) List(ctx context.Context, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if s == nil {
		return nil, errors.New(errors.CodeValidation, "event store is required")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, ErrAggregateIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[aggregateID]
	if afterSeq >= uint64(len(log)) {
		return nil, nil
	}
	tail := log[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]event.Event, len(tail))
	copy(out, tail)
	return out, nil
}

// Head implements storage.EventStore.
func (s *EventStore) Head(ctx context.Context, aggregateID string) (uint64, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	if s == nil {
		return 0, errors.New(errors.CodeValidation, "event store is required")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return 0, ErrAggregateIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.logs[aggregateID])), nil
}

// SnapshotStore stores the latest snapshot per aggregate id in memory.
type SnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]storage.Snapshot
}

// NewSnapshotStore creates an empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]storage.Snapshot)}
}

// Latest implements storage.SnapshotStore.
func (s *SnapshotStore) Latest(ctx context.Context, aggregateID string) (storage.Snapshot, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return storage.Snapshot{}, err
		}
	}
	if s == nil {
		return storage.Snapshot{}, errors.New(errors.CodeValidation, "snapshot store is required")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return storage.Snapshot{}, ErrAggregateIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.snapshots[aggregateID]
	if !ok {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return snapshot, nil
}

// Save implements storage.SnapshotStore.
func (s *SnapshotStore) Save(ctx context.Context, snapshot storage.Snapshot) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if s == nil {
		return errors.New(errors.CodeValidation, "snapshot store is required")
	}
	aggregateID := strings.TrimSpace(snapshot.AggregateID)
	if aggregateID == "" {
		return ErrAggregateIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot.AggregateID = aggregateID
	s.snapshots[aggregateID] = snapshot
	return nil
}
