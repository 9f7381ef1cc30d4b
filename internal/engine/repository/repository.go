package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/aggregate"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/lifecycle"
	"github.com/chronicle-sh/chronicle/internal/engine/schema"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
	"github.com/chronicle-sh/chronicle/internal/storage"
)

const defaultPageSize = 200

var (
	// ErrEventStoreRequired indicates a missing event store.
	ErrEventStoreRequired = errors.New(errors.CodeValidation, "event store is required")
	// ErrAggregateIDRequired indicates a missing aggregate id.
	ErrAggregateIDRequired = errors.New(errors.CodeValidation, "aggregate id is required")
)

// Repository owns persisted aggregate state. Callers receive reconstructed
// copies; all mutation flows through the event store's compare-and-append.
type Repository struct {
	Events     storage.EventStore
	Snapshots  storage.SnapshotStore
	Schema     *schema.Registry
	EventTypes *event.Registry
	Applier    aggregate.Applier
	// NewState constructs an empty domain state, typically a pointer so the
	// applier can fold in place.
	NewState func() any
	// SnapshotFrequency is the number of committed events between snapshots.
	// Zero disables snapshotting.
	SnapshotFrequency int
	PageSize          int
	Now               func() time.Time
}

// snapshotEnvelope is the persisted shape of aggregate state: the lifecycle
// variant travels with the domain state so replay can resume from either.
type snapshotEnvelope struct {
	Lifecycle lifecycle.State `json:"lifecycle"`
	State     json.RawMessage `json:"state"`
}

func (r *Repository) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Repository) pageSize() int {
	if r != nil && r.PageSize > 0 {
		return r.PageSize
	}
	return defaultPageSize
}

func (r *Repository) newState() any {
	if r != nil && r.NewState != nil {
		return r.NewState()
	}
	return nil
}

// Load reconstructs the aggregate for id from its latest snapshot and the
// event tail past it. Historical event payloads are migrated to the current
// schema before replay.
func (r *Repository) Load(ctx context.Context, id string) (aggregate.Root, error) {
	if r == nil || r.Events == nil {
		return aggregate.Root{}, ErrEventStoreRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return aggregate.Root{}, ErrAggregateIDRequired
	}

	root := aggregate.Root{ID: id, Lifecycle: lifecycle.Active(), State: r.newState()}

	if r.Snapshots != nil {
		snapshot, err := r.Snapshots.Latest(ctx, id)
		switch {
		case err == nil:
			restored, err := r.restoreSnapshot(root, snapshot)
			if err != nil {
				return aggregate.Root{}, err
			}
			root = restored
		case errors.IsCode(err, errors.CodeNotFound):
			// No snapshot yet; replay from version 0.
		default:
			return aggregate.Root{}, err
		}
	}

	return r.replayTail(ctx, root)
}

// Replay reconstructs the aggregate from version 0, ignoring snapshots. It
// backs the snapshot/replay equivalence checks and restart reconciliation.
func (r *Repository) Replay(ctx context.Context, id string) (aggregate.Root, error) {
	if r == nil || r.Events == nil {
		return aggregate.Root{}, ErrEventStoreRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return aggregate.Root{}, ErrAggregateIDRequired
	}
	root := aggregate.Root{ID: id, Lifecycle: lifecycle.Active(), State: r.newState()}
	return r.replayTail(ctx, root)
}

func (r *Repository) restoreSnapshot(root aggregate.Root, snapshot storage.Snapshot) (aggregate.Root, error) {
	var envelope snapshotEnvelope
	if err := json.Unmarshal(snapshot.State, &envelope); err != nil {
		return aggregate.Root{}, errors.Wrap(errors.CodeSerialization, "decode snapshot", err)
	}
	root.Version = snapshot.Version
	if envelope.Lifecycle.Status != "" {
		root.Lifecycle = envelope.Lifecycle
	}
	if len(envelope.State) > 0 && string(envelope.State) != "null" {
		state := r.newState()
		if state == nil {
			var generic map[string]any
			if err := json.Unmarshal(envelope.State, &generic); err != nil {
				return aggregate.Root{}, errors.Wrap(errors.CodeSerialization, "decode snapshot state", err)
			}
			root.State = generic
		} else {
			if err := json.Unmarshal(envelope.State, state); err != nil {
				return aggregate.Root{}, errors.Wrap(errors.CodeSerialization, "decode snapshot state", err)
			}
			root.State = state
		}
	}
	return root, nil
}

func (r *Repository) replayTail(ctx context.Context, root aggregate.Root) (aggregate.Root, error) {
	pageSize := r.pageSize()
	for {
		events, err := r.Events.List(ctx, root.ID, root.Version, pageSize)
		if err != nil {
			return aggregate.Root{}, err
		}
		if len(events) == 0 {
			return root, nil
		}
		for i := range events {
			migrated, err := r.migrate(events[i])
			if err != nil {
				return aggregate.Root{}, err
			}
			events[i] = migrated
		}
		root, err = aggregate.Fold(root, events, r.Applier)
		if err != nil {
			return aggregate.Root{}, err
		}
		if len(events) < pageSize {
			return root, nil
		}
	}
}

// migrate normalizes a historical event payload to the current schema. The
// original version is preserved in metadata for consumers that care.
func (r *Repository) migrate(evt event.Event) (event.Event, error) {
	if r.Schema == nil {
		return evt, nil
	}
	current, err := r.Schema.CurrentVersion(evt.Type)
	if err != nil {
		return event.Event{}, err
	}
	payload, err := r.Schema.MigrateToCurrent(evt.Type, evt.Payload)
	if err != nil {
		return event.Event{}, err
	}
	if evt.Version != current {
		if evt.Metadata.OriginVersion == "" {
			evt.Metadata.OriginVersion = evt.Version
		}
		evt.Version = current
	}
	evt.Payload = payload
	return evt, nil
}

// Save appends new events conditioned on the aggregate's version at load
// time matching the store's head. On conflict the caller must reload and
// retry; the repository never retries on its own.
func (r *Repository) Save(ctx context.Context, root aggregate.Root, events []event.Event) (aggregate.Root, []event.Event, error) {
	if r == nil || r.Events == nil {
		return aggregate.Root{}, nil, ErrEventStoreRequired
	}
	root.ID = strings.TrimSpace(root.ID)
	if root.ID == "" {
		return aggregate.Root{}, nil, ErrAggregateIDRequired
	}
	if len(events) == 0 {
		return root, nil, nil
	}

	prepared := make([]event.Event, 0, len(events))
	for _, evt := range events {
		evt.AggregateID = root.ID
		stamped, err := r.stamp(evt)
		if err != nil {
			return aggregate.Root{}, nil, err
		}
		prepared = append(prepared, stamped)
	}

	appended, err := r.Events.Append(ctx, root.ID, root.Version, prepared)
	if err != nil {
		return aggregate.Root{}, nil, err
	}

	updated, err := aggregate.Fold(root, appended, r.Applier)
	if err != nil {
		return aggregate.Root{}, nil, err
	}

	if err := r.maybeSnapshot(ctx, updated); err != nil {
		return aggregate.Root{}, nil, err
	}
	return updated, appended, nil
}

// stamp fills in the event schema version and validates against the event
// registry before append.
func (r *Repository) stamp(evt event.Event) (event.Event, error) {
	if evt.Payload == nil {
		evt.Payload = event.Payload{}
	}
	if r.Schema != nil {
		current, err := r.Schema.CurrentVersion(evt.Type)
		if err != nil {
			return event.Event{}, err
		}
		if evt.Version == "" {
			evt.Version = current
		}
	}
	if evt.Version == "" {
		return event.Event{}, errors.New(errors.CodeSerialization,
			fmt.Sprintf("event version is required for %s", evt.Type))
	}
	if _, ok := evt.Payload[event.VersionField]; !ok {
		evt.Payload[event.VersionField] = evt.Version
	}
	if evt.Metadata.Timestamp.IsZero() {
		evt.Metadata.Timestamp = r.now()
	}
	if r.EventTypes != nil {
		validated, err := r.EventTypes.ValidateForAppend(evt)
		if err != nil {
			return event.Event{}, err
		}
		evt = validated
	}
	return evt, nil
}

func (r *Repository) maybeSnapshot(ctx context.Context, root aggregate.Root) error {
	if r.Snapshots == nil || r.SnapshotFrequency <= 0 {
		return nil
	}
	var since uint64
	latest, err := r.Snapshots.Latest(ctx, root.ID)
	switch {
	case err == nil:
		since = latest.Version
	case errors.IsCode(err, errors.CodeNotFound):
		since = 0
	default:
		return err
	}
	if root.Version-since < uint64(r.SnapshotFrequency) {
		return nil
	}

	state, err := json.Marshal(root.State)
	if err != nil {
		return errors.Wrap(errors.CodeSerialization, "encode snapshot state", err)
	}
	envelope, err := json.Marshal(snapshotEnvelope{Lifecycle: root.Lifecycle, State: state})
	if err != nil {
		return errors.Wrap(errors.CodeSerialization, "encode snapshot", err)
	}
	return r.Snapshots.Save(ctx, storage.Snapshot{
		AggregateID: root.ID,
		Version:     root.Version,
		State:       envelope,
		TakenAt:     r.now(),
	})
}
