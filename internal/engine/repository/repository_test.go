package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/aggregate"
	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/lifecycle"
	"github.com/chronicle-sh/chronicle/internal/engine/schema"
	platformerrors "github.com/chronicle-sh/chronicle/internal/platform/errors"
	"github.com/chronicle-sh/chronicle/internal/storage"
	"github.com/chronicle-sh/chronicle/internal/storage/memory"
)

type personState struct {
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name"`
	LastName   string `json:"last_name"`
	Renames    int    `json:"renames"`
}

func personApplier() aggregate.Applier {
	return aggregate.ApplierFunc(func(state any, evt event.Event) (any, error) {
		person, ok := state.(*personState)
		if !ok || person == nil {
			person = &personState{}
		}
		switch evt.Type {
		case "person.created":
			person.FirstName, _ = evt.Payload["first_name"].(string)
			person.LastName, _ = evt.Payload["last_name"].(string)
			if middle, ok := evt.Payload["middle_name"].(string); ok {
				person.MiddleName = middle
			}
		case "person.renamed":
			person.FirstName, _ = evt.Payload["first_name"].(string)
			person.Renames++
		}
		return person, nil
	})
}

func personSchema(t *testing.T) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry()
	for eventType, version := range map[event.Type]string{
		"person.created":           "2.0.0",
		"person.renamed":           "1.0.0",
		lifecycle.EventDeactivated: "1.0.0",
		lifecycle.EventActivated:   "1.0.0",
		lifecycle.EventMerged:      "1.0.0",
		lifecycle.EventDeceased:    "1.0.0",
	} {
		if err := registry.RegisterEvent(eventType, version); err != nil {
			t.Fatalf("register %s: %v", eventType, err)
		}
	}
	err := registry.RegisterMigration("person.created", "1.0", "2.0", func(payload event.Payload) (event.Payload, error) {
		if _, ok := payload["middle_name"]; !ok {
			payload["middle_name"] = ""
		}
		return payload, nil
	})
	if err != nil {
		t.Fatalf("register migration: %v", err)
	}
	return registry
}

func personCommands(t *testing.T) *command.Registry {
	t.Helper()
	registry := command.NewRegistry()
	definitions := []command.Definition{
		{Type: "person.create", Mutating: true},
		{Type: "person.rename", Mutating: true},
		{Type: "person.view", Mutating: false},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Type, err)
		}
	}
	if err := lifecycle.RegisterCommands(registry); err != nil {
		t.Fatalf("register lifecycle commands: %v", err)
	}
	return registry
}

func personDecider() Decider {
	return DeciderFunc(func(root aggregate.Root, cmd command.Command) ([]event.Event, error) {
		switch cmd.Type {
		case "person.create":
			return []event.Event{{
				Type: "person.created",
				Payload: event.Payload{
					"first_name": cmd.Payload["first_name"],
					"last_name":  cmd.Payload["last_name"],
				},
			}}, nil
		case "person.rename":
			return []event.Event{{
				Type:    "person.renamed",
				Payload: event.Payload{"first_name": cmd.Payload["first_name"]},
			}}, nil
		case "person.view":
			return nil, nil
		}
		return nil, platformerrors.New(platformerrors.CodeValidation, "unknown command")
	})
}

func newRepository(t *testing.T) (*Repository, *memory.EventStore, *memory.SnapshotStore) {
	t.Helper()
	events := memory.NewEventStore()
	snapshots := memory.NewSnapshotStore()
	repo := &Repository{
		Events:            events,
		Snapshots:         snapshots,
		Schema:            personSchema(t),
		Applier:           personApplier(),
		NewState:          func() any { return &personState{} },
		SnapshotFrequency: 2,
		Now:               func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	return repo, events, snapshots
}

func TestLoadEmptyAggregate(t *testing.T) {
	repo, _, _ := newRepository(t)

	root, err := repo.Load(context.Background(), "person-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if root.Version != 0 {
		t.Fatalf("expected version 0, got %d", root.Version)
	}
	if root.Lifecycle.Status != lifecycle.StatusActive {
		t.Fatalf("expected active lifecycle, got %s", root.Lifecycle.Status)
	}
}

func TestHandleCreateAndRename(t *testing.T) {
	repo, _, _ := newRepository(t)
	commands := personCommands(t)
	decider := personDecider()
	ctx := context.Background()

	create := command.New("person-1", "person.create", map[string]any{
		"first_name": "John", "last_name": "Doe",
	})
	root, appended, err := repo.Handle(ctx, commands, decider, create)
	if err != nil {
		t.Fatalf("handle create: %v", err)
	}
	if root.Version != 1 || len(appended) != 1 {
		t.Fatalf("unexpected result: version=%d events=%d", root.Version, len(appended))
	}
	if appended[0].Version != "2.0.0" {
		t.Fatalf("expected stamped current version, got %q", appended[0].Version)
	}
	if appended[0].Payload[event.VersionField] != "2.0.0" {
		t.Fatalf("payload version not stamped: %+v", appended[0].Payload)
	}
	if appended[0].Metadata.CausationID != create.ID {
		t.Fatalf("expected causation %s, got %s", create.ID, appended[0].Metadata.CausationID)
	}

	rename := command.New("person-1", "person.rename", map[string]any{"first_name": "Johnny"})
	root, _, err = repo.Handle(ctx, commands, decider, rename)
	if err != nil {
		t.Fatalf("handle rename: %v", err)
	}
	person := root.State.(*personState)
	if person.FirstName != "Johnny" || person.Renames != 1 {
		t.Fatalf("unexpected state: %+v", person)
	}
}

func TestSaveConflictSurfacesToCaller(t *testing.T) {
	repo, _, _ := newRepository(t)
	ctx := context.Background()

	root, err := repo.Load(ctx, "person-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stale := root

	evt := event.Event{Type: "person.created", Payload: event.Payload{"first_name": "John"}}
	if _, _, err := repo.Save(ctx, root, []event.Event{evt}); err != nil {
		t.Fatalf("first save: %v", err)
	}

	_, _, err = repo.Save(ctx, stale, []event.Event{evt})
	if !errors.Is(err, storage.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestSnapshotReplayEquivalence(t *testing.T) {
	repo, _, snapshots := newRepository(t)
	commands := personCommands(t)
	decider := personDecider()
	ctx := context.Background()

	_, _, err := repo.Handle(ctx, commands, decider, command.New("person-1", "person.create", map[string]any{
		"first_name": "John", "last_name": "Doe",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, name := range []string{"Johnny", "Jon", "Jo"} {
		_, _, err := repo.Handle(ctx, commands, decider, command.New("person-1", "person.rename", map[string]any{"first_name": name}))
		if err != nil {
			t.Fatalf("rename %s: %v", name, err)
		}
	}

	snapshot, err := snapshots.Latest(ctx, "person-1")
	if err != nil {
		t.Fatalf("expected a snapshot after 4 events: %v", err)
	}
	if snapshot.Version < 2 {
		t.Fatalf("snapshot too old: %d", snapshot.Version)
	}

	fromSnapshot, err := repo.Load(ctx, "person-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	fromScratch, err := repo.Replay(ctx, "person-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if fromSnapshot.Version != fromScratch.Version {
		t.Fatalf("version mismatch: snapshot=%d replay=%d", fromSnapshot.Version, fromScratch.Version)
	}
	if !reflect.DeepEqual(fromSnapshot.State, fromScratch.State) {
		t.Fatalf("state mismatch:\nsnapshot: %+v\nreplay:   %+v", fromSnapshot.State, fromScratch.State)
	}
	if fromSnapshot.Lifecycle != fromScratch.Lifecycle {
		t.Fatalf("lifecycle mismatch: %+v vs %+v", fromSnapshot.Lifecycle, fromScratch.Lifecycle)
	}
}

func TestLoadMigratesHistoricalPayloads(t *testing.T) {
	repo, events, _ := newRepository(t)
	ctx := context.Background()

	_, err := events.Append(ctx, "person-1", 0, []event.Event{{
		Type:    "person.created",
		Version: "1.0",
		Payload: event.Payload{"version": "1.0", "first_name": "John", "last_name": "Doe"},
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	root, err := repo.Load(ctx, "person-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	person := root.State.(*personState)
	if person.FirstName != "John" {
		t.Fatalf("unexpected state: %+v", person)
	}
	if person.MiddleName != "" {
		t.Fatalf("expected empty injected middle name, got %q", person.MiddleName)
	}

	// The stored row keeps its original version; only the in-memory view is
	// migrated.
	stored, err := events.List(ctx, "person-1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if stored[0].Version != "1.0" {
		t.Fatalf("stored event rewritten: %+v", stored[0])
	}
}

func TestLifecycleGateBlocksMutation(t *testing.T) {
	repo, _, _ := newRepository(t)
	commands := personCommands(t)
	decider := personDecider()
	ctx := context.Background()

	_, _, err := repo.Handle(ctx, commands, decider, command.New("person-1", "person.create", map[string]any{
		"first_name": "John",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	root, _, err := repo.Handle(ctx, commands, decider, command.New("person-1", lifecycle.CommandDecease, nil))
	if err != nil {
		t.Fatalf("decease: %v", err)
	}
	if root.Lifecycle.Status != lifecycle.StatusDeceased {
		t.Fatalf("expected deceased, got %s", root.Lifecycle.Status)
	}

	_, _, err = repo.Handle(ctx, commands, decider, command.New("person-1", "person.rename", map[string]any{"first_name": "X"}))
	if !platformerrors.IsCode(err, platformerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Non-mutating commands pass the gate.
	if _, _, err := repo.Handle(ctx, commands, decider, command.New("person-1", "person.view", nil)); err != nil {
		t.Fatalf("view after decease: %v", err)
	}
}

func TestLifecycleDeactivateAndReactivate(t *testing.T) {
	repo, _, _ := newRepository(t)
	commands := personCommands(t)
	decider := personDecider()
	ctx := context.Background()

	_, _, err := repo.Handle(ctx, commands, decider, command.New("person-1", "person.create", map[string]any{
		"first_name": "John",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	root, _, err := repo.Handle(ctx, commands, decider, command.New("person-1", lifecycle.CommandDeactivate, map[string]any{
		"reason": "requested",
	}))
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if root.Lifecycle.Status != lifecycle.StatusDeactivated || root.Lifecycle.Reason != "requested" {
		t.Fatalf("unexpected lifecycle: %+v", root.Lifecycle)
	}

	// Deactivated aggregates still accept commands; only terminal states gate.
	root, _, err = repo.Handle(ctx, commands, decider, command.New("person-1", lifecycle.CommandActivate, nil))
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if root.Lifecycle.Status != lifecycle.StatusActive {
		t.Fatalf("expected active, got %s", root.Lifecycle.Status)
	}

	// Activating an already active aggregate is an invalid transition.
	_, _, err = repo.Handle(ctx, commands, decider, command.New("person-1", lifecycle.CommandActivate, nil))
	if !platformerrors.IsCode(err, platformerrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestMergeRecordsTarget(t *testing.T) {
	repo, _, _ := newRepository(t)
	commands := personCommands(t)
	decider := personDecider()
	ctx := context.Background()

	_, _, err := repo.Handle(ctx, commands, decider, command.New("person-1", "person.create", map[string]any{
		"first_name": "John",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	root, _, err := repo.Handle(ctx, commands, decider, command.New("person-1", lifecycle.CommandMerge, map[string]any{
		"target": "person-2",
	}))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if root.Lifecycle.Status != lifecycle.StatusMerged || root.Lifecycle.MergedInto != "person-2" {
		t.Fatalf("unexpected lifecycle: %+v", root.Lifecycle)
	}

	// Merge without a target fails payload validation.
	_, _, err = repo.Handle(ctx, commands, decider, command.New("person-3", lifecycle.CommandMerge, nil))
	if !platformerrors.IsCode(err, platformerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
