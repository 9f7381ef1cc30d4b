package service

import (
	"context"
	"testing"

	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/repository"
	"github.com/chronicle-sh/chronicle/internal/storage/memory"
)

func TestPersonDomainMigratesCreatedEvent(t *testing.T) {
	domain, err := Person()
	if err != nil {
		t.Fatalf("build domain: %v", err)
	}

	payload := event.Payload{
		"version":    "1.0.0",
		"person_id":  "123",
		"first_name": "John",
		"last_name":  "Doe",
	}
	migrated, err := domain.Schema.MigrateToCurrent("person.created", payload)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if migrated["version"] != "2.0.0" {
		t.Fatalf("expected version 2.0.0, got %v", migrated["version"])
	}
	value, present := migrated["middle_name"]
	if !present || value != nil {
		t.Fatalf("expected injected nil middle_name, got %v (present=%v)", value, present)
	}
	// The input payload stays untouched.
	if _, mutated := payload["middle_name"]; mutated {
		t.Fatal("migration mutated its input")
	}
}

func TestPersonDomainFullCommandPath(t *testing.T) {
	domain, err := Person()
	if err != nil {
		t.Fatalf("build domain: %v", err)
	}
	repo := &repository.Repository{
		Events:            memory.NewEventStore(),
		Snapshots:         memory.NewSnapshotStore(),
		Schema:            domain.Schema,
		EventTypes:        domain.Events,
		Applier:           domain.Applier,
		NewState:          domain.NewState,
		SnapshotFrequency: 3,
	}
	ctx := context.Background()

	root, _, err := repo.Handle(ctx, domain.Commands, domain.Decider,
		command.New("person-1", "person.create", map[string]any{
			"first_name": "John", "last_name": "Doe", "email": "john@example.com",
		}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	person := root.State.(*PersonState)
	if person.FirstName != "John" || person.Email != "john@example.com" {
		t.Fatalf("unexpected state: %+v", person)
	}

	// Creating twice is rejected by the decider.
	_, _, err = repo.Handle(ctx, domain.Commands, domain.Decider,
		command.New("person-1", "person.create", map[string]any{"first_name": "John"}))
	if err == nil {
		t.Fatal("expected duplicate create rejection")
	}

	root, committed, err := repo.Handle(ctx, domain.Commands, domain.Decider,
		command.New("person-1", "person.add_skills", map[string]any{
			"languages": []any{"Go", "Rust"},
		}))
	if err != nil {
		t.Fatalf("add skills: %v", err)
	}
	if len(committed) != 1 || committed[0].Type != "person.skills_added" {
		t.Fatalf("unexpected events: %+v", committed)
	}
	person = root.State.(*PersonState)
	if len(person.Languages) != 2 {
		t.Fatalf("unexpected languages: %v", person.Languages)
	}

	// Create command missing first_name fails registry validation.
	_, _, err = repo.Handle(ctx, domain.Commands, domain.Decider,
		command.New("person-2", "person.create", map[string]any{"last_name": "Doe"}))
	if err == nil {
		t.Fatal("expected validation failure for missing first_name")
	}
}
