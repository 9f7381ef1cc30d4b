package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/storage"
)

func testEvent(t event.Type) event.Event {
	return event.Event{Type: t, Version: "1.0", Payload: event.Payload{"version": "1.0"}}
}

func TestAppendAssignsSequences(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	appended, err := store.Append(ctx, "person-1", 0, []event.Event{
		testEvent("person.created"),
		testEvent("person.renamed"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if appended[0].Seq != 1 || appended[1].Seq != 2 {
		t.Fatalf("unexpected sequences: %d, %d", appended[0].Seq, appended[1].Seq)
	}

	head, err := store.Head(ctx, "person-1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 2 {
		t.Fatalf("expected head 2, got %d", head)
	}
}

func TestAppendConflictOnStaleExpectedVersion(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "person-1", 0, []event.Event{testEvent("person.created")}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err := store.Append(ctx, "person-1", 0, []event.Event{testEvent("person.renamed")})
	if !errors.Is(err, storage.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestConcurrentAppendSameAggregateExactlyOneWins(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = store.Append(ctx, "person-1", 0, []event.Event{testEvent("person.created")})
		}()
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, storage.ErrConcurrencyConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if conflicts != writers-1 {
		t.Fatalf("expected %d conflicts, got %d", writers-1, conflicts)
	}
}

func TestAppendDifferentAggregatesProceedIndependently(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "person-1", 0, []event.Event{testEvent("person.created")}); err != nil {
		t.Fatalf("append person-1: %v", err)
	}
	if _, err := store.Append(ctx, "person-2", 0, []event.Event{testEvent("person.created")}); err != nil {
		t.Fatalf("append person-2: %v", err)
	}
}

func TestListTailAndLimit(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "person-1", 0, []event.Event{
		testEvent("a"), testEvent("b"), testEvent("c"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	tail, err := store.List(ctx, "person-1", 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tail) != 2 || tail[0].Seq != 2 || tail[1].Seq != 3 {
		t.Fatalf("unexpected tail: %+v", tail)
	}

	limited, err := store.List(ctx, "person-1", 0, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 events, got %d", len(limited))
	}
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	if _, err := store.Latest(ctx, "person-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	snapshot := storage.Snapshot{
		AggregateID: "person-1",
		Version:     5,
		State:       json.RawMessage(`{"first_name":"John"}`),
		TakenAt:     time.Now().UTC(),
	}
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}

	latest, err := store.Latest(ctx, "person-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 5 {
		t.Fatalf("expected version 5, got %d", latest.Version)
	}

	// A newer snapshot replaces the old one.
	snapshot.Version = 10
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	latest, err = store.Latest(ctx, "person-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 10 {
		t.Fatalf("expected version 10, got %d", latest.Version)
	}
}
