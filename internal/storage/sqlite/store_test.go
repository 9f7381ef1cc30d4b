package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "chronicle.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testEvent(t event.Type) event.Event {
	return event.Event{
		Type:    t,
		Version: "1.0",
		Payload: event.Payload{"version": "1.0", "first_name": "John"},
		Metadata: event.Metadata{
			CorrelationID: "corr-1",
			CausationID:   "cause-1",
			Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestAppendAndListRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	appended, err := store.Append(ctx, "person-1", 0, []event.Event{
		testEvent("person.created"),
		testEvent("person.renamed"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if appended[0].Seq != 1 || appended[1].Seq != 2 {
		t.Fatalf("unexpected sequences: %+v", appended)
	}

	events, err := store.List(ctx, "person-1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	got := events[0]
	if got.Type != "person.created" || got.Seq != 1 || got.Version != "1.0" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Payload["first_name"] != "John" {
		t.Fatalf("payload lost: %+v", got.Payload)
	}
	if got.Metadata.CorrelationID != "corr-1" || got.Metadata.CausationID != "cause-1" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}
	if !got.Metadata.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp mismatch: %v", got.Metadata.Timestamp)
	}
}

func TestAppendStaleExpectedVersionConflicts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, err := store.Append(ctx, "person-1", 0, []event.Event{testEvent("person.created")}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err := store.Append(ctx, "person-1", 0, []event.Event{testEvent("person.renamed")})
	if !errors.Is(err, storage.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}

	// The failed append must persist nothing.
	head, err := store.Head(ctx, "person-1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 1 {
		t.Fatalf("expected head 1, got %d", head)
	}
}

func TestListAfterSeqAndLimit(t *testing.T) {
	store := openStore(t)
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
	if len(tail) != 2 || tail[0].Seq != 2 {
		t.Fatalf("unexpected tail: %+v", tail)
	}

	limited, err := store.List(ctx, "person-1", 0, 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Seq != 1 {
		t.Fatalf("unexpected limited page: %+v", limited)
	}
}

func TestHeadEmptyAggregate(t *testing.T) {
	store := openStore(t)

	head, err := store.Head(context.Background(), "person-unknown")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 0 {
		t.Fatalf("expected head 0, got %d", head)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, err := store.Latest(ctx, "person-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	snapshot := storage.Snapshot{
		AggregateID: "person-1",
		Version:     4,
		State:       json.RawMessage(`{"first_name":"John"}`),
		TakenAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}

	latest, err := store.Latest(ctx, "person-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 4 {
		t.Fatalf("expected version 4, got %d", latest.Version)
	}
	var state map[string]any
	if err := json.Unmarshal(latest.State, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state["first_name"] != "John" {
		t.Fatalf("state lost: %+v", state)
	}

	snapshot.Version = 9
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	latest, err = store.Latest(ctx, "person-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 9 {
		t.Fatalf("expected version 9, got %d", latest.Version)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chronicle.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Append(ctx, "person-1", 0, []event.Event{testEvent("person.created")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	head, err := reopened.Head(ctx, "person-1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 1 {
		t.Fatalf("expected head 1 after reopen, got %d", head)
	}
}
