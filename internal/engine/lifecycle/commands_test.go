package lifecycle

import (
	"testing"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

func TestDecideCommandMapsToEvents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cmd := command.New("person-1", CommandDeactivate, map[string]any{"reason": "requested"})
	events, handled, err := DecideCommand(Active(), cmd, now)
	if !handled || err != nil {
		t.Fatalf("deactivate: handled=%v err=%v", handled, err)
	}
	if len(events) != 1 || events[0].Type != EventDeactivated {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Payload["reason"] != "requested" {
		t.Fatalf("reason lost: %+v", events[0].Payload)
	}
	if events[0].Metadata.CausationID != cmd.ID {
		t.Fatalf("event not caused by command: %+v", events[0].Metadata)
	}

	merge := command.New("person-1", CommandMerge, map[string]any{"target": " person-2 "})
	events, handled, err = DecideCommand(Active(), merge, now)
	if !handled || err != nil {
		t.Fatalf("merge: handled=%v err=%v", handled, err)
	}
	if events[0].Payload["target"] != "person-2" {
		t.Fatalf("target not trimmed: %+v", events[0].Payload)
	}
}

func TestDecideCommandActivateRequiresDeactivated(t *testing.T) {
	now := time.Now().UTC()

	_, handled, err := DecideCommand(Active(), command.New("p", CommandActivate, nil), now)
	if !handled {
		t.Fatal("expected lifecycle command to be handled")
	}
	if !errors.IsCode(err, errors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	events, _, err := DecideCommand(State{Status: StatusDeactivated}, command.New("p", CommandActivate, nil), now)
	if err != nil {
		t.Fatalf("activate from deactivated: %v", err)
	}
	if events[0].Type != EventActivated {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestDecideCommandIgnoresDomainCommands(t *testing.T) {
	_, handled, err := DecideCommand(Active(), command.New("p", "person.rename", nil), time.Now())
	if handled || err != nil {
		t.Fatalf("domain command must pass through: handled=%v err=%v", handled, err)
	}
}
