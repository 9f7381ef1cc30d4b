package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// Reserved lifecycle command types. Each produces exactly one lifecycle
// event; domain deciders never see them.
const (
	CommandDeactivate = command.Type("lifecycle.deactivate")
	CommandActivate   = command.Type("lifecycle.activate")
	CommandMerge      = command.Type("lifecycle.merge")
	CommandDecease    = command.Type("lifecycle.decease")
)

// RegisterCommands adds the lifecycle command definitions to a registry.
func RegisterCommands(registry *command.Registry) error {
	definitions := []command.Definition{
		{Type: CommandDeactivate, Mutating: true},
		{Type: CommandActivate, Mutating: true},
		{Type: CommandMerge, Mutating: true, ValidatePayload: func(payload map[string]any) error {
			target, _ := payload["target"].(string)
			if strings.TrimSpace(target) == "" {
				return fmt.Errorf("merge requires a target aggregate id")
			}
			return nil
		}},
		{Type: CommandDecease, Mutating: true},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// HandlesCommand reports whether the command type is a reserved lifecycle
// command.
func HandlesCommand(cmdType command.Type) bool {
	switch cmdType {
	case CommandDeactivate, CommandActivate, CommandMerge, CommandDecease:
		return true
	default:
		return false
	}
}

// DecideCommand maps a lifecycle command to its event against the current
// lifecycle state. The handled flag is false for non-lifecycle commands.
//
// Activate is only legal from Deactivated; the terminal states are guarded
// upstream by GateMutation, and Deactivate/Merge/Decease from Active or
// Deactivated always succeed, so validation here is about the transition
// table, not terminality.
func DecideCommand(state State, cmd command.Command, now time.Time) ([]event.Event, bool, error) {
	var eventType event.Type
	switch cmd.Type {
	case CommandDeactivate:
		eventType = EventDeactivated
	case CommandActivate:
		eventType = EventActivated
	case CommandMerge:
		eventType = EventMerged
	case CommandDecease:
		eventType = EventDeceased
	default:
		return nil, false, nil
	}

	if state.Status == "" {
		state.Status = StatusActive
	}
	if cmd.Type == CommandActivate && state.Status != StatusDeactivated {
		return nil, true, errors.New(errors.CodeInvalidTransition,
			fmt.Sprintf("cannot activate an aggregate in status %s", state.Status))
	}
	if cmd.Type == CommandDeactivate && state.Status == StatusDeactivated {
		return nil, true, errors.New(errors.CodeInvalidTransition,
			"aggregate is already deactivated")
	}

	payload := event.Payload{event.VersionField: "1.0.0"}
	switch cmd.Type {
	case CommandDeactivate:
		if reason, ok := cmd.Payload["reason"].(string); ok && reason != "" {
			payload["reason"] = reason
		}
	case CommandMerge:
		target, _ := cmd.Payload["target"].(string)
		payload["target"] = strings.TrimSpace(target)
	}

	return []event.Event{{
		AggregateID: cmd.AggregateID,
		Type:        eventType,
		Version:     "1.0.0",
		Payload:     payload,
		Metadata:    cmd.EventMetadata(now),
	}}, true, nil
}

// RegisterEvents adds the lifecycle event definitions to an event registry.
func RegisterEvents(registry *event.Registry) error {
	for _, eventType := range []event.Type{EventDeactivated, EventActivated, EventMerged, EventDeceased} {
		if err := registry.Register(event.Definition{Type: eventType}); err != nil {
			return err
		}
	}
	return nil
}
