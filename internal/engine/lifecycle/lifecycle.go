// Package lifecycle models the closed lifecycle variant of an aggregate:
// Active, Deactivated, MergedInto, and Deceased. MergedInto and Deceased are
// terminal; once entered, no state-mutating command is accepted.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/machine"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// Status identifies a lifecycle state.
type Status string

const (
	// StatusActive is the default lifecycle state.
	StatusActive Status = "active"
	// StatusDeactivated is a reversible suspension.
	StatusDeactivated Status = "deactivated"
	// StatusMerged is terminal: the aggregate was folded into another.
	StatusMerged Status = "merged"
	// StatusDeceased is terminal.
	StatusDeceased Status = "deceased"
)

// Reserved lifecycle event types, folded by the repository before the domain
// applier sees the event stream.
const (
	EventDeactivated = event.Type("lifecycle.deactivated")
	EventActivated   = event.Type("lifecycle.activated")
	EventMerged      = event.Type("lifecycle.merged")
	EventDeceased    = event.Type("lifecycle.deceased")
)

// State captures the lifecycle of an aggregate.
type State struct {
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Since      time.Time `json:"since,omitzero"`
	MergedInto string    `json:"merged_into,omitempty"`
	At         time.Time `json:"at,omitzero"`
}

// Active returns the initial lifecycle state.
func Active() State {
	return State{Status: StatusActive}
}

// Terminal reports whether the lifecycle admits no further mutation.
func (s State) Terminal() bool {
	return s.Status == StatusMerged || s.Status == StatusDeceased
}

// GateMutation rejects mutating commands against terminal lifecycles.
func (s State) GateMutation() error {
	switch s.Status {
	case StatusMerged:
		return errors.WithMetadata(errors.CodeValidation,
			"cannot modify a merged aggregate",
			map[string]string{"merged_into": s.MergedInto})
	case StatusDeceased:
		return errors.New(errors.CodeValidation, "cannot modify a deceased aggregate")
	default:
		return nil
	}
}

// table is the shared guarded transition table for lifecycle events. Built
// once; instances carry only the current status.
var table = mustTable()

func mustTable() *machine.Table {
	// Each edge guards on the event's declared target so one lifecycle event
	// selects exactly one transition.
	edge := func(from, to Status) machine.Transition {
		return machine.Transition{
			From: machine.State(from),
			To:   machine.State(to),
			Guard: func(_ machine.State, cmd any) error {
				evt, ok := cmd.(event.Event)
				if !ok {
					return fmt.Errorf("lifecycle transition requires an event")
				}
				target, ok := targetStatus(evt.Type)
				if !ok || target != to {
					return fmt.Errorf("event %s does not target %s", evt.Type, to)
				}
				return nil
			},
		}
	}
	t, err := machine.NewBuilder().
		Transition(edge(StatusActive, StatusDeactivated)).
		Transition(edge(StatusActive, StatusMerged)).
		Transition(edge(StatusActive, StatusDeceased)).
		Transition(edge(StatusDeactivated, StatusActive)).
		Transition(edge(StatusDeactivated, StatusMerged)).
		Transition(edge(StatusDeactivated, StatusDeceased)).
		Terminal(machine.State(StatusMerged)).
		Terminal(machine.State(StatusDeceased)).
		Build()
	if err != nil {
		panic(fmt.Sprintf("lifecycle table: %v", err))
	}
	return t
}

func targetStatus(eventType event.Type) (Status, bool) {
	switch eventType {
	case EventDeactivated:
		return StatusDeactivated, true
	case EventActivated:
		return StatusActive, true
	case EventMerged:
		return StatusMerged, true
	case EventDeceased:
		return StatusDeceased, true
	default:
		return "", false
	}
}

// Handles reports whether the event type is a reserved lifecycle event.
func Handles(eventType event.Type) bool {
	_, ok := targetStatus(eventType)
	return ok
}

// Apply folds a lifecycle event onto the state. The handled flag is false
// for non-lifecycle event types, which are left to the domain applier.
func Apply(state State, evt event.Event) (State, bool, error) {
	target, ok := targetStatus(evt.Type)
	if !ok {
		return state, false, nil
	}
	if state.Status == "" {
		state.Status = StatusActive
	}

	// Drive the shared transition table so illegal edges (for example
	// deceased -> active) fail with InvalidTransition during replay.
	instance := table.Instance(machine.State(state.Status))
	if err := instance.HandleCommand(evt); err != nil {
		return state, true, errors.Wrap(errors.CodeInvalidTransition,
			fmt.Sprintf("lifecycle transition %s -> %s", state.Status, target), err)
	}

	next := State{Status: target}
	switch target {
	case StatusDeactivated:
		next.Reason, _ = evt.Payload["reason"].(string)
		next.Since = evt.Metadata.Timestamp
	case StatusMerged:
		next.MergedInto, _ = evt.Payload["target"].(string)
		next.At = evt.Metadata.Timestamp
	case StatusDeceased:
		next.At = evt.Metadata.Timestamp
	}
	return next, true, nil
}
