// Package aggregate defines the aggregate root envelope and the fold
// contract for reconstructing domain state from events.
package aggregate

import (
	"fmt"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/lifecycle"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// Root is the consistency boundary for one aggregate id. Version increments
// by one per applied event; State is the domain-specific projection and
// stays opaque to the engine.
type Root struct {
	ID        string
	Version   uint64
	Lifecycle lifecycle.State
	State     any
}

// Applier folds a domain event into domain state.
type Applier interface {
	Apply(state any, evt event.Event) (any, error)
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(state any, evt event.Event) (any, error)

// Apply implements Applier.
func (f ApplierFunc) Apply(state any, evt event.Event) (any, error) {
	return f(state, evt)
}

// Fold applies events in order onto the root: reserved lifecycle events
// update the lifecycle variant, everything else goes through the domain
// applier. Events must arrive in strictly increasing sequence order; a gap
// or reordering fails the fold.
func Fold(root Root, events []event.Event, applier Applier) (Root, error) {
	for _, evt := range events {
		if evt.Seq > 0 {
			expected := root.Version + 1
			if evt.Seq != expected {
				return root, errors.New(errors.CodeValidation,
					fmt.Sprintf("event sequence gap for %s: expected %d got %d", root.ID, expected, evt.Seq))
			}
		}

		next, handled, err := lifecycle.Apply(root.Lifecycle, evt)
		if err != nil {
			return root, err
		}
		if handled {
			root.Lifecycle = next
		} else {
			if applier == nil {
				return root, errors.New(errors.CodeValidation, "applier is required for domain events")
			}
			state, err := applier.Apply(root.State, evt)
			if err != nil {
				return root, err
			}
			root.State = state
		}
		if evt.Seq > 0 {
			root.Version = evt.Seq
		} else {
			root.Version++
		}
	}
	return root, nil
}
