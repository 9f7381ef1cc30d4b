package machine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// State identifies a state in the machine.
type State string

// Guard decides whether a transition may fire for a command. Returning nil
// selects the transition; returning an error rejects it with a message that
// propagates when no other transition matches.
type Guard func(current State, cmd any) error

// Effect runs when a transition commits, before the state changes.
type Effect func(cmd any) error

// Hook observes entering or leaving a state.
type Hook func(state State)

// Transition declares one guarded edge of the machine.
type Transition struct {
	From   State
	To     State
	Guard  Guard
	Effect Effect
}

// Builder accumulates transitions and hooks for an immutable Table.
type Builder struct {
	transitions []Transition
	onEnter     map[State]Hook
	onExit      map[State]Hook
	terminal    map[State]bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		onEnter:  make(map[State]Hook),
		onExit:   make(map[State]Hook),
		terminal: make(map[State]bool),
	}
}

// Transition adds a guarded edge. Candidate order is registration order.
func (b *Builder) Transition(t Transition) *Builder {
	b.transitions = append(b.transitions, t)
	return b
}

// OnEnter registers a hook that runs after entering the state.
func (b *Builder) OnEnter(state State, hook Hook) *Builder {
	b.onEnter[state] = hook
	return b
}

// OnExit registers a hook that runs before leaving the state.
func (b *Builder) OnExit(state State, hook Hook) *Builder {
	b.onExit[state] = hook
	return b
}

// Terminal marks a state as terminal. Terminal states must have no outgoing
// transitions; Build fails otherwise.
func (b *Builder) Terminal(state State) *Builder {
	b.terminal[state] = true
	return b
}

// Build validates the accumulated transitions and returns an immutable table.
func (b *Builder) Build() (*Table, error) {
	if b == nil {
		return nil, errors.New(errors.CodeValidation, "machine builder is required")
	}
	for _, t := range b.transitions {
		if strings.TrimSpace(string(t.From)) == "" || strings.TrimSpace(string(t.To)) == "" {
			return nil, errors.New(errors.CodeValidation, "transition states are required")
		}
		if b.terminal[t.From] {
			return nil, errors.New(errors.CodeValidation,
				fmt.Sprintf("terminal state %s must not have outgoing transitions", t.From))
		}
	}
	table := &Table{
		byFrom:   make(map[State][]Transition),
		onEnter:  make(map[State]Hook, len(b.onEnter)),
		onExit:   make(map[State]Hook, len(b.onExit)),
		terminal: make(map[State]bool, len(b.terminal)),
	}
	for _, t := range b.transitions {
		table.byFrom[t.From] = append(table.byFrom[t.From], t)
	}
	for state, hook := range b.onEnter {
		table.onEnter[state] = hook
	}
	for state, hook := range b.onExit {
		table.onExit[state] = hook
	}
	for state := range b.terminal {
		table.terminal[state] = true
	}
	return table, nil
}

// Table is an immutable transition table shared by machine instances.
type Table struct {
	byFrom   map[State][]Transition
	onEnter  map[State]Hook
	onExit   map[State]Hook
	terminal map[State]bool
}

// Terminal reports whether the state is terminal.
func (t *Table) Terminal(state State) bool {
	if t == nil {
		return false
	}
	return t.terminal[state]
}

// Instance creates a machine instance positioned at the given state.
func (t *Table) Instance(current State) *Machine {
	return &Machine{table: t, current: current}
}

// Machine holds the only mutable field of the state machine: its current
// state, updated exactly once per committed transition.
type Machine struct {
	mu      sync.Mutex
	table   *Table
	current State
}

// Current returns the current state.
func (m *Machine) Current() State {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// HandleCommand evaluates candidate transitions from the current state in
// registration order and commits the first whose guard accepts the command.
// When no transition matches, the state is left unchanged and the error
// carries the last guard rejection, if any.
func (m *Machine) HandleCommand(cmd any) error {
	if m == nil || m.table == nil {
		return errors.New(errors.CodeValidation, "machine is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.table.byFrom[m.current]
	var rejection error
	for _, candidate := range candidates {
		if candidate.Guard != nil {
			if err := candidate.Guard(m.current, cmd); err != nil {
				rejection = err
				continue
			}
		}
		if hook := m.table.onExit[m.current]; hook != nil {
			hook(m.current)
		}
		if candidate.Effect != nil {
			if err := candidate.Effect(cmd); err != nil {
				return errors.Wrap(errors.CodeInvalidTransition,
					fmt.Sprintf("transition effect failed from %s to %s", candidate.From, candidate.To), err)
			}
		}
		m.current = candidate.To
		if hook := m.table.onEnter[m.current]; hook != nil {
			hook(m.current)
		}
		return nil
	}

	if rejection != nil {
		return errors.Wrap(errors.CodeInvalidTransition, rejection.Error(), rejection)
	}
	return errors.New(errors.CodeInvalidTransition,
		fmt.Sprintf("no transition from state %s", m.current))
}
