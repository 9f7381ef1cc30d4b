package event

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// PayloadValidator validates a payload before append.
type PayloadValidator func(Payload) error

// Definition registers metadata for an event type.
type Definition struct {
	Type            Type
	ValidatePayload PayloadValidator
}

// Registry stores event definitions and validates events before persistence.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a new event type definition to the registry.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New(errors.CodeValidation, "event registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return errors.New(errors.CodeValidation, "event type is required")
	}
	if r.definitions == nil {
		r.definitions = make(map[Type]Definition)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return errors.New(errors.CodeValidation, fmt.Sprintf("event type already registered: %s", def.Type))
	}
	r.definitions[def.Type] = def
	return nil
}

// ValidateForAppend validates and normalizes an event before persistence.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	if r == nil {
		return Event{}, errors.New(errors.CodeValidation, "event registry is required")
	}
	evt.AggregateID = strings.TrimSpace(evt.AggregateID)
	if evt.AggregateID == "" {
		return Event{}, errors.New(errors.CodeValidation, "aggregate id is required")
	}
	evt.Type = Type(strings.TrimSpace(string(evt.Type)))
	if evt.Type == "" {
		return Event{}, errors.New(errors.CodeValidation, "event type is required")
	}
	def, ok := r.definitions[evt.Type]
	if !ok {
		return Event{}, errors.New(errors.CodeValidation, fmt.Sprintf("event type is not registered: %s", evt.Type))
	}
	if strings.TrimSpace(evt.Version) == "" {
		return Event{}, errors.New(errors.CodeSerialization, "event version is required")
	}
	if evt.Payload == nil {
		evt.Payload = Payload{}
	}
	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(evt.Payload); err != nil {
			return Event{}, errors.Wrap(errors.CodeValidation, fmt.Sprintf("payload invalid for %s", evt.Type), err)
		}
	}
	return evt, nil
}

// Known reports whether the event type is registered.
func (r *Registry) Known(eventType Type) bool {
	if r == nil {
		return false
	}
	_, ok := r.definitions[Type(strings.TrimSpace(string(eventType)))]
	return ok
}

// Types returns a stable, sorted snapshot of registered event types.
func (r *Registry) Types() []Type {
	if r == nil || len(r.definitions) == 0 {
		return nil
	}
	types := make([]Type, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
