package command

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// PayloadValidator validates a command payload.
type PayloadValidator func(map[string]any) error

// Definition registers metadata for a command type.
type Definition struct {
	Type            Type
	Mutating        bool
	ValidatePayload PayloadValidator
}

// Registry stores command definitions and validates commands.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a new command type definition to the registry.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New(errors.CodeValidation, "command registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return errors.New(errors.CodeValidation, "command type is required")
	}
	if r.definitions == nil {
		r.definitions = make(map[Type]Definition)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return errors.New(errors.CodeValidation, fmt.Sprintf("command type already registered: %s", def.Type))
	}
	r.definitions[def.Type] = def
	return nil
}

// ValidateForHandle validates and normalizes a command before handling.
func (r *Registry) ValidateForHandle(cmd Command) (Command, error) {
	if r == nil {
		return Command{}, errors.New(errors.CodeValidation, "command registry is required")
	}
	cmd.AggregateID = strings.TrimSpace(cmd.AggregateID)
	if cmd.AggregateID == "" {
		return Command{}, errors.New(errors.CodeValidation, "aggregate id is required")
	}
	cmd.Type = Type(strings.TrimSpace(string(cmd.Type)))
	if cmd.Type == "" {
		return Command{}, errors.New(errors.CodeValidation, "command type is required")
	}
	def, ok := r.definitions[cmd.Type]
	if !ok {
		return Command{}, errors.New(errors.CodeValidation, fmt.Sprintf("command type is not registered: %s", cmd.Type))
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now().UTC()
	}
	if cmd.Payload == nil {
		cmd.Payload = map[string]any{}
	}
	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(cmd.Payload); err != nil {
			return Command{}, errors.Wrap(errors.CodeValidation, fmt.Sprintf("payload invalid for %s", cmd.Type), err)
		}
	}
	return cmd, nil
}

// Definition returns the command definition for a given type.
func (r *Registry) Definition(cmdType Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	cmdType = Type(strings.TrimSpace(string(cmdType)))
	if cmdType == "" {
		return Definition{}, false
	}
	def, ok := r.definitions[cmdType]
	return def, ok
}

// Mutating reports whether the command type changes aggregate state.
// Unknown types are treated as mutating so the lifecycle gate stays closed.
func (r *Registry) Mutating(cmdType Type) bool {
	def, ok := r.Definition(cmdType)
	if !ok {
		return true
	}
	return def.Mutating
}

// ListDefinitions returns a stable, sorted snapshot of registered definitions.
func (r *Registry) ListDefinitions() []Definition {
	if r == nil || len(r.definitions) == 0 {
		return nil
	}
	definitions := make([]Definition, 0, len(r.definitions))
	for _, definition := range r.definitions {
		definitions = append(definitions, definition)
	}
	sort.Slice(definitions, func(i, j int) bool {
		return string(definitions[i].Type) < string(definitions[j].Type)
	})
	return definitions
}
