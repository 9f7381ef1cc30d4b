// Package policy implements reactive rules mapping committed events to
// follow-up commands. Policies are registered once at startup into an
// ordered engine; evaluation order is registration order, and every policy
// sees every event.
package policy

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// Policy maps one committed event to zero or more follow-up commands.
// Implementations with internal state must provide their own mutual
// exclusion; the engine may evaluate from multiple goroutines.
type Policy interface {
	Name() string
	Evaluate(ctx context.Context, evt event.Event) ([]command.Command, error)
}

// Func adapts a named function to the Policy interface.
type Func struct {
	PolicyName string
	Fn         func(ctx context.Context, evt event.Event) ([]command.Command, error)
}

// Name returns the policy name.
func (f Func) Name() string { return f.PolicyName }

// Evaluate calls the wrapped function.
func (f Func) Evaluate(ctx context.Context, evt event.Event) ([]command.Command, error) {
	if f.Fn == nil {
		return nil, nil
	}
	return f.Fn(ctx, evt)
}

// Engine holds an ordered collection of policies. The list is immutable
// after startup; Register is not safe to call concurrently with Evaluate.
type Engine struct {
	policies []Policy
}

// NewEngine creates an empty policy engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Register appends a policy. Names must be unique so per-policy failures
// stay attributable in logs.
func (e *Engine) Register(p Policy) error {
	if e == nil {
		return errors.New(errors.CodeValidation, "policy engine is required")
	}
	if p == nil {
		return errors.New(errors.CodeValidation, "policy is required")
	}
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return errors.New(errors.CodeValidation, "policy name is required")
	}
	for _, existing := range e.policies {
		if existing.Name() == name {
			return errors.New(errors.CodeValidation, fmt.Sprintf("policy already registered: %s", name))
		}
	}
	e.policies = append(e.policies, p)
	return nil
}

// Names returns registered policy names in evaluation order.
func (e *Engine) Names() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.policies))
	for _, p := range e.policies {
		names = append(names, p.Name())
	}
	return names
}

// Evaluate runs every policy against the event in registration order and
// concatenates their commands. A failing policy does not stop evaluation;
// its error is joined with the rest and returned alongside the commands
// the other policies produced.
func (e *Engine) Evaluate(ctx context.Context, evt event.Event) ([]command.Command, error) {
	if e == nil {
		return nil, errors.New(errors.CodeValidation, "policy engine is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		commands []command.Command
		errs     []error
	)
	for _, p := range e.policies {
		produced, err := p.Evaluate(ctx, evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("policy %s: %w", p.Name(), err))
			continue
		}
		commands = append(commands, produced...)
	}
	return commands, stderrors.Join(errs...)
}

// EvaluateBatch evaluates a sequence of events in order, concatenating the
// follow-up commands across events.
func (e *Engine) EvaluateBatch(ctx context.Context, events []event.Event) ([]command.Command, error) {
	var (
		commands []command.Command
		errs     []error
	)
	for _, evt := range events {
		produced, err := e.Evaluate(ctx, evt)
		if err != nil {
			errs = append(errs, err)
		}
		commands = append(commands, produced...)
	}
	return commands, stderrors.Join(errs...)
}
