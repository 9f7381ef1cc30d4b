package repository

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chronicle-sh/chronicle/internal/engine/aggregate"
	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/lifecycle"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// Decider produces the events a command implies against the current aggregate
// state. It must not mutate root; all state change flows through the events.
type Decider interface {
	Decide(root aggregate.Root, cmd command.Command) ([]event.Event, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(root aggregate.Root, cmd command.Command) ([]event.Event, error)

// Decide calls the wrapped function.
func (f DeciderFunc) Decide(root aggregate.Root, cmd command.Command) ([]event.Event, error) {
	return f(root, cmd)
}

// ErrDeciderRequired indicates a missing decider.
var ErrDeciderRequired = errors.New(errors.CodeValidation, "decider is required")

// Handle runs the full command-handling path: load, lifecycle gate, decide,
// and save. Reserved lifecycle commands are decided here; everything else is
// delegated to the configured decider.
//
// A concurrency conflict on save is returned as-is; Handle never retries.
func (r *Repository) Handle(ctx context.Context, commands *command.Registry, decider Decider, cmd command.Command) (aggregate.Root, []event.Event, error) {
	if r == nil || r.Events == nil {
		return aggregate.Root{}, nil, ErrEventStoreRequired
	}

	ctx, span := otel.Tracer("chronicle/repository").Start(ctx, "repository.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("aggregate.id", cmd.AggregateID),
		attribute.String("command.type", string(cmd.Type)),
	)

	if commands != nil {
		validated, err := commands.ValidateForHandle(cmd)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return aggregate.Root{}, nil, err
		}
		cmd = validated
	}

	root, err := r.Load(ctx, cmd.AggregateID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return aggregate.Root{}, nil, err
	}
	span.SetAttributes(attribute.Int64("aggregate.version", int64(root.Version)))

	if mutating(commands, cmd.Type) {
		if err := root.Lifecycle.GateMutation(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return aggregate.Root{}, nil, err
		}
	}

	events, err := r.decide(root, decider, cmd)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return aggregate.Root{}, nil, err
	}
	if len(events) == 0 {
		return root, nil, nil
	}

	for i := range events {
		if events[i].Metadata.CorrelationID == "" && events[i].Metadata.CausationID == "" {
			timestamp := events[i].Metadata.Timestamp
			events[i].Metadata = cmd.EventMetadata(r.now())
			if !timestamp.IsZero() {
				events[i].Metadata.Timestamp = timestamp
			}
		}
	}

	updated, appended, err := r.Save(ctx, root, events)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return aggregate.Root{}, nil, err
	}
	span.SetAttributes(attribute.Int("events.appended", len(appended)))
	return updated, appended, nil
}

func (r *Repository) decide(root aggregate.Root, decider Decider, cmd command.Command) ([]event.Event, error) {
	if lifecycle.HandlesCommand(cmd.Type) {
		events, handled, err := lifecycle.DecideCommand(root.Lifecycle, cmd, r.now())
		if handled {
			return events, err
		}
	}
	if decider == nil {
		return nil, ErrDeciderRequired
	}
	return decider.Decide(root, cmd)
}

// mutating defaults to true without a registry so the lifecycle gate stays
// closed for unclassified commands.
func mutating(commands *command.Registry, cmdType command.Type) bool {
	if commands == nil {
		return true
	}
	return commands.Mutating(cmdType)
}
