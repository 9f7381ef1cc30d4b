// Package service wires the engine into the closed reactive loop: commands
// pulled from the transport drive the repository, committed events are
// published back out, and the policy engine turns events into follow-up
// commands that re-enter the loop.
package service

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/policy"
	"github.com/chronicle-sh/chronicle/internal/engine/repository"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
	"github.com/chronicle-sh/chronicle/internal/stream"
)

// Publisher is the transport slice the runtime writes through.
type Publisher interface {
	PublishEvent(ctx context.Context, evt event.Event) (string, error)
	PublishCommand(ctx context.Context, cmd command.Command) error
}

// Runtime runs the command and policy consumers against one domain stream.
type Runtime struct {
	Repository *repository.Repository
	Commands   *command.Registry
	Decider    repository.Decider
	Policies   *policy.Engine
	Publisher  Publisher
	JS         jetstream.JetStream
	Subjects   stream.Subjects
	StreamName string
	Retry      stream.RetryPolicy
	Logger     *log.Logger
}

func (r *Runtime) logger() *log.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// Run provisions the stream and blocks until the context is canceled. One
// shutdown signal stops both consumers; in-flight saves and publishes finish
// or fail cleanly, and unacked messages redeliver on restart.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil || r.Repository == nil {
		return errors.New(errors.CodeValidation, "repository is required")
	}
	if r.JS == nil {
		return errors.New(errors.CodeValidation, "jetstream context is required")
	}
	if _, err := stream.EnsureStream(ctx, r.JS, r.StreamName, r.Subjects); err != nil {
		return err
	}

	dlq := stream.NewPublisher(r.JS, r.Subjects)
	commandConsumer, err := stream.NewConsumer(r.JS, dlq, stream.ConsumerConfig{
		Stream:        r.StreamName,
		Durable:       "chronicle-commands",
		FilterSubject: r.Subjects.CommandWildcard(),
		Retry:         r.Retry,
	}, r.handleCommand, r.logger().With("consumer", "commands"))
	if err != nil {
		return err
	}
	policyConsumer, err := stream.NewConsumer(r.JS, dlq, stream.ConsumerConfig{
		Stream:        r.StreamName,
		Durable:       "chronicle-policies",
		FilterSubject: r.Subjects.EventWildcard(),
		Retry:         r.Retry,
	}, r.handleEvent, r.logger().With("consumer", "policies"))
	if err != nil {
		return err
	}

	r.logger().Info("runtime started", "stream", r.StreamName, "domain", r.Subjects.Domain)
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return commandConsumer.Run(ctx) })
	group.Go(func() error { return policyConsumer.Run(ctx) })
	return group.Wait()
}

// handleCommand decodes one command, runs it through the repository, and
// publishes the committed events. Errors propagate to the consumer's retry
// loop; a concurrency conflict resolves on redelivery against the reloaded
// aggregate.
func (r *Runtime) handleCommand(ctx context.Context, msg stream.Message) error {
	cmd, err := msg.Command()
	if err != nil {
		return err
	}
	root, committed, err := r.Repository.Handle(ctx, r.Commands, r.Decider, cmd)
	if err != nil {
		r.logger().Error("command failed",
			"command", cmd.Type, "aggregate", cmd.AggregateID, "error", err)
		return err
	}
	for _, evt := range committed {
		if _, err := r.Publisher.PublishEvent(ctx, evt); err != nil {
			// Publish failure leaves the command unacked; redelivery will
			// conflict on re-append and reconcile via the event stream.
			return err
		}
	}
	r.logger().Info("command handled",
		"command", cmd.Type, "aggregate", cmd.AggregateID,
		"version", root.Version, "events", len(committed))
	return nil
}

// handleEvent evaluates the policy set against one committed event and
// publishes the follow-up commands. Per-policy failures are logged and do
// not fail the delivery; the remaining policies' commands still publish.
func (r *Runtime) handleEvent(ctx context.Context, msg stream.Message) error {
	if r.Policies == nil {
		return nil
	}
	delivery, err := msg.EventDelivery()
	if err != nil {
		return err
	}
	commands, evalErr := r.Policies.Evaluate(ctx, delivery.Event.Event())
	if evalErr != nil {
		r.logger().Error("policy evaluation incomplete",
			"event", delivery.Event.EventType, "sequence", delivery.Sequence, "error", evalErr)
	}
	for _, cmd := range commands {
		if err := r.Publisher.PublishCommand(ctx, cmd); err != nil {
			return err
		}
	}
	if len(commands) > 0 {
		r.logger().Info("policies dispatched",
			"event", delivery.Event.EventType, "commands", len(commands))
	}
	return nil
}
