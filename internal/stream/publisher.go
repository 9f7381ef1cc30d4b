package stream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
)

// Dead-letter headers recorded on forwarded messages.
const (
	headerDLQReason     = "Chronicle-Dlq-Reason"
	headerDLQAttempts   = "Chronicle-Dlq-Attempts"
	headerSourceSubject = "Chronicle-Source-Subject"
	headerDedupe        = "Nats-Msg-Id"
)

// Publisher writes events and commands onto the domain's subjects. The
// message id header deduplicates redundant publishes within the server's
// dedupe window.
type Publisher struct {
	js       jetstream.JetStream
	subjects Subjects
}

// NewPublisher creates a publisher over a JetStream context.
func NewPublisher(js jetstream.JetStream, subjects Subjects) *Publisher {
	return &Publisher{js: js, subjects: subjects}
}

// PublishEvent wraps a committed event in a wire envelope and publishes it
// on its event subject. The generated event id is returned for correlation.
func (p *Publisher) PublishEvent(ctx context.Context, evt event.Event) (string, error) {
	if p == nil || p.js == nil {
		return "", fmt.Errorf("publisher is not connected")
	}
	envelope := event.NewEnvelope(evt)
	data, err := envelope.Encode()
	if err != nil {
		return "", err
	}
	msg := &nats.Msg{
		Subject: p.subjects.Event(evt.Type),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(headerDedupe, envelope.EventID)
	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return "", fmt.Errorf("publish event %s: %w", evt.Type, err)
	}
	return envelope.EventID, nil
}

// PublishCommand publishes a command on its verb subject.
func (p *Publisher) PublishCommand(ctx context.Context, cmd command.Command) error {
	if p == nil || p.js == nil {
		return fmt.Errorf("publisher is not connected")
	}
	data, err := cmd.Encode()
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: p.subjects.Command(cmd.Type),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(headerDedupe, cmd.ID)
	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish command %s: %w", cmd.Type, err)
	}
	return nil
}

// ForwardDeadLetter republishes an exhausted message, unchanged, into the
// dead-letter subject space with headers describing the failure.
func (p *Publisher) ForwardDeadLetter(ctx context.Context, original Message, reason string, attempts int) error {
	if p == nil || p.js == nil {
		return fmt.Errorf("publisher is not connected")
	}
	msg := &nats.Msg{
		Subject: p.subjects.DeadLetter(original.Subject),
		Data:    original.Data,
		Header:  nats.Header{},
	}
	msg.Header.Set(headerDLQReason, reason)
	msg.Header.Set(headerDLQAttempts, strconv.Itoa(attempts))
	msg.Header.Set(headerSourceSubject, original.Subject)
	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("forward dead letter from %s: %w", original.Subject, err)
	}
	return nil
}
