package command

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
	"github.com/chronicle-sh/chronicle/internal/platform/id"
)

// Type identifies the command type string.
type Type string

// Verb returns the last dot-segment of the type, used for subject routing.
func (t Type) Verb() string {
	s := string(t)
	if i := strings.LastIndex(s, "."); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Command captures the canonical command envelope.
type Command struct {
	ID            string         `json:"command_id"`
	AggregateID   string         `json:"aggregate_id"`
	Type          Type           `json:"command_type"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CausationID   string         `json:"causation_id,omitempty"`
	IssuedAt      time.Time      `json:"issued_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// New creates a command with a generated id and timestamp.
func New(aggregateID string, cmdType Type, payload map[string]any) Command {
	return Command{
		ID:          id.New(),
		AggregateID: aggregateID,
		Type:        cmdType,
		IssuedAt:    time.Now().UTC(),
		Payload:     payload,
	}
}

// EventMetadata derives event metadata from the command: the event joins the
// command's correlation chain and is caused by the command itself.
func (c Command) EventMetadata(now time.Time) event.Metadata {
	correlation := c.CorrelationID
	if correlation == "" {
		correlation = c.ID
	}
	return event.Metadata{
		CorrelationID: correlation,
		CausationID:   c.ID,
		Timestamp:     now,
	}
}

// Encode marshals the command to JSON.
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSerialization, "encode command", err)
	}
	return data, nil
}

// Decode unmarshals and validates a command from wire bytes.
func Decode(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, errors.Wrap(errors.CodeSerialization, "decode command", err)
	}
	cmd.Type = Type(strings.TrimSpace(string(cmd.Type)))
	if cmd.Type == "" {
		return Command{}, errors.New(errors.CodeSerialization, "command is missing command_type")
	}
	if cmd.ID == "" {
		cmd.ID = id.New()
	}
	return cmd, nil
}
