package stream

import (
	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
)

// Message is one fetched transport message, positioned by its stream cursor.
// Sequence is strictly increasing per StreamID.
type Message struct {
	StreamID string
	Sequence uint64
	Subject  string
	// Attempt is the transport-side delivery count, starting at 1.
	Attempt uint64
	Data    []byte
}

// DeliveryEnvelope is the wire contract between the delivery layer and event
// consumers: the stream cursor plus the versioned event envelope.
type DeliveryEnvelope struct {
	StreamID string         `json:"stream_id"`
	Sequence uint64         `json:"sequence"`
	Subject  string         `json:"subject,omitempty"`
	Attempt  uint64         `json:"attempt,omitempty"`
	Event    event.Envelope `json:"event"`
}

// EventDelivery decodes the message payload as an event envelope and wraps
// it with the stream cursor.
func (m Message) EventDelivery() (DeliveryEnvelope, error) {
	envelope, err := event.DecodeEnvelope(m.Data)
	if err != nil {
		return DeliveryEnvelope{}, err
	}
	return DeliveryEnvelope{
		StreamID: m.StreamID,
		Sequence: m.Sequence,
		Subject:  m.Subject,
		Attempt:  m.Attempt,
		Event:    envelope,
	}, nil
}

// Command decodes the message payload as a command.
func (m Message) Command() (command.Command, error) {
	return command.Decode(m.Data)
}
