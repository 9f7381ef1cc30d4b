package event

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/chronicle-sh/chronicle/internal/platform/errors"
	"github.com/chronicle-sh/chronicle/internal/platform/id"
)

// Envelope is the JSON wire form of a versioned event, carrying a generated
// event id in addition to the event fields.
//
// The event type tag is explicit on the wire; consumers never infer the type
// from payload shape.
type Envelope struct {
	EventID     string   `json:"event_id"`
	EventType   string   `json:"event_type"`
	Version     string   `json:"version"`
	AggregateID string   `json:"aggregate_id,omitempty"`
	Sequence    uint64   `json:"sequence,omitempty"`
	Payload     Payload  `json:"payload"`
	Metadata    Metadata `json:"metadata"`
}

// NewEnvelope wraps an event for the wire, generating a fresh event id.
func NewEnvelope(evt Event) Envelope {
	meta := evt.Metadata
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	return Envelope{
		EventID:     id.New(),
		EventType:   string(evt.Type),
		Version:     evt.Version,
		AggregateID: evt.AggregateID,
		Sequence:    evt.Seq,
		Payload:     evt.Payload.Clone(),
		Metadata:    meta,
	}
}

// Event converts the envelope back into an event.
func (e Envelope) Event() Event {
	return Event{
		AggregateID: e.AggregateID,
		Type:        Type(e.EventType),
		Version:     e.Version,
		Seq:         e.Sequence,
		Payload:     e.Payload,
		Metadata:    e.Metadata,
	}
}

// Encode marshals the envelope to JSON.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSerialization, "encode event envelope", err)
	}
	return data, nil
}

// DecodeEnvelope unmarshals and validates an envelope from wire bytes.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, errors.Wrap(errors.CodeSerialization, "decode event envelope", err)
	}
	envelope.EventType = strings.TrimSpace(envelope.EventType)
	if envelope.EventType == "" {
		return Envelope{}, errors.New(errors.CodeSerialization, "event envelope is missing event_type")
	}
	if strings.TrimSpace(envelope.Version) == "" {
		return Envelope{}, errors.New(errors.CodeSerialization, "event envelope is missing version")
	}
	return envelope, nil
}
