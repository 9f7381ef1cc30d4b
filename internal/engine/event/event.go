package event

import (
	"time"

	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// VersionField is the payload field carrying the schema version.
const VersionField = "version"

// Type identifies the event type string.
type Type string

// Payload is the opaque structured payload of an event. The engine never
// inspects it beyond the embedded version field.
type Payload map[string]any

// Version reads the schema version embedded in the payload.
func (p Payload) Version() (string, error) {
	if p == nil {
		return "", errors.New(errors.CodeSerialization, "payload is required")
	}
	raw, ok := p[VersionField]
	if !ok {
		return "", errors.New(errors.CodeSerialization, "payload version field is missing")
	}
	version, ok := raw.(string)
	if !ok || version == "" {
		return "", errors.New(errors.CodeSerialization, "payload version field must be a non-empty string")
	}
	return version, nil
}

// Clone returns a deep copy of the payload. Migrations operate on copies so
// a failed chain never leaves a partially migrated payload behind.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = cloneValue(item)
		}
		return out
	case Payload:
		return map[string]any(tv.Clone())
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Metadata carries correlation and provenance fields for an event.
type Metadata struct {
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	Timestamp     time.Time `json:"timestamp"`
	OriginVersion string    `json:"origin_version,omitempty"`
}

// Event is a versioned domain event scoped to a single aggregate.
//
// Seq is the per-aggregate sequence number, assigned by the event store on
// append; it is zero until the event is persisted.
type Event struct {
	AggregateID string
	Type        Type
	Version     string
	Seq         uint64
	Payload     Payload
	Metadata    Metadata
}
