package command

import (
	"errors"
	"testing"
	"time"

	platformerrors "github.com/chronicle-sh/chronicle/internal/platform/errors"
)

func TestTypeVerb(t *testing.T) {
	if got := Type("person.create").Verb(); got != "create" {
		t.Fatalf("expected create, got %s", got)
	}
	if got := Type("merge").Verb(); got != "merge" {
		t.Fatalf("expected merge, got %s", got)
	}
}

func TestNewGeneratesIDAndTimestamp(t *testing.T) {
	cmd := New("person-1", Type("person.create"), map[string]any{"first_name": "John"})
	if cmd.ID == "" {
		t.Fatal("expected generated command id")
	}
	if cmd.IssuedAt.IsZero() {
		t.Fatal("expected issued timestamp")
	}
}

func TestEventMetadataJoinsCorrelationChain(t *testing.T) {
	now := time.Now().UTC()

	cmd := New("person-1", Type("person.create"), nil)
	meta := cmd.EventMetadata(now)
	if meta.CorrelationID != cmd.ID {
		t.Fatalf("expected command id as correlation root, got %s", meta.CorrelationID)
	}
	if meta.CausationID != cmd.ID {
		t.Fatalf("expected command id as causation, got %s", meta.CausationID)
	}

	cmd.CorrelationID = "corr-1"
	meta = cmd.EventMetadata(now)
	if meta.CorrelationID != "corr-1" {
		t.Fatalf("expected inherited correlation id, got %s", meta.CorrelationID)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cmd := New("person-1", Type("person.create"), map[string]any{"first_name": "John"})
	data, err := cmd.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != cmd.ID || decoded.Type != cmd.Type || decoded.AggregateID != cmd.AggregateID {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if decoded.Payload["first_name"] != "John" {
		t.Fatalf("payload lost: %+v", decoded.Payload)
	}
}

func TestDecodeRequiresType(t *testing.T) {
	_, err := Decode([]byte(`{"aggregate_id":"person-1"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if platformerrors.CodeOf(err) != platformerrors.CodeSerialization {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestRegistryValidateForHandle(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{Type: Type("person.create"), Mutating: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	cmd := Command{AggregateID: " person-1 ", Type: Type(" person.create ")}
	validated, err := registry.ValidateForHandle(cmd)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.AggregateID != "person-1" {
		t.Fatalf("expected trimmed aggregate id, got %q", validated.AggregateID)
	}
	if validated.Payload == nil {
		t.Fatal("expected empty payload to be initialized")
	}
}

func TestRegistryValidateForHandleUnknownType(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.ValidateForHandle(Command{AggregateID: "person-1", Type: Type("person.unknown")})
	if err == nil {
		t.Fatal("expected error")
	}
	if platformerrors.CodeOf(err) != platformerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegistryValidateForHandleMissingAggregateID(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.ValidateForHandle(Command{Type: Type("person.create")})
	if err == nil {
		t.Fatal("expected error")
	}
	if platformerrors.CodeOf(err) != platformerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegistryRunsPayloadValidator(t *testing.T) {
	registry := NewRegistry()
	wantErr := errors.New("first name is required")
	if err := registry.Register(Definition{
		Type:     Type("person.create"),
		Mutating: true,
		ValidatePayload: func(p map[string]any) error {
			if _, ok := p["first_name"]; !ok {
				return wantErr
			}
			return nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := registry.ValidateForHandle(Command{AggregateID: "person-1", Type: Type("person.create")})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected validator error, got %v", err)
	}
}

func TestMutatingDefaultsClosedForUnknown(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Definition{Type: Type("person.read"), Mutating: false}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if registry.Mutating(Type("person.read")) {
		t.Fatal("expected read command to be non-mutating")
	}
	if !registry.Mutating(Type("person.unknown")) {
		t.Fatal("expected unknown command to default to mutating")
	}
}
