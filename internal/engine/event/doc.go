// Package event defines the canonical versioned event envelope and the
// event-type registry used by the write path.
//
// Events are immutable facts emitted by accepted commands. Each event carries
// the schema version of its payload; the payload is opaque to the engine
// beyond the type tag and the embedded version field. The registry enforces
// that only declared event types reach persistence.
//
// A stable event contract is the foundation for replay, schema migration,
// and cross-service consumers that depend on the same semantic names.
package event
