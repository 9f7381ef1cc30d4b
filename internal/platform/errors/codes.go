// Package errors provides structured error handling for the runtime.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeValidation indicates a bad command, an illegal lifecycle
	// transition, or an unregistered event type or migration.
	CodeValidation Code = "VALIDATION"
	// CodeSerialization indicates a malformed payload or a missing required field.
	CodeSerialization Code = "SERIALIZATION"
	// CodeConcurrencyConflict indicates a version mismatch on save. Always
	// retryable by reloading the aggregate.
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	// CodeInvalidTransition indicates a state machine guard rejection or a
	// missing transition.
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	// CodeNoMigrationPath indicates the version registry cannot reach the
	// target version from the payload's version.
	CodeNoMigrationPath Code = "NO_MIGRATION_PATH"
	// CodeDeliveryExhausted indicates the retry budget for a delivery was
	// consumed and the message was dead-lettered.
	CodeDeliveryExhausted Code = "DELIVERY_EXHAUSTED"
	// CodeNotFound indicates a missing stored record.
	CodeNotFound Code = "NOT_FOUND"
)

// Retryable reports whether an operation failing with this code may succeed
// when repeated by the caller after a fresh read.
func (c Code) Retryable() bool {
	return c == CodeConcurrencyConflict
}
