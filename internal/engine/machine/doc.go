// Package machine provides a generic guarded state machine for lifecycle
// and workflow transitions.
//
// A Builder accumulates transitions, guards, and enter/exit hooks into an
// immutable Table. Instances share the table and own only the current state;
// a command either commits exactly one transition or leaves the state
// untouched. Guards are pure predicates evaluated in registration order; a
// guard rejection message propagates as the command's error.
package machine
