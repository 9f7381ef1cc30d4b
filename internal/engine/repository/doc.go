// Package repository loads and saves aggregates as a snapshot plus an event
// tail, with optimistic concurrency on append.
//
// Load reconstructs an aggregate by folding the migrated event tail onto the
// latest snapshot (or empty initial state). Save appends events conditioned
// on the version observed at load time; a conflict is surfaced to the caller,
// who owns the retry decision. Handle composes load, lifecycle gating, the
// decider, and save into the command-handling path.
//
// The core correctness property: a snapshot at version K plus the tail from
// K+1 reconstructs state identical to a full replay from version 0.
package repository
