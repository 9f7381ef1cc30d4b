// Package schema tracks event payload schema versions and migrates
// historical payloads forward to the current shape.
//
// The registry holds a current-version table per event type plus a directed
// graph of migration edges. Migration walks a deterministic first-found path
// from the payload's declared version to the target, applying each edge's
// pure migration function in order. A visited-version set guarantees
// termination on malformed cyclic graphs.
//
// Migration never mutates the registry or the input payload; every walk
// operates on a deep copy, so a failed chain leaves no partial result.
package schema
