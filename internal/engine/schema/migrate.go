package schema

import (
	"fmt"
	"strings"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// MigrateToCurrent migrates a payload to the registered current version for
// its event type. Payloads already at the current version are returned
// unchanged.
func (r *Registry) MigrateToCurrent(eventType event.Type, payload event.Payload) (event.Payload, error) {
	target, err := r.CurrentVersion(eventType)
	if err != nil {
		return nil, err
	}
	return r.Migrate(eventType, payload, target)
}

// Migrate migrates a payload to an explicit target version, walking the
// first-found path of registered edges in registration order.
func (r *Registry) Migrate(eventType event.Type, payload event.Payload, target string) (event.Payload, error) {
	if r == nil {
		return nil, errors.New(errors.CodeValidation, "schema registry is required")
	}
	eventType = event.Type(strings.TrimSpace(string(eventType)))
	if _, ok := r.current[eventType]; !ok {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("event type is not registered: %s", eventType))
	}
	target = strings.TrimSpace(target)
	if _, err := parseVersion(target); err != nil {
		return nil, err
	}
	from, err := payload.Version()
	if err != nil {
		return nil, err
	}
	if versionsEqual(from, target) {
		return payload, nil
	}

	path := findPath(r.edges[eventType], from, target)
	if path == nil {
		return nil, errors.WithMetadata(errors.CodeNoMigrationPath,
			fmt.Sprintf("no migration path for %s from %s to %s", eventType, from, target),
			map[string]string{"event_type": string(eventType), "from": from, "to": target})
	}

	migrated := payload.Clone()
	for _, step := range path {
		next, err := step.migrate(migrated)
		if err != nil {
			return nil, errors.Wrap(errors.CodeValidation,
				fmt.Sprintf("migration failed for %s at %s", eventType, step.to), err)
		}
		if next == nil {
			return nil, errors.New(errors.CodeValidation,
				fmt.Sprintf("migration for %s to %s returned no payload", eventType, step.to))
		}
		migrated = next
		migrated[event.VersionField] = step.to
	}
	return migrated, nil
}

// findPath runs a depth-first search over the migration edges, preferring
// edges in registration order. The visited set makes cyclic graphs fail
// deterministically instead of looping.
func findPath(edges map[string][]edge, from, target string) []edge {
	start := normalizeVersion(from)
	visited := map[string]bool{start: true}
	return searchPath(edges, start, target, visited)
}

func searchPath(edges map[string][]edge, from, target string, visited map[string]bool) []edge {
	for _, candidate := range edges[from] {
		if versionsEqual(candidate.to, target) {
			return []edge{candidate}
		}
		next := normalizeVersion(candidate.to)
		if visited[next] {
			continue
		}
		visited[next] = true
		if rest := searchPath(edges, next, target, visited); rest != nil {
			return append([]edge{candidate}, rest...)
		}
	}
	return nil
}
