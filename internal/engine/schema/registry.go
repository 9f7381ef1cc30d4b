package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// Migration transforms a payload from one schema version to the next. It
// must be pure: no registry access, no mutation of the input.
type Migration func(event.Payload) (event.Payload, error)

type edge struct {
	to      string
	migrate Migration
}

// Registry maps (event type, version) pairs through migration edges to a
// current canonical shape.
type Registry struct {
	current map[event.Type]string
	edges   map[event.Type]map[string][]edge
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		current: make(map[event.Type]string),
		edges:   make(map[event.Type]map[string][]edge),
	}
}

// RegisterEvent records the current version for an event type. Registering
// the same type twice with a conflicting version fails; re-registering the
// same version is a no-op.
func (r *Registry) RegisterEvent(eventType event.Type, version string) error {
	if r == nil {
		return errors.New(errors.CodeValidation, "schema registry is required")
	}
	eventType = event.Type(strings.TrimSpace(string(eventType)))
	if eventType == "" {
		return errors.New(errors.CodeValidation, "event type is required")
	}
	version = strings.TrimSpace(version)
	if _, err := parseVersion(version); err != nil {
		return err
	}
	if existing, ok := r.current[eventType]; ok {
		if !versionsEqual(existing, version) {
			return errors.WithMetadata(errors.CodeValidation,
				fmt.Sprintf("conflicting current version for %s: %s already registered, got %s", eventType, existing, version),
				map[string]string{"event_type": string(eventType)})
		}
		return nil
	}
	r.current[eventType] = version
	return nil
}

// RegisterMigration adds one directed migration edge for an event type.
// Multiple edges per type and per source version are allowed; the graph
// need not be a simple chain.
func (r *Registry) RegisterMigration(eventType event.Type, from, to string, fn Migration) error {
	if r == nil {
		return errors.New(errors.CodeValidation, "schema registry is required")
	}
	eventType = event.Type(strings.TrimSpace(string(eventType)))
	if eventType == "" {
		return errors.New(errors.CodeValidation, "event type is required")
	}
	if fn == nil {
		return errors.New(errors.CodeValidation, "migration function is required")
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if _, err := parseVersion(from); err != nil {
		return err
	}
	if _, err := parseVersion(to); err != nil {
		return err
	}
	if versionsEqual(from, to) {
		return errors.New(errors.CodeValidation, fmt.Sprintf("migration for %s must change the version, got %s -> %s", eventType, from, to))
	}
	if r.edges[eventType] == nil {
		r.edges[eventType] = make(map[string][]edge)
	}
	key := normalizeVersion(from)
	r.edges[eventType][key] = append(r.edges[eventType][key], edge{to: to, migrate: fn})
	return nil
}

// CurrentVersion returns the registered current version for an event type.
func (r *Registry) CurrentVersion(eventType event.Type) (string, error) {
	if r == nil {
		return "", errors.New(errors.CodeValidation, "schema registry is required")
	}
	version, ok := r.current[event.Type(strings.TrimSpace(string(eventType)))]
	if !ok {
		return "", errors.New(errors.CodeValidation, fmt.Sprintf("event type is not registered: %s", eventType))
	}
	return version, nil
}

// Types returns a stable, sorted snapshot of registered event types.
func (r *Registry) Types() []event.Type {
	if r == nil || len(r.current) == 0 {
		return nil
	}
	types := make([]event.Type, 0, len(r.current))
	for t := range r.current {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func parseVersion(version string) (*semver.Version, error) {
	if version == "" {
		return nil, errors.New(errors.CodeValidation, "version is required")
	}
	parsed, err := semver.NewVersion(version)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, fmt.Sprintf("invalid version: %s", version), err)
	}
	return parsed, nil
}

// normalizeVersion collapses spellings of the same version ("1.0", "1.0.0")
// onto one graph key. Callers validate the version first.
func normalizeVersion(version string) string {
	parsed, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return strings.TrimSpace(version)
	}
	return parsed.String()
}

func versionsEqual(a, b string) bool {
	if a == b {
		return true
	}
	va, err := semver.NewVersion(a)
	if err != nil {
		return false
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return false
	}
	return va.Equal(vb)
}
