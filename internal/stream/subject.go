package stream

import (
	"strings"

	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
)

// DefaultDomain is the subject prefix used when none is configured.
const DefaultDomain = "chronicle"

// Subjects derives hierarchical subject names for one domain: commands on
// <domain>.commands.<verb>, events on <domain>.events.<type>, dead letters
// under <domain>.dlq.>.
type Subjects struct {
	Domain string
}

func (s Subjects) domain() string {
	domain := strings.TrimSpace(s.Domain)
	if domain == "" {
		return DefaultDomain
	}
	return strings.ToLower(domain)
}

// Event returns the subject for a committed event type.
func (s Subjects) Event(eventType event.Type) string {
	return s.domain() + ".events." + strings.ToLower(strings.TrimSpace(string(eventType)))
}

// Command returns the subject for a command type, keyed by its verb.
func (s Subjects) Command(cmdType command.Type) string {
	return s.domain() + ".commands." + strings.ToLower(strings.TrimSpace(cmdType.Verb()))
}

// DeadLetter maps an original subject into the domain's dead-letter space.
func (s Subjects) DeadLetter(originalSubject string) string {
	suffix := strings.TrimPrefix(strings.TrimSpace(originalSubject), s.domain()+".")
	if suffix == "" {
		suffix = "unknown"
	}
	return s.domain() + ".dlq." + suffix
}

// EventWildcard matches every event subject in the domain.
func (s Subjects) EventWildcard() string { return s.domain() + ".events.>" }

// CommandWildcard matches every command subject in the domain.
func (s Subjects) CommandWildcard() string { return s.domain() + ".commands.>" }

// DeadLetterWildcard matches every dead-letter subject in the domain.
func (s Subjects) DeadLetterWildcard() string { return s.domain() + ".dlq.>" }

// All returns the subject space owned by the domain, used to provision the
// backing stream.
func (s Subjects) All() string { return s.domain() + ".>" }
