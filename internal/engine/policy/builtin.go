package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
)

// followUp builds a command caused by a committed event, joining the event's
// correlation chain.
func followUp(evt event.Event, cmdType command.Type, payload map[string]any) command.Command {
	cmd := command.New(evt.AggregateID, cmdType, payload)
	cmd.CorrelationID = evt.Metadata.CorrelationID
	cmd.CausationID = evt.Metadata.CausationID
	return cmd
}

// WelcomeNotification reacts to aggregate creation with a notification
// command. The counter is observable through Sent for tests and metrics.
type WelcomeNotification struct {
	// CreatedType is the event type that triggers the welcome, for example
	// person.created.
	CreatedType event.Type
	// CommandType is the emitted command type, defaulting to
	// notification.send.
	CommandType command.Type

	mu   sync.Mutex
	sent int
}

// Name implements Policy.
func (p *WelcomeNotification) Name() string { return "welcome-notification" }

// Sent returns how many welcome commands this policy has produced.
func (p *WelcomeNotification) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Evaluate implements Policy.
func (p *WelcomeNotification) Evaluate(_ context.Context, evt event.Event) ([]command.Command, error) {
	if evt.Type != p.CreatedType {
		return nil, nil
	}
	cmdType := p.CommandType
	if cmdType == "" {
		cmdType = "notification.send"
	}
	payload := map[string]any{"template": "welcome_email"}
	if email, ok := evt.Payload["email"].(string); ok && email != "" {
		payload["email"] = email
	}

	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
	return []command.Command{followUp(evt, cmdType, payload)}, nil
}

// DataNormalization compares identifying fields against their canonical
// form and emits an update command when they differ. Email is canonically
// lower-cased and trimmed.
type DataNormalization struct {
	// CommandType is the emitted update command type, defaulting to
	// person.update_contact.
	CommandType command.Type
}

// Name implements Policy.
func (p *DataNormalization) Name() string { return "data-normalization" }

// Evaluate implements Policy.
func (p *DataNormalization) Evaluate(_ context.Context, evt event.Event) ([]command.Command, error) {
	email, ok := evt.Payload["email"].(string)
	if !ok || email == "" {
		return nil, nil
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == email {
		return nil, nil
	}
	cmdType := p.CommandType
	if cmdType == "" {
		cmdType = "person.update_contact"
	}
	return []command.Command{followUp(evt, cmdType, map[string]any{"email": normalized})}, nil
}

// SkillRecommendation derives skill recommendations from a structured
// skills profile: one command per listed language.
type SkillRecommendation struct {
	// CommandType is the emitted command type, defaulting to
	// recommendation.add.
	CommandType command.Type
}

// Name implements Policy.
func (p *SkillRecommendation) Name() string { return "skill-recommendation" }

// Evaluate implements Policy.
func (p *SkillRecommendation) Evaluate(_ context.Context, evt event.Event) ([]command.Command, error) {
	languages, ok := evt.Payload["languages"].([]any)
	if !ok || len(languages) == 0 {
		return nil, nil
	}
	cmdType := p.CommandType
	if cmdType == "" {
		cmdType = "recommendation.add"
	}
	var commands []command.Command
	for _, raw := range languages {
		language, ok := raw.(string)
		if !ok || strings.TrimSpace(language) == "" {
			continue
		}
		skill := fmt.Sprintf("%s programming", strings.TrimSpace(language))
		commands = append(commands, followUp(evt, cmdType, map[string]any{
			"skill":    skill,
			"language": strings.TrimSpace(language),
		}))
	}
	return commands, nil
}
