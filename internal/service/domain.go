package service

import (
	"fmt"

	"github.com/chronicle-sh/chronicle/internal/engine/aggregate"
	"github.com/chronicle-sh/chronicle/internal/engine/command"
	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/lifecycle"
	"github.com/chronicle-sh/chronicle/internal/engine/policy"
	"github.com/chronicle-sh/chronicle/internal/engine/repository"
	"github.com/chronicle-sh/chronicle/internal/engine/schema"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// Domain bundles the registries, fold logic, and policies of one bounded
// context. Built once at startup and passed into the runtime and CLIs.
type Domain struct {
	Schema   *schema.Registry
	Events   *event.Registry
	Commands *command.Registry
	Applier  aggregate.Applier
	NewState func() any
	Decider  repository.Decider
	Policies *policy.Engine
}

// Person is the reference domain: a person aggregate with schema history on
// its created event and the default policy set.
//
// person.created moved 1.0.0 -> 2.0.0 when middle_name was added; the
// migration injects a nil middle_name into historical payloads.
func Person() (*Domain, error) {
	schemas := schema.NewRegistry()
	for eventType, version := range map[event.Type]string{
		"person.created":           "2.0.0",
		"person.renamed":           "1.0.0",
		"person.contact_updated":   "1.0.0",
		"person.skills_added":      "1.0.0",
		lifecycle.EventDeactivated: "1.0.0",
		lifecycle.EventActivated:   "1.0.0",
		lifecycle.EventMerged:      "1.0.0",
		lifecycle.EventDeceased:    "1.0.0",
	} {
		if err := schemas.RegisterEvent(eventType, version); err != nil {
			return nil, err
		}
	}
	err := schemas.RegisterMigration("person.created", "1.0.0", "2.0.0", func(payload event.Payload) (event.Payload, error) {
		if _, ok := payload["middle_name"]; !ok {
			payload["middle_name"] = nil
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}

	events := event.NewRegistry()
	definitions := []event.Definition{
		{Type: "person.created", ValidatePayload: func(payload event.Payload) error {
			if _, ok := payload["first_name"].(string); !ok {
				return fmt.Errorf("first_name is required")
			}
			return nil
		}},
		{Type: "person.renamed"},
		{Type: "person.contact_updated"},
		{Type: "person.skills_added"},
	}
	for _, def := range definitions {
		if err := events.Register(def); err != nil {
			return nil, err
		}
	}
	if err := lifecycle.RegisterEvents(events); err != nil {
		return nil, err
	}

	commands := command.NewRegistry()
	commandDefinitions := []command.Definition{
		{Type: "person.create", Mutating: true, ValidatePayload: func(payload map[string]any) error {
			if name, _ := payload["first_name"].(string); name == "" {
				return fmt.Errorf("first_name is required")
			}
			return nil
		}},
		{Type: "person.rename", Mutating: true},
		{Type: "person.update_contact", Mutating: true},
		{Type: "person.add_skills", Mutating: true},
		{Type: "notification.send", Mutating: false},
		{Type: "recommendation.add", Mutating: false},
	}
	for _, def := range commandDefinitions {
		if err := commands.Register(def); err != nil {
			return nil, err
		}
	}
	if err := lifecycle.RegisterCommands(commands); err != nil {
		return nil, err
	}

	policies := policy.NewEngine()
	for _, p := range []policy.Policy{
		&policy.WelcomeNotification{CreatedType: "person.created"},
		&policy.DataNormalization{CommandType: "person.update_contact"},
		&policy.SkillRecommendation{CommandType: "recommendation.add"},
	} {
		if err := policies.Register(p); err != nil {
			return nil, err
		}
	}

	return &Domain{
		Schema:   schemas,
		Events:   events,
		Commands: commands,
		Applier:  aggregate.ApplierFunc(applyPerson),
		NewState: func() any { return &PersonState{} },
		Decider:  repository.DeciderFunc(decidePerson),
		Policies: policies,
	}, nil
}

// PersonState is the folded projection of a person aggregate.
type PersonState struct {
	FirstName  string   `json:"first_name"`
	MiddleName string   `json:"middle_name,omitempty"`
	LastName   string   `json:"last_name"`
	Email      string   `json:"email,omitempty"`
	Languages  []string `json:"languages,omitempty"`
}

func applyPerson(state any, evt event.Event) (any, error) {
	person, ok := state.(*PersonState)
	if !ok || person == nil {
		person = &PersonState{}
	}
	switch evt.Type {
	case "person.created":
		person.FirstName, _ = evt.Payload["first_name"].(string)
		person.MiddleName, _ = evt.Payload["middle_name"].(string)
		person.LastName, _ = evt.Payload["last_name"].(string)
		person.Email, _ = evt.Payload["email"].(string)
	case "person.renamed":
		if name, ok := evt.Payload["first_name"].(string); ok && name != "" {
			person.FirstName = name
		}
		if name, ok := evt.Payload["last_name"].(string); ok && name != "" {
			person.LastName = name
		}
	case "person.contact_updated":
		person.Email, _ = evt.Payload["email"].(string)
	case "person.skills_added":
		if languages, ok := evt.Payload["languages"].([]any); ok {
			for _, raw := range languages {
				if language, ok := raw.(string); ok {
					person.Languages = append(person.Languages, language)
				}
			}
		}
	default:
		return nil, errors.New(errors.CodeValidation,
			fmt.Sprintf("unhandled event type: %s", evt.Type))
	}
	return person, nil
}

func decidePerson(root aggregate.Root, cmd command.Command) ([]event.Event, error) {
	person, _ := root.State.(*PersonState)
	switch cmd.Type {
	case "person.create":
		if root.Version > 0 {
			return nil, errors.New(errors.CodeValidation,
				fmt.Sprintf("person %s already exists", root.ID))
		}
		return []event.Event{{
			Type: "person.created",
			Payload: event.Payload{
				"first_name":  cmd.Payload["first_name"],
				"middle_name": cmd.Payload["middle_name"],
				"last_name":   cmd.Payload["last_name"],
				"email":       cmd.Payload["email"],
			},
		}}, nil
	case "person.rename":
		return []event.Event{{
			Type: "person.renamed",
			Payload: event.Payload{
				"first_name": cmd.Payload["first_name"],
				"last_name":  cmd.Payload["last_name"],
			},
		}}, nil
	case "person.update_contact":
		email, _ := cmd.Payload["email"].(string)
		if person != nil && person.Email == email {
			// Already canonical, nothing to commit.
			return nil, nil
		}
		return []event.Event{{
			Type:    "person.contact_updated",
			Payload: event.Payload{"email": email},
		}}, nil
	case "person.add_skills":
		return []event.Event{{
			Type:    "person.skills_added",
			Payload: event.Payload{"languages": cmd.Payload["languages"]},
		}}, nil
	case "notification.send", "recommendation.add":
		// Side-effect commands consumed by downstream services; no events.
		return nil, nil
	}
	return nil, errors.New(errors.CodeValidation,
		fmt.Sprintf("no decider for command type: %s", cmd.Type))
}
