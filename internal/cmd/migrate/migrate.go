// Package migrate implements the chronicle-migrate command: it walks every
// event in a stream, migrates payloads to their current schema version, and
// republishes the changed ones.
package migrate

import (
	"context"
	"flag"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/schema"
	entrypoint "github.com/chronicle-sh/chronicle/internal/platform/cmd"
	"github.com/chronicle-sh/chronicle/internal/platform/logging"
	"github.com/chronicle-sh/chronicle/internal/service"
	"github.com/chronicle-sh/chronicle/internal/stream"
)

// Config holds migrate command configuration.
type Config struct {
	Source    string `env:"CHRONICLE_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Stream    string `env:"CHRONICLE_STREAM" envDefault:"CHRONICLE"`
	Domain    string `env:"CHRONICLE_DOMAIN" envDefault:"chronicle"`
	BatchSize int    `env:"CHRONICLE_MIGRATE_BATCH_SIZE" envDefault:"64"`
	DryRun    bool   `env:"CHRONICLE_MIGRATE_DRY_RUN" envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Source, "source", cfg.Source, "The source NATS server URL")
	fs.StringVar(&cfg.Stream, "stream", cfg.Stream, "The JetStream stream name")
	fs.StringVar(&cfg.Domain, "domain", cfg.Domain, "The subject domain prefix")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Messages fetched per pull")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Report without republishing")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// TypeCounts aggregates outcomes for one event type.
type TypeCounts struct {
	Migrated int
	Current  int
	Errors   int
}

// Report aggregates migration outcomes grouped by event type.
type Report struct {
	Scanned int
	ByType  map[event.Type]*TypeCounts
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{ByType: make(map[event.Type]*TypeCounts)}
}

func (r *Report) counts(eventType event.Type) *TypeCounts {
	counts, ok := r.ByType[eventType]
	if !ok {
		counts = &TypeCounts{}
		r.ByType[eventType] = counts
	}
	return counts
}

// Log writes the report through the logger, one line per event type.
func (r *Report) Log(logger *log.Logger) {
	types := make([]event.Type, 0, len(r.ByType))
	for eventType := range r.ByType {
		types = append(types, eventType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	logger.Info("migration report", "scanned", r.Scanned)
	for _, eventType := range types {
		counts := r.ByType[eventType]
		logger.Info("event type",
			"type", eventType,
			"migrated", counts.Migrated,
			"current", counts.Current,
			"errors", counts.Errors)
	}
}

// Migrator migrates one message at a time. Publish is called for changed
// envelopes unless DryRun is set; nil Publish with DryRun unset is invalid.
type Migrator struct {
	Schemas *schema.Registry
	DryRun  bool
	Publish func(ctx context.Context, subject string, envelope event.Envelope) error
}

// Process migrates one raw message and records the outcome. The event type
// comes from the envelope's explicit tag; untagged payloads count as errors.
// Per-item failures never abort the batch.
func (m *Migrator) Process(ctx context.Context, subject string, data []byte, report *Report) {
	report.Scanned++

	envelope, err := event.DecodeEnvelope(data)
	if err != nil {
		report.counts("unknown").Errors++
		return
	}
	eventType := event.Type(envelope.EventType)
	counts := report.counts(eventType)

	payload := envelope.Payload
	if payload == nil {
		payload = event.Payload{}
	}
	if _, ok := payload[event.VersionField]; !ok {
		payload[event.VersionField] = envelope.Version
	}
	migrated, err := m.Schemas.MigrateToCurrent(eventType, payload)
	if err != nil {
		counts.Errors++
		return
	}

	newVersion, _ := migrated[event.VersionField].(string)
	if newVersion == "" || newVersion == envelope.Version {
		counts.Current++
		return
	}

	if !m.DryRun {
		republished := envelope
		republished.Version = newVersion
		republished.Payload = migrated
		if envelope.Version != "" && republished.Metadata.OriginVersion == "" {
			republished.Metadata.OriginVersion = envelope.Version
		}
		if err := m.Publish(ctx, subject, republished); err != nil {
			counts.Errors++
			return
		}
	}
	counts.Migrated++
}

// Run reads the whole stream once and migrates every event message.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMigrate, func(ctx context.Context) error {
		logger := logging.New(entrypoint.ServiceMigrate)
		subjects := stream.Subjects{Domain: cfg.Domain}

		domain, err := service.Person()
		if err != nil {
			return err
		}
		conn, js, err := stream.Connect(cfg.Source, entrypoint.ServiceMigrate)
		if err != nil {
			return err
		}
		defer conn.Close()

		migrator := &Migrator{
			Schemas: domain.Schema,
			DryRun:  cfg.DryRun,
			Publish: func(ctx context.Context, subject string, envelope event.Envelope) error {
				data, err := envelope.Encode()
				if err != nil {
					return err
				}
				_, err = js.Publish(ctx, subject, data)
				return err
			},
		}

		report := NewReport()
		err = stream.Walk(ctx, js, cfg.Stream, subjects.EventWildcard(), cfg.BatchSize,
			func(ctx context.Context, msg stream.Message) error {
				migrator.Process(ctx, msg.Subject, msg.Data, report)
				return nil
			})
		if err != nil {
			return err
		}
		report.Log(logger)
		if cfg.DryRun {
			logger.Info("dry run: nothing republished")
		}
		return nil
	})
}
