// Package verify implements the chronicle-verify command: it samples recent
// stream messages and checks each against the current event schemas.
package verify

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	"github.com/chronicle-sh/chronicle/internal/engine/schema"
	entrypoint "github.com/chronicle-sh/chronicle/internal/platform/cmd"
	"github.com/chronicle-sh/chronicle/internal/platform/errors"
	"github.com/chronicle-sh/chronicle/internal/platform/logging"
	"github.com/chronicle-sh/chronicle/internal/service"
	"github.com/chronicle-sh/chronicle/internal/stream"
)

// Config holds verify command configuration.
type Config struct {
	Source     string `env:"CHRONICLE_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Stream     string `env:"CHRONICLE_STREAM" envDefault:"CHRONICLE"`
	Domain     string `env:"CHRONICLE_DOMAIN" envDefault:"chronicle"`
	SampleSize int    `env:"CHRONICLE_VERIFY_SAMPLE_SIZE" envDefault:"100"`
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
	fs.IntVar(&cfg.SampleSize, "sample-size", cfg.SampleSize, "Recent messages to sample")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Report aggregates verification outcomes: total counts plus a per-type,
// per-declared-version distribution.
type Report struct {
	Sampled  int
	Passed   int
	Failed   int
	Versions map[event.Type]map[string]int
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{Versions: make(map[event.Type]map[string]int)}
}

// Pass reports whether every sampled message verified cleanly.
func (r *Report) Pass() bool { return r.Failed == 0 }

func (r *Report) record(eventType event.Type, version string) {
	versions, ok := r.Versions[eventType]
	if !ok {
		versions = make(map[string]int)
		r.Versions[eventType] = versions
	}
	versions[version]++
}

// Log writes the distribution and verdict through the logger.
func (r *Report) Log(logger *log.Logger) {
	types := make([]event.Type, 0, len(r.Versions))
	for eventType := range r.Versions {
		types = append(types, eventType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	logger.Info("verification report",
		"sampled", r.Sampled, "passed", r.Passed, "failed", r.Failed)
	for _, eventType := range types {
		versions := make([]string, 0, len(r.Versions[eventType]))
		for version := range r.Versions[eventType] {
			versions = append(versions, version)
		}
		sort.Strings(versions)
		for _, version := range versions {
			logger.Info("distribution",
				"type", eventType, "version", version, "count", r.Versions[eventType][version])
		}
	}
}

// Verifier checks one message at a time against the current schemas.
type Verifier struct {
	Schemas *schema.Registry
}

// Check strict-decodes one raw message: the envelope must carry an explicit
// event type tag, the declared version must be registered or reachable, and
// the payload must migrate cleanly to the current schema.
func (v *Verifier) Check(data []byte, report *Report) {
	report.Sampled++

	envelope, err := event.DecodeEnvelope(data)
	if err != nil {
		report.Failed++
		report.record("unknown", "unknown")
		return
	}
	eventType := event.Type(envelope.EventType)
	report.record(eventType, envelope.Version)

	payload := envelope.Payload
	if payload == nil {
		payload = event.Payload{}
	}
	if _, ok := payload[event.VersionField]; !ok {
		payload[event.VersionField] = envelope.Version
	}
	if _, err := v.Schemas.MigrateToCurrent(eventType, payload); err != nil {
		report.Failed++
		return
	}
	report.Passed++
}

// Run samples the most recent messages and verifies them. A failing sample
// makes the command exit non-zero.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceVerify, func(ctx context.Context) error {
		logger := logging.New(entrypoint.ServiceVerify)
		subjects := stream.Subjects{Domain: cfg.Domain}

		domain, err := service.Person()
		if err != nil {
			return err
		}
		conn, js, err := stream.Connect(cfg.Source, entrypoint.ServiceVerify)
		if err != nil {
			return err
		}
		defer conn.Close()

		verifier := &Verifier{Schemas: domain.Schema}
		report := NewReport()
		err = stream.WalkLast(ctx, js, cfg.Stream, subjects.EventWildcard(), cfg.SampleSize, 0,
			func(_ context.Context, msg stream.Message) error {
				verifier.Check(msg.Data, report)
				return nil
			})
		if err != nil {
			return err
		}
		report.Log(logger)
		if !report.Pass() {
			return errors.New(errors.CodeValidation,
				fmt.Sprintf("verification failed for %d of %d sampled messages", report.Failed, report.Sampled))
		}
		logger.Info("verification passed")
		return nil
	})
}
