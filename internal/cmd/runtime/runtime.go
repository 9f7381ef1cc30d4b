// Package runtime parses runtime command flags and launches the chronicle
// service loop.
package runtime

import (
	"context"
	"flag"
	"time"

	"github.com/chronicle-sh/chronicle/internal/engine/repository"
	entrypoint "github.com/chronicle-sh/chronicle/internal/platform/cmd"
	"github.com/chronicle-sh/chronicle/internal/platform/logging"
	"github.com/chronicle-sh/chronicle/internal/service"
	"github.com/chronicle-sh/chronicle/internal/storage/sqlite"
	"github.com/chronicle-sh/chronicle/internal/stream"
)

// Config holds runtime command configuration.
type Config struct {
	NATSURL           string        `env:"CHRONICLE_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Stream            string        `env:"CHRONICLE_STREAM" envDefault:"CHRONICLE"`
	Domain            string        `env:"CHRONICLE_DOMAIN" envDefault:"chronicle"`
	DBPath            string        `env:"CHRONICLE_DB_PATH" envDefault:"data/chronicle.db"`
	SnapshotFrequency int           `env:"CHRONICLE_SNAPSHOT_FREQUENCY" envDefault:"20"`
	MaxAttempts       int           `env:"CHRONICLE_MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff      time.Duration `env:"CHRONICLE_RETRY_BACKOFF" envDefault:"200ms"`
	RetryMaxDelay     time.Duration `env:"CHRONICLE_RETRY_MAX_DELAY" envDefault:"30s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "The NATS server URL")
	fs.StringVar(&cfg.Stream, "stream", cfg.Stream, "The JetStream stream name")
	fs.StringVar(&cfg.Domain, "domain", cfg.Domain, "The subject domain prefix")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The SQLite event store path")
	fs.IntVar(&cfg.SnapshotFrequency, "snapshot-frequency", cfg.SnapshotFrequency, "Committed events between snapshots")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum processing attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the chronicle runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRuntime, func(ctx context.Context) error {
		logger := logging.New(entrypoint.ServiceRuntime)

		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		conn, js, err := stream.Connect(cfg.NATSURL, entrypoint.ServiceRuntime)
		if err != nil {
			return err
		}
		defer conn.Close()

		domain, err := service.Person()
		if err != nil {
			return err
		}

		runtime := &service.Runtime{
			Repository: &repository.Repository{
				Events:            store,
				Snapshots:         store,
				Schema:            domain.Schema,
				EventTypes:        domain.Events,
				Applier:           domain.Applier,
				NewState:          domain.NewState,
				SnapshotFrequency: cfg.SnapshotFrequency,
			},
			Commands:   domain.Commands,
			Decider:    domain.Decider,
			Policies:   domain.Policies,
			Publisher:  stream.NewPublisher(js, stream.Subjects{Domain: cfg.Domain}),
			JS:         js,
			Subjects:   stream.Subjects{Domain: cfg.Domain},
			StreamName: cfg.Stream,
			Retry: stream.RetryPolicy{
				MaxAttempts:  cfg.MaxAttempts,
				InitialDelay: cfg.RetryBackoff,
				MaxDelay:     cfg.RetryMaxDelay,
			},
			Logger: logger,
		}
		return runtime.Run(ctx)
	})
}
