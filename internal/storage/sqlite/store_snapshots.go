package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	platformerrors "github.com/chronicle-sh/chronicle/internal/platform/errors"
	"github.com/chronicle-sh/chronicle/internal/storage"
)

// Latest returns the newest snapshot for the aggregate id.
func (s *Store) Latest(ctx context.Context, aggregateID string) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Snapshot{}, fmt.Errorf("storage is not configured")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return storage.Snapshot{}, platformerrors.New(platformerrors.CodeValidation, "aggregate id is required")
	}

	var (
		snapshot storage.Snapshot
		version  int64
		state    string
		takenAt  int64
	)
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT aggregate_id, version, state, taken_at FROM snapshots WHERE aggregate_id = ?`, aggregateID)
	if err := row.Scan(&snapshot.AggregateID, &version, &state, &takenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Snapshot{}, storage.ErrNotFound
		}
		return storage.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	snapshot.Version = uint64(version)
	snapshot.State = []byte(state)
	snapshot.TakenAt = fromMillis(takenAt)
	return snapshot, nil
}

// Save persists a snapshot, replacing any older one for the same id.
func (s *Store) Save(ctx context.Context, snapshot storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	aggregateID := strings.TrimSpace(snapshot.AggregateID)
	if aggregateID == "" {
		return platformerrors.New(platformerrors.CodeValidation, "aggregate id is required")
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, version, state, taken_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			taken_at = excluded.taken_at`,
		aggregateID, int64(snapshot.Version), string(snapshot.State), toMillis(snapshot.TakenAt),
	); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
