package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/chronicle-sh/chronicle/internal/engine/event"
	platformerrors "github.com/chronicle-sh/chronicle/internal/platform/errors"
	"github.com/chronicle-sh/chronicle/internal/storage"
)

// Append atomically appends events conditioned on the current head sequence.
func (s *Store) Append(ctx context.Context, aggregateID string, expected uint64, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, platformerrors.New(platformerrors.CodeValidation, "aggregate id is required")
	}
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var head uint64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE aggregate_id = ?`, aggregateID)
	if err := row.Scan(&head); err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}
	if head != expected {
		return nil, storage.ErrConcurrencyConflict
	}

	appended := make([]event.Event, 0, len(events))
	for i, evt := range events {
		evt.AggregateID = aggregateID
		evt.Seq = head + uint64(i) + 1
		if evt.Metadata.Timestamp.IsZero() {
			evt.Metadata.Timestamp = time.Now().UTC()
		}
		evt.Metadata.Timestamp = evt.Metadata.Timestamp.UTC().Truncate(time.Millisecond)

		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.CodeSerialization, "encode payload", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (aggregate_id, seq, event_type, version, payload, correlation_id, causation_id, origin_version, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.AggregateID, int64(evt.Seq), string(evt.Type), evt.Version, string(payload),
			evt.Metadata.CorrelationID, evt.Metadata.CausationID, evt.Metadata.OriginVersion,
			toMillis(evt.Metadata.Timestamp),
		); err != nil {
			if isConstraintViolation(err) {
				// Another writer claimed the sequence between head read and
				// insert; the primary key backstops the compare-and-append.
				return nil, storage.ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("insert event: %w", err)
		}
		appended = append(appended, evt)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return appended, nil
}

// List returns events with sequence greater than afterSeq in increasing order.
func (s *Store) List(ctx context.Context, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, platformerrors.New(platformerrors.CodeValidation, "aggregate id is required")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT aggregate_id, seq, event_type, version, payload, correlation_id, causation_id, origin_version, timestamp
		FROM events
		WHERE aggregate_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?`,
		aggregateID, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			evt       event.Event
			seq       int64
			payload   string
			timestamp int64
		)
		if err := rows.Scan(&evt.AggregateID, &seq, &evt.Type, &evt.Version, &payload,
			&evt.Metadata.CorrelationID, &evt.Metadata.CausationID, &evt.Metadata.OriginVersion, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Seq = uint64(seq)
		evt.Metadata.Timestamp = fromMillis(timestamp)
		if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
			return nil, platformerrors.Wrap(platformerrors.CodeSerialization, "decode payload", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Head returns the current head sequence for the aggregate id.
func (s *Store) Head(ctx context.Context, aggregateID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return 0, platformerrors.New(platformerrors.CodeValidation, "aggregate id is required")
	}

	var head uint64
	row := s.sqlDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE aggregate_id = ?`, aggregateID)
	if err := row.Scan(&head); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read head: %w", err)
	}
	return head, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
