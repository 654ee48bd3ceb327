package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"payrecon/internal/common/database"
)

// Record is a received webhook as persisted for deduplication and replay.
type Record struct {
	EventID     string
	Source      string
	EventType   string
	Payload     []byte
	ReceivedAt  time.Time
	Processed   bool
	ProcessedAt *time.Time
	Attempts    int
	LastError   string
}

// Store persists webhook records.
type Store interface {
	// CreateIfAbsent inserts rec unless its event id exists. It reports
	// whether the row was created.
	CreateIfAbsent(ctx context.Context, rec *Record) (bool, error)
	// Complete marks the event processed and records one attempt with its
	// outcome. processed_at keeps its first value.
	Complete(ctx context.Context, eventID string, dispatchErr error) error
	// ListReplayable returns events never completed since before olderThan,
	// and completed events whose last attempt failed with fewer than
	// maxAttempts attempts.
	ListReplayable(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]*Record, error)
}

// PostgresStore implements Store on the webhook_events table.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore creates a new webhook store
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, rec *Record) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (event_id, source, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.Source, rec.EventType, rec.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("recording webhook event %s: %w", rec.EventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Complete(ctx context.Context, eventID string, dispatchErr error) error {
	var lastError *string
	if dispatchErr != nil {
		msg := dispatchErr.Error()
		lastError = &msg
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE webhook_events
		SET processed = true,
		    processed_at = COALESCE(processed_at, now()),
		    attempts = attempts + 1,
		    last_error = $2
		WHERE event_id = $1`,
		eventID, lastError,
	)
	if err != nil {
		return fmt.Errorf("completing webhook event %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListReplayable(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]*Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT event_id, source, event_type, payload, received_at, processed, processed_at, attempts, COALESCE(last_error, '')
		FROM webhook_events
		WHERE (processed = false AND received_at < $1)
		   OR (last_error IS NOT NULL AND attempts < $2)
		ORDER BY received_at
		LIMIT $3`,
		olderThan, maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing replayable webhook events: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Record, error) {
		var r Record
		err := row.Scan(&r.EventID, &r.Source, &r.EventType, &r.Payload, &r.ReceivedAt, &r.Processed,
			&r.ProcessedAt, &r.Attempts, &r.LastError)
		return &r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning webhook events: %w", err)
	}
	return records, nil
}
