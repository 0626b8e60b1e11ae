package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
)

type eventLedger struct {
	ext sqlx.ExtContext
}

const eventColumns = `id, event_type, entity_type, entity_id, payload, status,
	attempt_count, claimed_by, claimed_at, next_attempt_at, last_error,
	created_at, processed_at`

func (l *eventLedger) Enqueue(ctx context.Context, event *model.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	event.ID = uuid.New()
	event.Status = model.EventStatusPending
	event.CreatedAt = time.Now()

	query := `
		INSERT INTO events (
			id, event_type, entity_type, entity_id, payload, status, attempt_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`
	_, err := l.ext.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.EntityType,
		event.EntityID,
		event.Payload,
		event.Status,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

// Claim uses a skip-locked subselect so concurrent claimants never
// wait on each other; the conditional update guarantees one winner.
func (l *eventLedger) Claim(ctx context.Context, workerID string) (*model.Event, error) {
	query := `
		UPDATE events
		SET status = 'processing', claimed_by = $1, claimed_at = NOW()
		WHERE id = (
			SELECT id FROM events
			WHERE status = 'pending'
			AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + eventColumns

	var event model.Event
	err := sqlx.GetContext(ctx, l.ext, &event, query, workerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim event: %w", err)
	}
	return &event, nil
}

func (l *eventLedger) Get(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	var event model.Event
	err := sqlx.GetContext(ctx, l.ext, &event, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

func (l *eventLedger) MarkDone(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE events
		SET status = 'done', processed_at = NOW(), claimed_by = NULL, claimed_at = NULL
		WHERE id = $1
	`
	return l.exec(ctx, query, id)
}

func (l *eventLedger) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE events
		SET status = 'failed', last_error = $2, processed_at = NOW(),
			claimed_by = NULL, claimed_at = NULL
		WHERE id = $1
	`
	return l.exec(ctx, query, id, reason)
}

func (l *eventLedger) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE events
		SET status = 'dead_letter', attempt_count = attempt_count + 1,
			last_error = $2, processed_at = NOW(),
			claimed_by = NULL, claimed_at = NULL
		WHERE id = $1
	`
	return l.exec(ctx, query, id, reason)
}

func (l *eventLedger) Release(ctx context.Context, id uuid.UUID, attemptCount int, nextAttemptAt time.Time, reason string) error {
	query := `
		UPDATE events
		SET status = 'pending', attempt_count = $2, next_attempt_at = $3,
			last_error = $4, claimed_by = NULL, claimed_at = NULL
		WHERE id = $1
	`
	return l.exec(ctx, query, id, attemptCount, nextAttemptAt, reason)
}

func (l *eventLedger) Requeue(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE events
		SET status = 'pending', attempt_count = 0, next_attempt_at = NULL,
			last_error = NULL, claimed_by = NULL, claimed_at = NULL, processed_at = NULL
		WHERE id = $1 AND status = 'dead_letter'
	`
	result, err := l.ext.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to requeue event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (l *eventLedger) Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error {
	query := `
		UPDATE events
		SET claimed_at = NOW()
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`
	return l.exec(ctx, query, id, workerID)
}

func (l *eventLedger) ReclaimAbandoned(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `
		UPDATE events
		SET status = 'pending', attempt_count = attempt_count + 1,
			claimed_by = NULL, claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1
	`
	result, err := l.ext.ExecContext(ctx, query, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim abandoned events: %w", err)
	}
	return result.RowsAffected()
}

func (l *eventLedger) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := sqlx.GetContext(ctx, l.ext, &count, `SELECT COUNT(*) FROM events WHERE status = 'pending'`)
	return count, err
}

func (l *eventLedger) DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM events WHERE status = 'done' AND processed_at < $1`
	result, err := l.ext.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return result.RowsAffected()
}

func (l *eventLedger) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := l.ext.ExecContext(ctx, query, args...)
	return err
}
