package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/recordflow/internal/model"
)

type errorLog struct {
	ext sqlx.ExtContext
}

func (e *errorLog) Append(ctx context.Context, record *model.ErrorRecord) error {
	record.ID = uuid.New()
	record.OccurredAt = time.Now()

	query := `
		INSERT INTO error_records (
			id, event_id, stage, error_kind, severity, detail, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := e.ext.ExecContext(ctx, query,
		record.ID, record.EventID, record.Stage, record.ErrorKind,
		record.Severity, record.Detail, record.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append error record: %w", err)
	}
	return nil
}

func (e *errorLog) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*model.ErrorRecord, error) {
	query := `
		SELECT id, event_id, stage, error_kind, severity, detail, occurred_at
		FROM error_records
		WHERE event_id = $1
		ORDER BY occurred_at ASC, id ASC
	`
	var records []*model.ErrorRecord
	err := sqlx.SelectContext(ctx, e.ext, &records, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list error records: %w", err)
	}
	return records, nil
}
