package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/recordflow/internal/model"
)

type auditLog struct {
	ext sqlx.ExtContext
}

func (a *auditLog) Append(ctx context.Context, record *model.AuditRecord) error {
	record.ID = uuid.New()
	record.CreatedAt = time.Now()

	query := `
		INSERT INTO audit_records (
			id, entity_id, actor, action, before_values, after_values, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := a.ext.ExecContext(ctx, query,
		record.ID, record.EntityID, record.Actor, record.Action,
		record.BeforeValues, record.AfterValues, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (a *auditLog) ListByEntity(ctx context.Context, entityID string) ([]*model.AuditRecord, error) {
	query := `
		SELECT id, entity_id, actor, action, before_values, after_values, created_at
		FROM audit_records
		WHERE entity_id = $1
		ORDER BY created_at ASC, id ASC
	`
	var records []*model.AuditRecord
	err := sqlx.SelectContext(ctx, a.ext, &records, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return records, nil
}
