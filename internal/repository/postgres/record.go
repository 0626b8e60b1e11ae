package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
)

type recordStore struct {
	ext sqlx.ExtContext
}

func (r *recordStore) CreateRecord(ctx context.Context, record *model.Record) error {
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	query := `
		INSERT INTO records (id, name, domain, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.ext.ExecContext(ctx, query,
		record.ID, record.Name, record.Domain, record.Status,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

func (r *recordStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	query := `SELECT id, name, domain, status, created_at, updated_at FROM records WHERE id = $1`

	var record model.Record
	err := sqlx.GetContext(ctx, r.ext, &record, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &record, nil
}

// GetRecordForUpdate serializes sibling join checks on the parent
// row. Under read committed, each statement after the lock is granted
// sees the commits of whoever held it first, so the last sibling to
// acquire it observes the full slot set.
func (r *recordStore) GetRecordForUpdate(ctx context.Context, id string) (*model.Record, error) {
	query := `SELECT id, name, domain, status, created_at, updated_at FROM records WHERE id = $1 FOR UPDATE`

	var record model.Record
	err := sqlx.GetContext(ctx, r.ext, &record, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock record: %w", err)
	}
	return &record, nil
}

func (r *recordStore) TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (bool, error) {
	query := `
		UPDATE records
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.ext.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *recordStore) CreateSlot(ctx context.Context, slot *model.Slot) error {
	slot.CreatedAt = time.Now()
	slot.UpdatedAt = slot.CreatedAt

	query := `
		INSERT INTO slots (id, record_id, role, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.ext.ExecContext(ctx, query,
		slot.ID, slot.RecordID, slot.Role, slot.Email, slot.Status,
		slot.CreatedAt, slot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

func (r *recordStore) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	query := `SELECT id, record_id, role, email, status, created_at, updated_at FROM slots WHERE id = $1`

	var slot model.Slot
	err := sqlx.GetContext(ctx, r.ext, &slot, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &slot, nil
}

func (r *recordStore) TransitionSlot(ctx context.Context, id string, from, to model.SlotStatus) (bool, error) {
	query := `
		UPDATE slots
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.ext.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *recordStore) SetSlotEmail(ctx context.Context, id, email string) error {
	query := `UPDATE slots SET email = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.ext.ExecContext(ctx, query, id, email)
	if err != nil {
		return fmt.Errorf("failed to set slot email: %w", err)
	}
	return nil
}

func (r *recordStore) SlotsByRecord(ctx context.Context, recordID string) ([]*model.Slot, error) {
	query := `
		SELECT id, record_id, role, email, status, created_at, updated_at
		FROM slots
		WHERE record_id = $1
		ORDER BY created_at ASC, id ASC
	`
	var slots []*model.Slot
	err := sqlx.SelectContext(ctx, r.ext, &slots, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}
