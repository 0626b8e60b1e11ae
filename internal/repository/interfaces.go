package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/recordflow/internal/model"
)

// ErrNotFound is returned when a row does not exist or is not in the
// status a conditional operation requires.
var ErrNotFound = errors.New("not found")

// EventLedger is the outbox ledger. All status changes go through it;
// no other component flips an event's status directly.
type EventLedger interface {
	// Enqueue inserts a pending event. Callers must invoke it inside
	// the same unit of work as the state mutation that caused it.
	Enqueue(ctx context.Context, event *model.Event) error

	// Claim atomically moves one due pending event to processing for
	// workerID and returns it. Returns (nil, nil) when nothing is
	// pending; losing a row to a concurrent claimant is silent.
	Claim(ctx context.Context, workerID string) (*model.Event, error)

	Get(ctx context.Context, id uuid.UUID) (*model.Event, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error

	// Release returns a claimed event to pending with an updated
	// attempt count and a backoff deadline.
	Release(ctx context.Context, id uuid.UUID, attemptCount int, nextAttemptAt time.Time, reason string) error

	// Requeue resets a dead_letter event to pending and clears its
	// attempt count. Returns ErrNotFound unless the event is in
	// dead_letter.
	Requeue(ctx context.Context, id uuid.UUID) error

	// Heartbeat refreshes claimed_at for a live claim.
	Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error

	// ReclaimAbandoned returns processing events whose claim went
	// stale before the cutoff back to pending, counting the attempt.
	ReclaimAbandoned(ctx context.Context, claimedBefore time.Time) (int64, error)

	PendingCount(ctx context.Context) (int64, error)
	DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error)
}

// RecordStore is the adapter over the state store's lifecycle columns.
type RecordStore interface {
	CreateRecord(ctx context.Context, record *model.Record) error
	GetRecord(ctx context.Context, id string) (*model.Record, error)

	// GetRecordForUpdate loads the record and holds its row lock for
	// the rest of the enclosing transaction. Handlers take it before
	// re-checking a fan-in condition over the record's slots, so two
	// sibling events completing concurrently evaluate the join one
	// after the other instead of against each other's uncommitted
	// writes.
	GetRecordForUpdate(ctx context.Context, id string) (*model.Record, error)

	// TransitionRecord applies from→to only if the record is still in
	// from. Returns false with no error when the record has already
	// moved on, which is how handlers stay idempotent on replay.
	TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (bool, error)

	CreateSlot(ctx context.Context, slot *model.Slot) error
	GetSlot(ctx context.Context, id string) (*model.Slot, error)
	TransitionSlot(ctx context.Context, id string, from, to model.SlotStatus) (bool, error)
	SetSlotEmail(ctx context.Context, id, email string) error
	SlotsByRecord(ctx context.Context, recordID string) ([]*model.Slot, error)
}

// AuditLog is append-only; the pipeline never updates or deletes rows.
type AuditLog interface {
	Append(ctx context.Context, record *model.AuditRecord) error
	ListByEntity(ctx context.Context, entityID string) ([]*model.AuditRecord, error)
}

// ErrorLog is append-only, independent of the audit trail.
type ErrorLog interface {
	Append(ctx context.Context, record *model.ErrorRecord) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*model.ErrorRecord, error)
}

// Store bundles the repositories behind one unit of work.
type Store interface {
	Events() EventLedger
	Records() RecordStore
	Audit() AuditLog
	Errors() ErrorLog

	// WithinTx runs fn against a transaction-scoped store. A handler's
	// state write, audit row and next-stage enqueues all commit or
	// roll back together.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
