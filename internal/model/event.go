package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusDone       EventStatus = "done"
	EventStatusFailed     EventStatus = "failed"
	EventStatusDeadLetter EventStatus = "dead_letter"
)

// Event types, one per pipeline stage transition.
const (
	EventRecordCreated   = "record_created"
	EventRecordValidated = "record_validated"
	EventRecordPromoted  = "record_promoted"
	EventSlotCreated     = "slot_created"
	EventContactEnriched = "contact_enriched"
	EventEmailVerified   = "email_verified"
)

// Event is one row in the outbox ledger. The payload must be
// self-sufficient: handlers act on it without re-querying the record
// that produced it.
type Event struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	EventType     string          `db:"event_type" json:"event_type"`
	EntityType    string          `db:"entity_type" json:"entity_type"`
	EntityID      string          `db:"entity_id" json:"entity_id"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        EventStatus     `db:"status" json:"status"`
	AttemptCount  int             `db:"attempt_count" json:"attempt_count"`
	ClaimedBy     *string         `db:"claimed_by" json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	NextAttemptAt *time.Time      `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	LastError     *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}
