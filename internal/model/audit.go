package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	AuditActionCreate     = "create"
	AuditActionTransition = "transition"
	AuditActionReject     = "reject"
)

// AuditRecord is one append-only row per business-state mutation. The
// pipeline never updates or deletes audit rows; retention is owned by
// the state store.
type AuditRecord struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EntityID     string          `db:"entity_id" json:"entity_id"`
	Actor        string          `db:"actor" json:"actor"`
	Action       string          `db:"action" json:"action"`
	BeforeValues json.RawMessage `db:"before_values" json:"before_values"`
	AfterValues  json.RawMessage `db:"after_values" json:"after_values"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
