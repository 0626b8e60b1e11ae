package model

import "time"

type RecordStatus string

const (
	RecordStatusCreated      RecordStatus = "created"
	RecordStatusValidated    RecordStatus = "validated"
	RecordStatusPromoted     RecordStatus = "promoted"
	RecordStatusSlotsCreated RecordStatus = "slots_created"
	RecordStatusEnriched     RecordStatus = "enriched"
	RecordStatusVerified     RecordStatus = "verified"
	RecordStatusReady        RecordStatus = "ready"
	RecordStatusRejected     RecordStatus = "rejected"
)

type SlotStatus string

const (
	SlotStatusOpen     SlotStatus = "open"
	SlotStatusEnriched SlotStatus = "enriched"
	SlotStatusVerified SlotStatus = "verified"
)

const (
	EntityTypeRecord = "record"
	EntityTypeSlot   = "slot"
)

// Record is a company intake record moving through the promotion
// pipeline. Business columns beyond name/domain belong to the state
// store owner; the pipeline only writes the lifecycle status.
type Record struct {
	ID        string       `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Domain    string       `db:"domain" json:"domain"`
	Status    RecordStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// Slot is a contact slot spawned from a promoted record. Each slot is
// enriched and verified independently before the parent advances.
type Slot struct {
	ID        string     `db:"id" json:"id"`
	RecordID  string     `db:"record_id" json:"record_id"`
	Role      string     `db:"role" json:"role"`
	Email     *string    `db:"email" json:"email,omitempty"`
	Status    SlotStatus `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// DefaultSlotRoles are the contact slots created for every promoted
// record.
var DefaultSlotRoles = []string{"decision_maker", "technical", "billing"}
