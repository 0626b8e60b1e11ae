package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ErrorSeverityLow      = "low"
	ErrorSeverityCritical = "critical"
)

// ErrorRecord is one row per failed handler invocation. Rows are never
// mutated after insert.
type ErrorRecord struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	EventID    uuid.UUID       `db:"event_id" json:"event_id"`
	Stage      string          `db:"stage" json:"stage"`
	ErrorKind  string          `db:"error_kind" json:"error_kind"`
	Severity   string          `db:"severity" json:"severity"`
	Detail     json.RawMessage `db:"detail" json:"detail"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurred_at"`
}
