package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
)

// Service writes the audit trail. Callers invoke Record inside the
// same unit of work as the state write it describes; a failed audit
// insert fails the whole transaction. The trail is never best-effort.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Record appends one audit row with before/after snapshots.
func (s *Service) Record(ctx context.Context, store repository.Store, entityID, actor, action string, before, after interface{}) error {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return fmt.Errorf("failed to marshal before snapshot: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return fmt.Errorf("failed to marshal after snapshot: %w", err)
	}

	record := &model.AuditRecord{
		EntityID:     entityID,
		Actor:        actor,
		Action:       action,
		BeforeValues: beforeJSON,
		AfterValues:  afterJSON,
	}
	if err := store.Audit().Append(ctx, record); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Snapshot is the before/after payload shape handlers record for
// lifecycle transitions.
type Snapshot struct {
	Status string `json:"status"`
}
