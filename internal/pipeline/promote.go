package pipeline

import (
	"context"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
)

// promoteHandler consumes record_validated and promotes the record to
// the canonical store. Promotion is a local write; there is no
// external call at this stage.
type promoteHandler struct {
	store repository.Store
	deps  Deps
}

func (h *promoteHandler) Stage() string { return "promote" }

func (h *promoteHandler) Handle(ctx context.Context, evt *model.Event, payload interface{}) error {
	p := payload.(*RecordValidatedPayload)

	return h.store.WithinTx(ctx, func(tx repository.Store) error {
		moved, err := tx.Records().TransitionRecord(ctx, p.RecordID, model.RecordStatusValidated, model.RecordStatusPromoted)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if err := h.deps.Auditor.Record(ctx, tx, p.RecordID, actorFor(h.Stage()), model.AuditActionTransition,
			recordSnap(model.RecordStatusValidated), recordSnap(model.RecordStatusPromoted)); err != nil {
			return err
		}
		next, err := NewEvent(model.EventRecordPromoted, model.EntityTypeRecord, p.RecordID, RecordPromotedPayload{
			RecordID: p.RecordID,
			Domain:   p.Domain,
		})
		if err != nil {
			return err
		}
		return tx.Events().Enqueue(ctx, next)
	})
}
