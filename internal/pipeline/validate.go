package pipeline

import (
	"context"

	"github.com/jwalitptl/recordflow/internal/enrichment"
	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
)

// validateHandler consumes record_created: it calls the external
// validation service and either advances the record to validated or
// rejects it permanently.
type validateHandler struct {
	store repository.Store
	deps  Deps
}

func (h *validateHandler) Stage() string { return "validate" }

func (h *validateHandler) Handle(ctx context.Context, evt *model.Event, payload interface{}) error {
	p := payload.(*RecordCreatedPayload)

	key := enrichment.DedupeKey(p.RecordID, evt.EventType, evt.AttemptCount, h.deps.MaxAttempts)
	res, err := h.deps.Validator.ValidateRecord(ctx, enrichment.ValidateRequest{
		RecordID:  p.RecordID,
		Name:      p.Name,
		Domain:    p.Domain,
		DedupeKey: key,
	})
	if err != nil {
		return err
	}

	if !res.Valid {
		// Permanent business-rule rejection: the entity routes to
		// rejected, the event itself completes.
		return h.store.WithinTx(ctx, func(tx repository.Store) error {
			moved, err := tx.Records().TransitionRecord(ctx, p.RecordID, model.RecordStatusCreated, model.RecordStatusRejected)
			if err != nil {
				return err
			}
			if !moved {
				return nil
			}
			return h.deps.Auditor.Record(ctx, tx, p.RecordID, actorFor(h.Stage()), model.AuditActionReject,
				recordSnap(model.RecordStatusCreated), recordSnap(model.RecordStatusRejected))
		})
	}

	return h.store.WithinTx(ctx, func(tx repository.Store) error {
		moved, err := tx.Records().TransitionRecord(ctx, p.RecordID, model.RecordStatusCreated, model.RecordStatusValidated)
		if err != nil {
			return err
		}
		if !moved {
			// Replay of an already-applied event: no second audit row,
			// no second emit.
			return nil
		}
		if err := h.deps.Auditor.Record(ctx, tx, p.RecordID, actorFor(h.Stage()), model.AuditActionTransition,
			recordSnap(model.RecordStatusCreated), recordSnap(model.RecordStatusValidated)); err != nil {
			return err
		}
		next, err := NewEvent(model.EventRecordValidated, model.EntityTypeRecord, p.RecordID, RecordValidatedPayload{
			RecordID: p.RecordID,
			Name:     p.Name,
			Domain:   p.Domain,
		})
		if err != nil {
			return err
		}
		return tx.Events().Enqueue(ctx, next)
	})
}
