package pipeline

import (
	"context"

	"github.com/jwalitptl/recordflow/internal/enrichment"
	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
)

// enrichHandler consumes slot_created: it asks the enrichment service
// for a contact for the slot, fills it, and emits contact_enriched.
// The slot whose enrichment completes the set advances the parent
// record to enriched.
type enrichHandler struct {
	store repository.Store
	deps  Deps
}

func (h *enrichHandler) Stage() string { return "enrich" }

func (h *enrichHandler) Handle(ctx context.Context, evt *model.Event, payload interface{}) error {
	p := payload.(*SlotCreatedPayload)

	key := enrichment.DedupeKey(p.SlotID, evt.EventType, evt.AttemptCount, h.deps.MaxAttempts)
	res, err := h.deps.Enricher.EnrichContact(ctx, enrichment.EnrichRequest{
		SlotID:    p.SlotID,
		RecordID:  p.RecordID,
		Role:      p.Role,
		Domain:    p.Domain,
		DedupeKey: key,
	})
	if err != nil {
		return err
	}

	return h.store.WithinTx(ctx, func(tx repository.Store) error {
		moved, err := tx.Records().TransitionSlot(ctx, p.SlotID, model.SlotStatusOpen, model.SlotStatusEnriched)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if err := tx.Records().SetSlotEmail(ctx, p.SlotID, res.Email); err != nil {
			return err
		}
		if err := h.deps.Auditor.Record(ctx, tx, p.SlotID, actorFor(h.Stage()), model.AuditActionTransition,
			slotSnap(model.SlotStatusOpen), slotSnap(model.SlotStatusEnriched)); err != nil {
			return err
		}

		next, err := NewEvent(model.EventContactEnriched, model.EntityTypeSlot, p.SlotID, ContactEnrichedPayload{
			SlotID:   p.SlotID,
			RecordID: p.RecordID,
			Email:    res.Email,
		})
		if err != nil {
			return err
		}
		if err := tx.Events().Enqueue(ctx, next); err != nil {
			return err
		}

		return h.advanceParent(ctx, tx, p.RecordID)
	})
}

// advanceParent moves the record to enriched once every sibling slot
// has been filled. Re-checking the full set keeps the join condition
// correct on replay. The parent row lock serializes the check: two
// siblings finishing at once would otherwise each read the other's
// slot as still open and neither would advance the record.
func (h *enrichHandler) advanceParent(ctx context.Context, tx repository.Store, recordID string) error {
	if _, err := tx.Records().GetRecordForUpdate(ctx, recordID); err != nil {
		return err
	}
	slots, err := tx.Records().SlotsByRecord(ctx, recordID)
	if err != nil {
		return err
	}
	for _, slot := range slots {
		if slot.Status == model.SlotStatusOpen {
			return nil
		}
	}

	moved, err := tx.Records().TransitionRecord(ctx, recordID, model.RecordStatusSlotsCreated, model.RecordStatusEnriched)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	return h.deps.Auditor.Record(ctx, tx, recordID, actorFor(h.Stage()), model.AuditActionTransition,
		recordSnap(model.RecordStatusSlotsCreated), recordSnap(model.RecordStatusEnriched))
}
