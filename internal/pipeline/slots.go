package pipeline

import (
	"context"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/pkg/errors"
)

// slotsHandler consumes record_promoted and fans out: it creates the
// default contact slots and emits one slot_created event per slot.
type slotsHandler struct {
	store repository.Store
	deps  Deps
}

func (h *slotsHandler) Stage() string { return "create_slots" }

func (h *slotsHandler) Handle(ctx context.Context, evt *model.Event, payload interface{}) error {
	p := payload.(*RecordPromotedPayload)

	return h.store.WithinTx(ctx, func(tx repository.Store) error {
		moved, err := tx.Records().TransitionRecord(ctx, p.RecordID, model.RecordStatusPromoted, model.RecordStatusSlotsCreated)
		if err != nil {
			return err
		}
		if !moved {
			// Slots were already created by a previous invocation.
			return nil
		}
		if err := h.deps.Auditor.Record(ctx, tx, p.RecordID, actorFor(h.Stage()), model.AuditActionTransition,
			recordSnap(model.RecordStatusPromoted), recordSnap(model.RecordStatusSlotsCreated)); err != nil {
			return err
		}

		for _, role := range model.DefaultSlotRoles {
			slotID, err := h.deps.IDGen.Generate("slot")
			if err != nil {
				return errors.Fatal("failed to generate slot id", err)
			}
			slot := &model.Slot{
				ID:       slotID,
				RecordID: p.RecordID,
				Role:     role,
				Status:   model.SlotStatusOpen,
			}
			if err := tx.Records().CreateSlot(ctx, slot); err != nil {
				return err
			}
			if err := h.deps.Auditor.Record(ctx, tx, slotID, actorFor(h.Stage()), model.AuditActionCreate,
				nil, slotSnap(model.SlotStatusOpen)); err != nil {
				return err
			}

			next, err := NewEvent(model.EventSlotCreated, model.EntityTypeSlot, slotID, SlotCreatedPayload{
				SlotID:   slotID,
				RecordID: p.RecordID,
				Role:     role,
				Domain:   p.Domain,
			})
			if err != nil {
				return err
			}
			if err := tx.Events().Enqueue(ctx, next); err != nil {
				return err
			}
		}
		return nil
	})
}
