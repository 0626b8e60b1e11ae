package pipeline

import (
	"context"
	"fmt"

	"github.com/jwalitptl/recordflow/internal/enrichment"
	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/pkg/errors"
)

// verifyHandler consumes contact_enriched: it verifies the slot's
// email with the external service and emits email_verified. The slot
// whose verification completes the set advances the parent record to
// verified.
type verifyHandler struct {
	store repository.Store
	deps  Deps
}

func (h *verifyHandler) Stage() string { return "verify" }

func (h *verifyHandler) Handle(ctx context.Context, evt *model.Event, payload interface{}) error {
	p := payload.(*ContactEnrichedPayload)

	key := enrichment.DedupeKey(p.SlotID, evt.EventType, evt.AttemptCount, h.deps.MaxAttempts)
	res, err := h.deps.Verifier.VerifyEmail(ctx, enrichment.VerifyRequest{
		SlotID:    p.SlotID,
		Email:     p.Email,
		DedupeKey: key,
	})
	if err != nil {
		return err
	}
	if !res.Deliverable {
		return errors.Validation(fmt.Sprintf("email for slot %s is not deliverable: %s", p.SlotID, res.Reason), nil)
	}

	return h.store.WithinTx(ctx, func(tx repository.Store) error {
		moved, err := tx.Records().TransitionSlot(ctx, p.SlotID, model.SlotStatusEnriched, model.SlotStatusVerified)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if err := h.deps.Auditor.Record(ctx, tx, p.SlotID, actorFor(h.Stage()), model.AuditActionTransition,
			slotSnap(model.SlotStatusEnriched), slotSnap(model.SlotStatusVerified)); err != nil {
			return err
		}

		next, err := NewEvent(model.EventEmailVerified, model.EntityTypeSlot, p.SlotID, EmailVerifiedPayload{
			SlotID:   p.SlotID,
			RecordID: p.RecordID,
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

func (h *verifyHandler) advanceParent(ctx context.Context, tx repository.Store, recordID string) error {
	// Lock the parent before reading the slot set so concurrent
	// sibling verifications evaluate the join serially.
	if _, err := tx.Records().GetRecordForUpdate(ctx, recordID); err != nil {
		return err
	}
	slots, err := tx.Records().SlotsByRecord(ctx, recordID)
	if err != nil {
		return err
	}
	for _, slot := range slots {
		if slot.Status != model.SlotStatusVerified {
			return nil
		}
	}

	moved, err := tx.Records().TransitionRecord(ctx, recordID, model.RecordStatusEnriched, model.RecordStatusVerified)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	return h.deps.Auditor.Record(ctx, tx, recordID, actorFor(h.Stage()), model.AuditActionTransition,
		recordSnap(model.RecordStatusEnriched), recordSnap(model.RecordStatusVerified))
}

// finalizeHandler consumes email_verified and closes out the pipeline:
// once the parent is verified and every slot is verified, the record
// becomes ready. Sibling events race here; the conditional transition
// lets exactly one of them apply.
type finalizeHandler struct {
	store repository.Store
	deps  Deps
}

func (h *finalizeHandler) Stage() string { return "finalize" }

func (h *finalizeHandler) Handle(ctx context.Context, evt *model.Event, payload interface{}) error {
	p := payload.(*EmailVerifiedPayload)

	return h.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Records().GetRecordForUpdate(ctx, p.RecordID); err != nil {
			return err
		}
		slots, err := tx.Records().SlotsByRecord(ctx, p.RecordID)
		if err != nil {
			return err
		}
		for _, slot := range slots {
			if slot.Status != model.SlotStatusVerified {
				return nil
			}
		}

		moved, err := tx.Records().TransitionRecord(ctx, p.RecordID, model.RecordStatusVerified, model.RecordStatusReady)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		return h.deps.Auditor.Record(ctx, tx, p.RecordID, actorFor(h.Stage()), model.AuditActionTransition,
			recordSnap(model.RecordStatusVerified), recordSnap(model.RecordStatusReady))
	})
}
