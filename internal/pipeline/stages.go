package pipeline

import (
	"github.com/jwalitptl/recordflow/internal/enrichment"
	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/internal/service/audit"
	"github.com/jwalitptl/recordflow/pkg/idgen"
)

// Deps carries the collaborators shared by all stage handlers.
type Deps struct {
	Auditor   *audit.Service
	Validator enrichment.Validator
	Enricher  enrichment.Enricher
	Verifier  enrichment.Verifier
	IDGen     *idgen.Generator

	// MaxAttempts buckets dedupe keys; retries within one processing
	// cycle present the same key to the remote side.
	MaxAttempts int
}

// RegisterStages wires every stage handler into the dispatcher.
func RegisterStages(d *Dispatcher, store repository.Store, deps Deps) {
	d.Register(model.EventRecordCreated, &validateHandler{store: store, deps: deps})
	d.Register(model.EventRecordValidated, &promoteHandler{store: store, deps: deps})
	d.Register(model.EventRecordPromoted, &slotsHandler{store: store, deps: deps})
	d.Register(model.EventSlotCreated, &enrichHandler{store: store, deps: deps})
	d.Register(model.EventContactEnriched, &verifyHandler{store: store, deps: deps})
	d.Register(model.EventEmailVerified, &finalizeHandler{store: store, deps: deps})
}

func actorFor(stage string) string {
	return "handler:" + stage
}

func recordSnap(s model.RecordStatus) audit.Snapshot {
	return audit.Snapshot{Status: string(s)}
}

func slotSnap(s model.SlotStatus) audit.Snapshot {
	return audit.Snapshot{Status: string(s)}
}
