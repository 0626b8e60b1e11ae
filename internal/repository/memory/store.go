// Package memory implements the repositories in process, mirroring
// the postgres claim semantics under a mutex. It backs tests and
// single-node runs; it does not provide crash durability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
)

type Store struct {
	mu      sync.Mutex
	events  []*model.Event
	records map[string]*model.Record
	slots   map[string]*model.Slot
	audits  []*model.AuditRecord
	errors  []*model.ErrorRecord
	seq     int64
	order   map[uuid.UUID]int64
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		records: make(map[string]*model.Record),
		slots:   make(map[string]*model.Slot),
		order:   make(map[uuid.UUID]int64),
		now:     time.Now,
	}
}

// SetClock is used by tests that need deterministic timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AllEvents returns a point-in-time snapshot of the ledger in
// insertion order. Tests use it to assert terminal statuses.
func (s *Store) AllEvents() []*model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Event, 0, len(s.events))
	for _, e := range s.events {
		clone := *e
		out = append(out, &clone)
	}
	return out
}

func (s *Store) Events() repository.EventLedger  { return (*eventLedger)(s) }
func (s *Store) Records() repository.RecordStore { return (*recordStore)(s) }
func (s *Store) Audit() repository.AuditLog      { return (*auditLog)(s) }
func (s *Store) Errors() repository.ErrorLog     { return (*errorLog)(s) }

// WithinTx runs fn against the same store. Writes apply immediately;
// the grouping exists so code written against repository.Store works
// unchanged on both backends.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	return fn(s)
}

type eventLedger Store

func (l *eventLedger) Enqueue(ctx context.Context, event *model.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.ID = uuid.New()
	event.Status = model.EventStatusPending
	event.CreatedAt = l.now()

	clone := *event
	l.seq++
	l.order[event.ID] = l.seq
	l.events = append(l.events, &clone)
	return nil
}

func (l *eventLedger) Claim(ctx context.Context, workerID string) (*model.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var candidate *model.Event
	for _, e := range l.events {
		if e.Status != model.EventStatusPending {
			continue
		}
		if e.NextAttemptAt != nil && e.NextAttemptAt.After(now) {
			continue
		}
		if candidate == nil || l.before(e, candidate) {
			candidate = e
		}
	}
	if candidate == nil {
		return nil, nil
	}

	candidate.Status = model.EventStatusProcessing
	candidate.ClaimedBy = &workerID
	claimedAt := now
	candidate.ClaimedAt = &claimedAt

	clone := *candidate
	return &clone, nil
}

func (l *eventLedger) before(a, b *model.Event) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return l.order[a.ID] < l.order[b.ID]
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (l *eventLedger) Get(ctx context.Context, id uuid.UUID) (*model.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.find(id)
	if e == nil {
		return nil, repository.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (l *eventLedger) find(id uuid.UUID) *model.Event {
	for _, e := range l.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (l *eventLedger) MarkDone(ctx context.Context, id uuid.UUID) error {
	return l.update(id, func(e *model.Event) {
		e.Status = model.EventStatusDone
		processedAt := l.now()
		e.ProcessedAt = &processedAt
		e.ClaimedBy = nil
		e.ClaimedAt = nil
	})
}

func (l *eventLedger) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return l.update(id, func(e *model.Event) {
		e.Status = model.EventStatusFailed
		e.LastError = &reason
		processedAt := l.now()
		e.ProcessedAt = &processedAt
		e.ClaimedBy = nil
		e.ClaimedAt = nil
	})
}

func (l *eventLedger) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	return l.update(id, func(e *model.Event) {
		e.Status = model.EventStatusDeadLetter
		e.AttemptCount++
		e.LastError = &reason
		processedAt := l.now()
		e.ProcessedAt = &processedAt
		e.ClaimedBy = nil
		e.ClaimedAt = nil
	})
}

func (l *eventLedger) Release(ctx context.Context, id uuid.UUID, attemptCount int, nextAttemptAt time.Time, reason string) error {
	return l.update(id, func(e *model.Event) {
		e.Status = model.EventStatusPending
		e.AttemptCount = attemptCount
		e.NextAttemptAt = &nextAttemptAt
		e.LastError = &reason
		e.ClaimedBy = nil
		e.ClaimedAt = nil
	})
}

func (l *eventLedger) Requeue(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.find(id)
	if e == nil || e.Status != model.EventStatusDeadLetter {
		return repository.ErrNotFound
	}
	e.Status = model.EventStatusPending
	e.AttemptCount = 0
	e.NextAttemptAt = nil
	e.LastError = nil
	e.ProcessedAt = nil
	return nil
}

func (l *eventLedger) Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.find(id)
	if e == nil || e.Status != model.EventStatusProcessing {
		return nil
	}
	if e.ClaimedBy == nil || *e.ClaimedBy != workerID {
		return nil
	}
	claimedAt := l.now()
	e.ClaimedAt = &claimedAt
	return nil
}

func (l *eventLedger) ReclaimAbandoned(ctx context.Context, claimedBefore time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var reclaimed int64
	for _, e := range l.events {
		if e.Status != model.EventStatusProcessing {
			continue
		}
		if e.ClaimedAt == nil || e.ClaimedAt.Before(claimedBefore) {
			e.Status = model.EventStatusPending
			e.AttemptCount++
			e.ClaimedBy = nil
			e.ClaimedAt = nil
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (l *eventLedger) PendingCount(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var count int64
	for _, e := range l.events {
		if e.Status == model.EventStatusPending {
			count++
		}
	}
	return count, nil
}

func (l *eventLedger) DeleteDoneBefore(ctx context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []*model.Event
	var deleted int64
	for _, e := range l.events {
		if e.Status == model.EventStatusDone && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	l.events = kept
	return deleted, nil
}

func (l *eventLedger) update(id uuid.UUID, apply func(*model.Event)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.find(id)
	if e == nil {
		return repository.ErrNotFound
	}
	apply(e)
	return nil
}

type recordStore Store

func (r *recordStore) CreateRecord(ctx context.Context, record *model.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record.CreatedAt = r.now()
	record.UpdatedAt = record.CreatedAt
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

func (r *recordStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

// GetRecordForUpdate matches the postgres row-lock signature; the
// store mutex already serializes whole operations here.
func (r *recordStore) GetRecordForUpdate(ctx context.Context, id string) (*model.Record, error) {
	return r.GetRecord(ctx, id)
}

func (r *recordStore) TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if record.Status != from {
		return false, nil
	}
	record.Status = to
	record.UpdatedAt = r.now()
	return true, nil
}

func (r *recordStore) CreateSlot(ctx context.Context, slot *model.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot.CreatedAt = r.now()
	slot.UpdatedAt = slot.CreatedAt
	clone := *slot
	r.slots[slot.ID] = &clone
	return nil
}

func (r *recordStore) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *slot
	return &clone, nil
}

func (r *recordStore) TransitionSlot(ctx context.Context, id string, from, to model.SlotStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if slot.Status != from {
		return false, nil
	}
	slot.Status = to
	slot.UpdatedAt = r.now()
	return true, nil
}

func (r *recordStore) SetSlotEmail(ctx context.Context, id, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[id]
	if !ok {
		return repository.ErrNotFound
	}
	slot.Email = &email
	slot.UpdatedAt = r.now()
	return nil
}

func (r *recordStore) SlotsByRecord(ctx context.Context, recordID string) ([]*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var slots []*model.Slot
	for _, slot := range r.slots {
		if slot.RecordID == recordID {
			clone := *slot
			slots = append(slots, &clone)
		}
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].CreatedAt.Equal(slots[j].CreatedAt) {
			return slots[i].ID < slots[j].ID
		}
		return slots[i].CreatedAt.Before(slots[j].CreatedAt)
	})
	return slots, nil
}

type auditLog Store

func (a *auditLog) Append(ctx context.Context, record *model.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	record.ID = uuid.New()
	record.CreatedAt = a.now()
	clone := *record
	a.audits = append(a.audits, &clone)
	return nil
}

func (a *auditLog) ListByEntity(ctx context.Context, entityID string) ([]*model.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var records []*model.AuditRecord
	for _, rec := range a.audits {
		if rec.EntityID == entityID {
			clone := *rec
			records = append(records, &clone)
		}
	}
	return records, nil
}

type errorLog Store

func (e *errorLog) Append(ctx context.Context, record *model.ErrorRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	record.ID = uuid.New()
	record.OccurredAt = e.now()
	clone := *record
	e.errors = append(e.errors, &clone)
	return nil
}

func (e *errorLog) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*model.ErrorRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var records []*model.ErrorRecord
	for _, rec := range e.errors {
		if rec.EventID == eventID {
			clone := *rec
			records = append(records, &clone)
		}
	}
	return records, nil
}
