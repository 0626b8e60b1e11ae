package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/recordflow/internal/enrichment"
	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/pipeline"
	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/internal/repository/memory"
	"github.com/jwalitptl/recordflow/internal/service/audit"
	"github.com/jwalitptl/recordflow/pkg/errors"
	"github.com/jwalitptl/recordflow/pkg/idgen"
	"github.com/jwalitptl/recordflow/pkg/logger"
)

// fakeExternal stands in for the enrichment vendor. It tracks calls
// by dedupe key, so uniqueEffects reflects what the remote side would
// actually apply after discarding duplicates.
type fakeExternal struct {
	mu             sync.Mutex
	validateKeys   map[string]int
	enrichKeys     map[string]int
	verifyKeys     map[string]int
	invalidRecords map[string]bool
	enrichFailures map[string]int // role -> remaining transient failures
	undeliverable  map[string]bool
}

func newFakeExternal() *fakeExternal {
	return &fakeExternal{
		validateKeys:   make(map[string]int),
		enrichKeys:     make(map[string]int),
		verifyKeys:     make(map[string]int),
		invalidRecords: make(map[string]bool),
		enrichFailures: make(map[string]int),
		undeliverable:  make(map[string]bool),
	}
}

func (f *fakeExternal) ValidateRecord(ctx context.Context, req enrichment.ValidateRequest) (*enrichment.ValidateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validateKeys[req.DedupeKey]++
	if f.invalidRecords[req.RecordID] {
		return &enrichment.ValidateResult{Valid: false, Reason: "domain is a known spam trap"}, nil
	}
	return &enrichment.ValidateResult{Valid: true}, nil
}

func (f *fakeExternal) EnrichContact(ctx context.Context, req enrichment.EnrichRequest) (*enrichment.EnrichResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enrichFailures[req.Role] > 0 {
		f.enrichFailures[req.Role]--
		return nil, errors.Transient("enrichment vendor timed out", nil)
	}
	f.enrichKeys[req.DedupeKey]++
	return &enrichment.EnrichResult{Email: fmt.Sprintf("%s@%s", req.Role, req.Domain)}, nil
}

func (f *fakeExternal) VerifyEmail(ctx context.Context, req enrichment.VerifyRequest) (*enrichment.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyKeys[req.DedupeKey]++
	if f.undeliverable[req.SlotID] {
		return &enrichment.VerifyResult{Deliverable: false, Reason: "mailbox does not exist"}, nil
	}
	return &enrichment.VerifyResult{Deliverable: true}, nil
}

func (f *fakeExternal) uniqueEffects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.validateKeys) + len(f.enrichKeys) + len(f.verifyKeys)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) CriticalEvent(ctx context.Context, evt *model.Event, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, evt.ID.String())
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testPipeline struct {
	store      *memory.Store
	external   *fakeExternal
	notifier   *fakeNotifier
	dispatcher *pipeline.Dispatcher
	retry      *pipeline.RetryManager
	auditor    *audit.Service
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	store := memory.NewStore()
	external := newFakeExternal()
	notifier := &fakeNotifier{}
	auditor := audit.NewService()
	log := logger.NewLogger(nil)

	dispatcher := pipeline.NewDispatcher(log)
	pipeline.RegisterStages(dispatcher, store, pipeline.Deps{
		Auditor:     auditor,
		Validator:   external,
		Enricher:    external,
		Verifier:    external,
		IDGen:       idgen.New(),
		MaxAttempts: 5,
	})

	retry := pipeline.NewRetryManager(store, notifier, pipeline.RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Millisecond,
	}, log)

	return &testPipeline{
		store:      store,
		external:   external,
		notifier:   notifier,
		dispatcher: dispatcher,
		retry:      retry,
		auditor:    auditor,
	}
}

// drainAll claims, dispatches and settles events until the ledger has
// nothing pending, waiting out backoff deadlines as needed.
func (tp *testPipeline) drainAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		evt, err := tp.store.Events().Claim(ctx, "w-test")
		require.NoError(t, err)
		if evt == nil {
			pending, err := tp.store.Events().PendingCount(ctx)
			require.NoError(t, err)
			if pending == 0 {
				return
			}
			time.Sleep(2 * time.Millisecond)
			continue
		}
		require.NoError(t, tp.retry.Resolve(ctx, evt, tp.dispatcher.Dispatch(ctx, evt)))
	}
	t.Fatal("pipeline did not settle within deadline")
}

// eventsOfType snapshots ledger rows for one event type.
func (tp *testPipeline) eventsOfType(eventType string) []*model.Event {
	var out []*model.Event
	for _, evt := range tp.store.AllEvents() {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}

var _ repository.Store = (*memory.Store)(nil)
