package pipeline_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/pipeline"
	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/internal/repository/memory"
	"github.com/jwalitptl/recordflow/pkg/errors"
	"github.com/jwalitptl/recordflow/pkg/logger"
)

func newRetryFixture(t *testing.T, cfg pipeline.RetryConfig) (*memory.Store, *fakeNotifier, *pipeline.RetryManager) {
	t.Helper()
	store := memory.NewStore()
	notifier := &fakeNotifier{}
	rm := pipeline.NewRetryManager(store, notifier, cfg, logger.NewLogger(nil))
	return store, notifier, rm
}

func claimOne(t *testing.T, store *memory.Store) *model.Event {
	t.Helper()
	ctx := context.Background()

	evt, err := pipeline.NewEvent(model.EventSlotCreated, model.EntityTypeSlot, "CSLCT-00000001-AAAA-BBBB", pipeline.SlotCreatedPayload{
		SlotID:   "CSLCT-00000001-AAAA-BBBB",
		RecordID: "CREIN-00000001-AAAA-BBBB",
		Role:     "technical",
		Domain:   "acme.test",
	})
	require.NoError(t, err)
	require.NoError(t, store.Events().Enqueue(ctx, evt))

	claimed, err := store.Events().Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func TestResolveSuccessMarksDone(t *testing.T) {
	store, notifier, rm := newRetryFixture(t, pipeline.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond})
	ctx := context.Background()
	evt := claimOne(t, store)

	require.NoError(t, rm.Resolve(ctx, evt, nil))

	got, err := store.Events().Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusDone, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.Zero(t, notifier.count())
}

func TestResolveTransientSchedulesBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	store, notifier, rm := newRetryFixture(t, pipeline.RetryConfig{MaxAttempts: 5, BaseDelay: base})
	ctx := context.Background()
	evt := claimOne(t, store)

	before := time.Now()
	require.NoError(t, rm.Resolve(ctx, evt, errors.Transient("vendor timed out", nil)))

	got, err := store.Events().Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.ClaimedBy)

	// attempt 1 doubles the base once, plus jitter up to half the delay
	require.NotNil(t, got.NextAttemptAt)
	delay := got.NextAttemptAt.Sub(before)
	assert.GreaterOrEqual(t, delay, 2*base)
	assert.Less(t, delay, 3*base+time.Second)

	recs, err := store.Errors().ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ErrorSeverityLow, recs[0].Severity)
	assert.Equal(t, "transient", recs[0].ErrorKind)
	assert.Zero(t, notifier.count())
}

func TestResolveExhaustedBudgetDeadLetters(t *testing.T) {
	store, notifier, rm := newRetryFixture(t, pipeline.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond})
	ctx := context.Background()
	evt := claimOne(t, store)

	// Simulate the claim of an event that already burned four attempts.
	require.NoError(t, store.Events().Release(ctx, evt.ID, 4, time.Now().Add(-time.Second), "still failing"))
	evt, err := store.Events().Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, evt)
	require.Equal(t, 4, evt.AttemptCount)

	require.NoError(t, rm.Resolve(ctx, evt, errors.Transient("vendor timed out", nil)))

	got, err := store.Events().Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusDeadLetter, got.Status)
	assert.Equal(t, 5, got.AttemptCount)

	recs, err := store.Errors().ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	var critical int
	for _, r := range recs {
		if r.Severity == model.ErrorSeverityCritical {
			critical++
		}
	}
	assert.Equal(t, 1, critical, "dead-letter writes exactly one critical error record")
	assert.Equal(t, 1, notifier.count())
}

func TestResolveFatalFailsImmediately(t *testing.T) {
	store, notifier, rm := newRetryFixture(t, pipeline.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond})
	ctx := context.Background()
	evt := claimOne(t, store)

	require.NoError(t, rm.Resolve(ctx, evt, errors.Fatal("api key rejected", nil)))

	got, err := store.Events().Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusFailed, got.Status)
	assert.Equal(t, 0, got.AttemptCount, "fatal errors spend no retry budget")

	recs, err := store.Errors().ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ErrorSeverityCritical, recs[0].Severity)
	assert.Equal(t, 1, notifier.count())
}

func TestResolveValidationFailsQuietly(t *testing.T) {
	store, notifier, rm := newRetryFixture(t, pipeline.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond})
	ctx := context.Background()
	evt := claimOne(t, store)

	require.NoError(t, rm.Resolve(ctx, evt, errors.Validation("mailbox does not exist", nil)))

	got, err := store.Events().Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusFailed, got.Status)

	recs, err := store.Errors().ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ErrorSeverityLow, recs[0].Severity)
	assert.Zero(t, notifier.count(), "business-rule failures do not page anyone")
}

// brokenErrorLog rejects every append, standing in for an error
// ledger that is down while events are still being settled.
type brokenErrorLog struct{}

func (brokenErrorLog) Append(context.Context, *model.ErrorRecord) error {
	return fmt.Errorf("error ledger unavailable")
}

func (brokenErrorLog) ListByEvent(context.Context, uuid.UUID) ([]*model.ErrorRecord, error) {
	return nil, nil
}

type brokenErrorStore struct {
	repository.Store
}

func (s *brokenErrorStore) Errors() repository.ErrorLog { return brokenErrorLog{} }

func (s *brokenErrorStore) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&brokenErrorStore{Store: tx})
	})
}

func TestResolveDeadLetterHoldsUntilErrorRecordLands(t *testing.T) {
	store := memory.NewStore()
	notifier := &fakeNotifier{}
	rm := pipeline.NewRetryManager(&brokenErrorStore{Store: store}, notifier,
		pipeline.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}, logger.NewLogger(nil))
	ctx := context.Background()
	evt := claimOne(t, store)

	require.NoError(t, store.Events().Release(ctx, evt.ID, 4, time.Now().Add(-time.Second), "still failing"))
	evt, err := store.Events().Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, evt)

	err = rm.Resolve(ctx, evt, errors.Transient("vendor timed out", nil))
	require.Error(t, err)

	// The event must not go dead-letter without its critical record:
	// it stays claimed for the sweeper to hand back out.
	got, err := store.Events().Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusProcessing, got.Status)
	assert.Zero(t, notifier.count())
}

func TestResolveUnclassifiedErrorRetries(t *testing.T) {
	store, _, rm := newRetryFixture(t, pipeline.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond})
	ctx := context.Background()
	evt := claimOne(t, store)

	require.NoError(t, rm.Resolve(ctx, evt, context.DeadlineExceeded))

	got, err := store.Events().Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPending, got.Status, "an ambiguous outcome is never treated as terminal")
	assert.Equal(t, 1, got.AttemptCount)
}
