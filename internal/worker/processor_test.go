package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/recordflow/internal/alert"
	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/pipeline"
	"github.com/jwalitptl/recordflow/internal/repository/memory"
	"github.com/jwalitptl/recordflow/internal/worker"
	"github.com/jwalitptl/recordflow/pkg/logger"
	"github.com/jwalitptl/recordflow/pkg/metrics"
)

type countingHandler struct {
	mu    sync.Mutex
	seen  map[uuid.UUID]int
	block chan struct{}
}

func newCountingHandler() *countingHandler {
	return &countingHandler{seen: make(map[uuid.UUID]int)}
}

func (h *countingHandler) Stage() string { return "validate" }

func (h *countingHandler) Handle(ctx context.Context, evt *model.Event, payload interface{}) error {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[evt.ID]++
	return nil
}

func (h *countingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int
	for _, c := range h.seen {
		n += c
	}
	return n
}

func enqueueRecordCreated(t *testing.T, store *memory.Store, recordID string) uuid.UUID {
	t.Helper()
	evt, err := pipeline.NewEvent(model.EventRecordCreated, model.EntityTypeRecord, recordID, pipeline.RecordCreatedPayload{
		RecordID: recordID,
		Name:     "Acme",
		Domain:   "acme.test",
	})
	require.NoError(t, err)
	require.NoError(t, store.Events().Enqueue(context.Background(), evt))
	return evt.ID
}

func TestClaimIsExclusive(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	const backlog = 5
	for i := 0; i < backlog; i++ {
		enqueueRecordCreated(t, store, "CREIN-00000001-AAAA-000"+string(rune('0'+i)))
	}

	var mu sync.Mutex
	claims := make(map[uuid.UUID][]string)

	var wg sync.WaitGroup
	for w := 0; w < 20; w++ {
		wg.Add(1)
		workerID := "worker-" + string(rune('a'+w))
		go func() {
			defer wg.Done()
			for {
				evt, err := store.Events().Claim(ctx, workerID)
				if !assert.NoError(t, err) {
					return
				}
				if evt == nil {
					return
				}
				mu.Lock()
				claims[evt.ID] = append(claims[evt.ID], workerID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claims, backlog, "every event claimed")
	for id, claimants := range claims {
		assert.Len(t, claimants, 1, "event %s claimed more than once", id)
	}
}

func TestProcessorDrainsBacklog(t *testing.T) {
	store := memory.NewStore()
	log := logger.NewLogger(nil)
	m := metrics.NewFor("recordflow_test", prometheus.NewRegistry())

	h := newCountingHandler()
	dispatcher := pipeline.NewDispatcher(log)
	dispatcher.Register(model.EventRecordCreated, h)
	retry := pipeline.NewRetryManager(store, alert.Nop{}, pipeline.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}, log)

	ids := make([]uuid.UUID, 0, 3)
	for i := 0; i < 3; i++ {
		ids = append(ids, enqueueRecordCreated(t, store, "CREIN-00000001-AAAA-100"+string(rune('0'+i))))
	}

	p := worker.NewProcessor(store, dispatcher, retry, nil, worker.Config{
		WorkerID:     "w-test",
		PollInterval: 5 * time.Millisecond,
	}, log, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return h.total() == 3
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	for _, id := range ids {
		got, err := store.Events().Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.EventStatusDone, got.Status)
	}
}

func TestProcessorPicksUpLateEnqueueOnPoll(t *testing.T) {
	store := memory.NewStore()
	log := logger.NewLogger(nil)
	m := metrics.NewFor("recordflow_test", prometheus.NewRegistry())

	h := newCountingHandler()
	dispatcher := pipeline.NewDispatcher(log)
	dispatcher.Register(model.EventRecordCreated, h)
	retry := pipeline.NewRetryManager(store, alert.Nop{}, pipeline.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}, log)

	p := worker.NewProcessor(store, dispatcher, retry, nil, worker.Config{
		WorkerID:     "w-test",
		PollInterval: 5 * time.Millisecond,
	}, log, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	// Enqueue after the worker is already idle; the poll tick must
	// find it without any wake hint.
	time.Sleep(20 * time.Millisecond)
	id := enqueueRecordCreated(t, store, "CREIN-00000001-AAAA-2000")

	require.Eventually(t, func() bool {
		got, err := store.Events().Get(context.Background(), id)
		return err == nil && got.Status == model.EventStatusDone
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSweeperReclaimsAbandonedClaims(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	id := enqueueRecordCreated(t, store, "CREIN-00000001-AAAA-3000")
	claimed, err := store.Events().Claim(ctx, "w-dead")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	s := worker.NewSweeper(store.Events(), time.Second, time.Millisecond, logger.NewLogger(nil), nil)
	time.Sleep(5 * time.Millisecond)
	s.Sweep(ctx)

	got, err := store.Events().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount, "a reclaim spends one attempt")
	assert.Nil(t, got.ClaimedBy)

	// A fresh claim is not stale and must survive the sweep.
	reclaimedOnce, err := store.Events().Claim(ctx, "w-live")
	require.NoError(t, err)
	require.NotNil(t, reclaimedOnce)
	longLiveness := worker.NewSweeper(store.Events(), time.Second, time.Minute, logger.NewLogger(nil), nil)
	longLiveness.Sweep(ctx)

	got, err = store.Events().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusProcessing, got.Status)
	assert.Equal(t, "w-live", *got.ClaimedBy)
}

func TestHeartbeatKeepsClaimFresh(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	id := enqueueRecordCreated(t, store, "CREIN-00000001-AAAA-4000")
	claimed, err := store.Events().Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	firstClaim := *claimed.ClaimedAt

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.Events().Heartbeat(ctx, id, "w1"))

	got, err := store.Events().Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.ClaimedAt)
	assert.True(t, got.ClaimedAt.After(firstClaim))

	// Only the claim holder may refresh it.
	require.NoError(t, store.Events().Heartbeat(ctx, id, "w2"))
	after, err := store.Events().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, *got.ClaimedAt, *after.ClaimedAt)
}
