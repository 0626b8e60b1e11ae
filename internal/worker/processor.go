package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/pipeline"
	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/pkg/errors"
	"github.com/jwalitptl/recordflow/pkg/logger"
	"github.com/jwalitptl/recordflow/pkg/messaging"
	"github.com/jwalitptl/recordflow/pkg/metrics"
)

type Config struct {
	WorkerID             string
	PollInterval         time.Duration
	DispatchTimeout      time.Duration
	ClaimLivenessTimeout time.Duration
}

// Processor runs the worker loop: wait for a wake hint or the poll
// timeout, claim one event, dispatch it, settle the outcome. The
// worker id is explicit; nothing is read from ambient state.
type Processor struct {
	store      repository.Store
	dispatcher *pipeline.Dispatcher
	retry      *pipeline.RetryManager
	broker     messaging.Broker
	cfg        Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewProcessor(
	store repository.Store,
	dispatcher *pipeline.Dispatcher,
	retry *pipeline.RetryManager,
	broker messaging.Broker,
	cfg Config,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if cfg.ClaimLivenessTimeout <= 0 {
		cfg.ClaimLivenessTimeout = 2 * time.Minute
	}
	return &Processor{
		store:      store,
		dispatcher: dispatcher,
		retry:      retry,
		broker:     broker,
		cfg:        cfg,
		logger:     logger.WithFields(map[string]interface{}{"worker_id": cfg.WorkerID}),
		metrics:    m,
	}
}

func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("worker started")

	hints := p.subscribe(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	// Drain once at startup to pick up a backlog without waiting for
	// the first tick.
	p.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker shutting down")
			return
		case _, ok := <-hints:
			if !ok {
				hints = nil
				continue
			}
			p.metrics.SignalsReceived.Inc()
			p.drain(ctx)
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// subscribe attaches to the signal channel, retrying with backoff. A
// worker without a broker (or one that never connects) still makes
// progress on the poll timeout alone.
func (p *Processor) subscribe(ctx context.Context) <-chan string {
	if p.broker == nil {
		return nil
	}

	var hints <-chan string
	operation := func() error {
		ch, err := p.broker.Subscribe(ctx, messaging.ChannelRecordEvents, messaging.ChannelSlotEvents)
		if err != nil {
			return err
		}
		hints = ch
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		p.logger.Warn("signal channel unavailable, falling back to polling", "error", err.Error())
		return nil
	}
	return hints
}

// drain claims and processes events until the ledger reports nothing
// pending. Cascaded events enqueued by handlers are picked up within
// the same drain.
func (p *Processor) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		evt, err := p.store.Events().Claim(ctx, p.cfg.WorkerID)
		if err != nil {
			p.logger.Error(err, "failed to claim event")
			return
		}
		if evt == nil {
			break
		}
		p.process(ctx, evt)
	}

	if pending, err := p.store.Events().PendingCount(ctx); err == nil {
		p.metrics.QueueSize.Set(float64(pending))
	}
}

func (p *Processor) process(ctx context.Context, evt *model.Event) {
	p.metrics.EventsClaimed.Inc()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.heartbeat(hbCtx, evt)

	dispatchCtx, cancel := context.WithTimeout(ctx, p.cfg.DispatchTimeout)
	timer := prometheus.NewTimer(p.metrics.StageLatency.WithLabelValues(evt.EventType))
	err := p.dispatcher.Dispatch(dispatchCtx, evt)
	timer.ObserveDuration()
	cancel()
	stopHeartbeat()

	if err == nil {
		p.metrics.EventsProcessed.WithLabelValues(evt.EventType).Inc()
	} else {
		kind := errors.KindOf(err)
		p.metrics.EventsFailed.WithLabelValues(evt.EventType, kind.String()).Inc()
		if kind == errors.KindTransient {
			p.metrics.EventsRetried.WithLabelValues(evt.EventType).Inc()
		}
	}

	if resolveErr := p.retry.Resolve(ctx, evt, err); resolveErr != nil {
		p.logger.Error(resolveErr, "failed to settle event outcome",
			"event_id", evt.ID.String())
	}
}

// heartbeat refreshes the claim while the handler runs so the sweeper
// does not hand the event to another worker mid-flight.
func (p *Processor) heartbeat(ctx context.Context, evt *model.Event) {
	interval := p.cfg.ClaimLivenessTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.Events().Heartbeat(ctx, evt.ID, p.cfg.WorkerID); err != nil {
				p.logger.Debug("heartbeat failed",
					"event_id", evt.ID.String(), "error", err.Error())
			}
		}
	}
}
