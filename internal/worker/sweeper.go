package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/pkg/logger"
	"github.com/jwalitptl/recordflow/pkg/metrics"
)

// Sweeper returns events abandoned by a dead worker to pending. An
// event is abandoned once its claim heartbeat goes stale past the
// liveness timeout; the reclaim counts as an attempt.
type Sweeper struct {
	ledger   repository.EventLedger
	interval time.Duration
	liveness time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewSweeper(ledger repository.EventLedger, interval, liveness time.Duration, logger *logger.Logger, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if liveness <= 0 {
		liveness = 2 * time.Minute
	}
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
		liveness: liveness,
		logger:   logger,
		metrics:  m,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.liveness)
	reclaimed, err := s.ledger.ReclaimAbandoned(ctx, cutoff)
	if err != nil {
		s.logger.Error(err, "failed to reclaim abandoned events")
		return
	}
	if reclaimed > 0 {
		s.logger.Warn("reclaimed abandoned events", "count", reclaimed)
		if s.metrics != nil {
			s.metrics.EventsReclaimed.Add(float64(reclaimed))
		}
	}
}
