package pipeline

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/jwalitptl/recordflow/internal/alert"
	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/internal/repository"
	"github.com/jwalitptl/recordflow/pkg/errors"
	"github.com/jwalitptl/recordflow/pkg/logger"
	"github.com/jwalitptl/recordflow/pkg/metrics"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// RetryManager is the single place that decides retry versus terminal
// failure for a dispatched event.
type RetryManager struct {
	store   repository.Store
	alerts  alert.Notifier
	cfg     RetryConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// SetMetrics attaches the pipeline metrics. Optional; nil is fine.
func (m *RetryManager) SetMetrics(mm *metrics.Metrics) {
	m.metrics = mm
}

func NewRetryManager(store repository.Store, alerts alert.Notifier, cfg RetryConfig, logger *logger.Logger) *RetryManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &RetryManager{
		store:  store,
		alerts: alerts,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve settles a claimed event after its handler returned.
func (m *RetryManager) Resolve(ctx context.Context, evt *model.Event, handleErr error) error {
	ledger := m.store.Events()

	if handleErr == nil {
		return ledger.MarkDone(ctx, evt.ID)
	}

	kind := errors.KindOf(handleErr)
	switch kind {
	case errors.KindFatal:
		// Retrying a misconfiguration wastes the budget without ever
		// succeeding. Fail now and page someone.
		if err := m.settle(ctx, evt, kind, model.ErrorSeverityCritical, handleErr,
			func(tx repository.Store) error {
				return tx.Events().MarkFailed(ctx, evt.ID, handleErr.Error())
			}); err != nil {
			return err
		}
		m.logger.Error(handleErr, "fatal handler error",
			"event_id", evt.ID.String(), "event_type", evt.EventType)
		m.notify(ctx, evt, model.EventStatusFailed, handleErr)
		return nil

	case errors.KindValidation:
		if err := m.settle(ctx, evt, kind, model.ErrorSeverityLow, handleErr,
			func(tx repository.Store) error {
				return tx.Events().MarkFailed(ctx, evt.ID, handleErr.Error())
			}); err != nil {
			return err
		}
		m.logger.Warn("business-rule failure",
			"event_id", evt.ID.String(), "event_type", evt.EventType, "error", handleErr.Error())
		return nil

	default:
		attempt := evt.AttemptCount + 1
		if attempt >= m.cfg.MaxAttempts {
			// Exactly one critical error record per dead-letter
			// transition; the row and the status flip commit together.
			if err := m.settle(ctx, evt, kind, model.ErrorSeverityCritical, handleErr,
				func(tx repository.Store) error {
					return tx.Events().MarkDeadLetter(ctx, evt.ID, handleErr.Error())
				}); err != nil {
				return err
			}
			m.logger.Error(handleErr, "event exhausted retry budget",
				"event_id", evt.ID.String(), "event_type", evt.EventType, "attempts", attempt)
			if m.metrics != nil {
				m.metrics.EventsDeadLettered.Inc()
			}
			m.notify(ctx, evt, model.EventStatusDeadLetter, handleErr)
			return nil
		}

		// The retry itself must not be blocked by an error-ledger
		// outage; this row is advisory.
		if err := m.appendError(ctx, m.store, evt, kind, model.ErrorSeverityLow, handleErr); err != nil {
			m.logger.Error(err, "failed to append error record", "event_id", evt.ID.String())
		}
		delay := m.backoff(attempt)
		m.logger.Debug("scheduling retry",
			"event_id", evt.ID.String(), "attempt", attempt, "delay", delay.String())
		return ledger.Release(ctx, evt.ID, attempt, m.now().Add(delay), handleErr.Error())
	}
}

// settle commits a terminal status together with its error record. On
// failure the event stays claimed; the sweeper reclaims it and the
// outcome is re-decided.
func (m *RetryManager) settle(ctx context.Context, evt *model.Event, kind errors.Kind, severity string,
	cause error, mark func(repository.Store) error) error {
	return m.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := m.appendError(ctx, tx, evt, kind, severity, cause); err != nil {
			return err
		}
		return mark(tx)
	})
}

// backoff computes base_delay * 2^attempt with added random jitter so
// retries of a burst of failures do not reclaim in lockstep.
func (m *RetryManager) backoff(attempt int) time.Duration {
	delay := m.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

func (m *RetryManager) appendError(ctx context.Context, store repository.Store, evt *model.Event, kind errors.Kind, severity string, cause error) error {
	detail, _ := json.Marshal(map[string]string{"message": cause.Error()})
	record := &model.ErrorRecord{
		EventID:   evt.ID,
		Stage:     StageFor(evt.EventType),
		ErrorKind: kind.String(),
		Severity:  severity,
		Detail:    detail,
	}
	return store.Errors().Append(ctx, record)
}

func (m *RetryManager) notify(ctx context.Context, evt *model.Event, status model.EventStatus, cause error) {
	evtCopy := *evt
	evtCopy.Status = status
	if err := m.alerts.CriticalEvent(ctx, &evtCopy, cause.Error()); err != nil {
		m.logger.Error(err, "failed to send critical alert", "event_id", evt.ID.String())
	}
}
